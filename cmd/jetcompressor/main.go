// Command jetcompressor connects to a relay from cursor 0, collects up to
// 20,000 frame payloads, and reports how a single-byte substitution table
// compresses them, as groundwork for an eventual on-wire compression
// option (see the Compressor doc comment in compressor.go for scope).
package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/gorilla/websocket"
)

const maxPayloads = 20_000

func main() {
	train := flag.Bool("train", false, "train a fresh table on the collected payloads instead of using the preset")
	print := flag.Bool("print", false, "print each payload alongside its compressed form")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: jetcompressor [-train] [-print] <url>")
		os.Exit(2)
	}

	u, err := url.Parse(flag.Arg(0))
	if err != nil {
		log.Fatalf("jetcompressor: parsing URL: %v", err)
	}
	q := u.Query()
	q.Set("cursor", "0")
	u.RawQuery = q.Encode()

	payloads, err := collect(u.String(), maxPayloads)
	if err != nil {
		log.Fatalf("jetcompressor: %v", err)
	}

	var cmprsr *Compressor
	if *train {
		fmt.Printf("Training on %d frames...\n", len(payloads))
		cmprsr = TrainCompressor(payloads)
		fmt.Println()
		fmt.Println("Freshly-trained:")
	} else {
		fmt.Println("Preset:")
		cmprsr = NewCompressor(presetOrder)
	}

	if *print {
		for _, payload := range payloads {
			compressed := cmprsr.Compress(payload)
			fmt.Printf("%x <<< %s\n", compressed, payload)
		}
	}
	fmt.Println(cmprsr)
	evaluate(payloads, cmprsr)
}

// collect subscribes to rawURL and returns up to max text-frame payloads.
func collect(rawURL string, max int) ([][]byte, error) {
	conn, _, err := websocket.DefaultDialer.Dial(rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", rawURL, err)
	}
	defer conn.Close()

	payloads := make([][]byte, 0, max)
	for len(payloads) < max {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("reading frame: %w", err)
		}
		if kind != websocket.TextMessage {
			return nil, fmt.Errorf("unexpected frame kind %d", kind)
		}
		cp := make([]byte, len(payload))
		copy(cp, payload)
		payloads = append(payloads, cp)
	}
	return payloads, nil
}

func evaluate(payloads [][]byte, cmprsr *Compressor) {
	var before, after int
	for _, payload := range payloads {
		compressed := cmprsr.Compress(payload)
		before += len(payload)
		after += len(compressed)
	}
	ratio(before, after)
}

func ratio(before, after int) {
	fmt.Printf("%d => %d (%.1f%%)\n", before, after, float64(after)/float64(before)*100)
}
