// Command jettester opens N concurrent downstream subscriptions against a
// running relay and reports the worst per-worker lag behind wall clock and
// the aggregate event rate, once a second. It is a plain consumer of the
// relay's public protocol, not part of the core engine.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// workerState tracks one subscription's most recently observed event
// timestamp (microseconds since epoch) and total event count.
type workerState struct {
	timestampMicros atomic.Uint64 // math.MaxUint64 sentinel means "no data yet"
	count           atomic.Uint64
}

const noData = ^uint64(0)

func main() {
	jobs := flag.Int("jobs", 1, "number of concurrent subscriptions")
	collection := flag.String("collection", "", "wantedCollections query parameter, repeatable via comma")
	buffer := flag.Duration("buffer", 0, "request replay starting this long before now (0 disables cursor)")
	wait := flag.Duration("wait", time.Millisecond, "delay between reconnect attempts")
	retries := flag.Int("retries", 5, "reconnect attempts per worker before giving up")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: jettester [flags] <url>")
		os.Exit(2)
	}

	u, err := url.Parse(flag.Arg(0))
	if err != nil {
		log.Fatalf("jettester: parsing URL: %v", err)
	}
	q := u.Query()
	if *buffer > 0 {
		cursor := time.Now().Add(-*buffer)
		fmt.Printf("Requesting msgs since %s\n", cursor.Format(time.RFC3339))
		q.Set("cursor", strconv.FormatInt(cursor.UnixMicro(), 10))
	}
	if *collection != "" {
		for _, c := range strings.Split(*collection, ",") {
			q.Add("wantedCollections", c)
		}
	}
	u.RawQuery = q.Encode()

	states := make([]*workerState, *jobs)
	for i := range states {
		s := &workerState{}
		s.timestampMicros.Store(noData)
		states[i] = s
		go runWorker(u, s, *retries, *wait)
	}

	start := time.Now()
	for range time.Tick(time.Second) {
		reportLag(states, start)
	}
}

// runWorker subscribes and feeds every received event's time_us and count
// into state, retrying up to retries times with a wait between attempts.
func runWorker(u *url.URL, state *workerState, retries int, wait time.Duration) {
	for i := 0; i <= retries; i++ {
		if err := worker(u, state); err != nil {
			log.Printf("jettester: %v", err)
		} else {
			log.Printf("jettester: connection closed by server")
		}
		time.Sleep(wait)
	}
}

func worker(u *url.URL, state *workerState) error {
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", u, err)
	}
	defer conn.Close()

	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			return fmt.Errorf("unexpected frame kind %d", kind)
		}
		ts := gjson.GetBytes(payload, "time_us").Uint()
		state.timestampMicros.Store(ts)
		state.count.Add(1)
	}
}

// reportLag prints the worst (oldest) timestamp across every worker that
// has received at least one event, plus the aggregate event rate since
// start.
func reportLag(states []*workerState, start time.Time) {
	oldestMicros := noData
	var totalCount uint64
	var active int

	for _, s := range states {
		ts := s.timestampMicros.Load()
		if ts < oldestMicros {
			oldestMicros = ts
		}
		totalCount += s.count.Load()
		if ts != noData {
			active++
		}
	}

	elapsed := time.Since(start)
	if oldestMicros == noData {
		fmt.Printf("Worst lag [%d]: -- no data --\n", active)
		return
	}
	rate := float64(totalCount) / elapsed.Seconds()
	oldest := time.UnixMicro(int64(oldestMicros))
	worstLag := time.Since(oldest)
	fmt.Printf("Worst lag [%d]: %s (%.0f ev/s)\n", active, worstLag, rate)
}
