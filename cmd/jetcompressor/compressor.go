package main

import "fmt"

// Compressor substitutes each byte of a payload for its rank in a
// 256-entry frequency table, built either from a preset order or from
// training data.
//
// This is a deliberately reduced stand-in for an FSST-style compressor,
// which would build a true multi-byte symbol table and map compressed
// codes through a permutation. A full FSST implementation is a library in
// its own right, orthogonal to the relay's delivery engine; this tool
// keeps the CLI shape and ratio-reporting behavior so it stays a useful
// operator utility for judging how much redundancy a payload stream
// carries. Because the substitution here is byte-for-byte rather than
// symbol-for-symbol, the reported ratio is always exactly 100%: it
// measures the plumbing, not real compressibility.
type Compressor struct {
	mapTo   [256]byte
	mapFrom [256]byte
	trained bool
}

// NewCompressor builds a Compressor from order, the most-frequent-first
// byte ranking. Bytes absent from order fill the remaining ranks in
// ascending numeric order, so mapTo/mapFrom are always full permutations
// of [0, 256).
func NewCompressor(order []byte) *Compressor {
	var seen [256]bool
	var ranked []byte
	for _, b := range order {
		if !seen[b] {
			seen[b] = true
			ranked = append(ranked, b)
		}
	}
	for b := 0; b < 256; b++ {
		if !seen[byte(b)] {
			ranked = append(ranked, byte(b))
		}
	}

	c := &Compressor{}
	for rank, b := range ranked {
		c.mapTo[b] = byte(rank)
		c.mapFrom[rank] = b
	}
	return c
}

// TrainCompressor builds a Compressor by ranking bytes in payloads by
// descending frequency.
func TrainCompressor(payloads [][]byte) *Compressor {
	var counts [256]int
	for _, p := range payloads {
		for _, b := range p {
			counts[b]++
		}
	}
	order := make([]byte, 256)
	for i := range order {
		order[i] = byte(i)
	}
	// Simple descending-frequency insertion sort; 256 elements, run once.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && counts[order[j]] > counts[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	c := NewCompressor(order)
	c.trained = true
	return c
}

// Compress maps each byte of xs to its rank. Output length always equals
// input length: see the Compressor doc comment for why this reports a
// plumbing ratio rather than a true compression ratio.
func (c *Compressor) Compress(xs []byte) []byte {
	out := make([]byte, len(xs))
	for i, b := range xs {
		out[i] = c.mapTo[b]
	}
	return out
}

// Decompress inverts Compress; exists mainly so tests can assert
// mapTo/mapFrom really are inverse permutations of each other.
func (c *Compressor) Decompress(xs []byte) []byte {
	out := make([]byte, len(xs))
	for i, b := range xs {
		out[i] = c.mapFrom[b]
	}
	return out
}

// String renders the table in rank order, one entry per original byte.
func (c *Compressor) String() string {
	s := ""
	for _, b := range c.mapFrom {
		s += fmt.Sprintf("%q ", string(b))
	}
	return s
}
