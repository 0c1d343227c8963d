package main

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	c := NewCompressor(presetOrder)
	payload := []byte(`{"time_us":1234,"did":"abc"}`)

	compressed := c.Compress(payload)
	if len(compressed) != len(payload) {
		t.Fatalf("length changed: got %d, want %d", len(compressed), len(payload))
	}
	if got := c.Decompress(compressed); !bytes.Equal(got, payload) {
		t.Errorf("round trip mismatch: got %q, want %q", got, payload)
	}
}

func TestNewCompressorIsAPermutation(t *testing.T) {
	c := NewCompressor(presetOrder)
	var seen [256]bool
	for _, rank := range c.mapTo {
		if seen[rank] {
			t.Fatalf("rank %d assigned twice", rank)
		}
		seen[rank] = true
	}
}

func TestTrainCompressorRanksFrequentBytesFirst(t *testing.T) {
	payloads := [][]byte{[]byte("aaaa bbbb c")}
	c := TrainCompressor(payloads)
	if !c.trained {
		t.Fatal("expected trained flag set")
	}
	if c.mapTo['a'] >= c.mapTo['c'] {
		t.Error("more frequent byte should get a lower rank")
	}
}
