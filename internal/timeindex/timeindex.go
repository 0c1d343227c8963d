// Package timeindex implements the ordered timestamp→offset mapping shared
// between the Upstream Copier (sole writer) and the Connection Acceptor
// (reader).
//
// Insert runs once per upstream frame while lookups run once per new
// client, so push speed matters and search only needs to be fast enough.
// A mutex-guarded sorted slice fits that profile: upstream timestamps
// arrive in (near-)monotonic order, so the common case is an O(1) append
// at the tail, with a binary-search insert only when an out-of-order
// timestamp arrives.
package timeindex

import "sync"

// entry is one (timestamp, offset) pair.
type entry struct {
	ts     uint64
	offset uint64
}

// Index is the ordered timestamp→offset map. Zero value is ready to use.
type Index struct {
	mu      sync.Mutex
	entries []entry
}

// New returns an empty Index.
func New() *Index {
	return &Index{}
}

// Insert records that the frame with the given timestamp starts at offset.
// If ts already has an entry, the later insertion wins: the index tolerates
// equal or out-of-order insertions without panicking.
func (idx *Index) Insert(ts, offset uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := len(idx.entries)
	if n == 0 || idx.entries[n-1].ts < ts {
		idx.entries = append(idx.entries, entry{ts: ts, offset: offset})
		return
	}

	i := idx.searchLocked(ts)
	if i < n && idx.entries[i].ts == ts {
		idx.entries[i].offset = offset
		return
	}
	idx.entries = append(idx.entries, entry{})
	copy(idx.entries[i+1:], idx.entries[i:])
	idx.entries[i] = entry{ts: ts, offset: offset}
}

// FirstOffsetAtOrAfter returns the offset of the smallest key >= ts, and
// true, or (0, false) if ts is past every retained timestamp.
func (idx *Index) FirstOffsetAtOrAfter(ts uint64) (uint64, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	i := idx.searchLocked(ts)
	if i >= len(idx.entries) {
		return 0, false
	}
	return idx.entries[i].offset, true
}

// TrimBefore removes every entry with key < ts and returns the largest
// removed offset, or (0, false) if nothing was removed. Idempotent: calling
// it twice with the same cutoff after the first trim is a no-op.
func (idx *Index) TrimBefore(ts uint64) (largestRemoved uint64, removed bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	i := idx.searchLocked(ts)
	if i == 0 {
		return 0, false
	}
	largestRemoved = idx.entries[i-1].offset
	// Copy the survivors into a fresh slice so the dropped prefix's backing
	// array can be freed.
	remaining := make([]entry, len(idx.entries)-i)
	copy(remaining, idx.entries[i:])
	idx.entries = remaining
	return largestRemoved, true
}

// NewestTimestamp returns the most recently inserted timestamp, or
// (0, false) if the index is empty.
func (idx *Index) NewestTimestamp() (uint64, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(idx.entries) == 0 {
		return 0, false
	}
	return idx.entries[len(idx.entries)-1].ts, true
}

// OldestTimestamp returns the earliest retained timestamp, or (0, false) if
// the index is empty.
func (idx *Index) OldestTimestamp() (uint64, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(idx.entries) == 0 {
		return 0, false
	}
	return idx.entries[0].ts, true
}

// Len returns the number of retained entries.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.entries)
}

// searchLocked returns the smallest index i such that entries[i].ts >= ts,
// or len(entries) if no such index exists. Caller must hold idx.mu.
func (idx *Index) searchLocked(ts uint64) int {
	lo, hi := 0, len(idx.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if idx.entries[mid].ts < ts {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
