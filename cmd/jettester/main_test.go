package main

import (
	"testing"
	"time"
)

func TestReportLagNoDataWhenAllStatesEmpty(t *testing.T) {
	states := []*workerState{{}, {}}
	for _, s := range states {
		s.timestampMicros.Store(noData)
	}
	// Only checking this doesn't panic; output goes to stdout.
	reportLag(states, time.Now())
}

func TestReportLagWithActiveWorkersDoesNotPanic(t *testing.T) {
	fast := &workerState{}
	fast.timestampMicros.Store(uint64(time.Now().UnixMicro()))
	fast.count.Store(100)

	slow := &workerState{}
	slow.timestampMicros.Store(uint64(time.Now().Add(-time.Minute).UnixMicro()))
	slow.count.Store(10)

	states := []*workerState{fast, slow}
	reportLag(states, time.Now().Add(-time.Second))
}
