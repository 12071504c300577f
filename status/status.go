// Package status reports process liveness data (uptime, memory, goroutines)
// to the tools that surface it. Tools receive a Provider instead of reading
// the Go runtime directly so they can be tested against fixed snapshots.
package status

import (
	"runtime"
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

// Memory mirrors the subset of runtime.MemStats surfaced by status tools.
type Memory struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"totalAlloc"`
	Sys        uint64 `json:"sys"`
	HeapAlloc  uint64 `json:"heapAlloc"`
	HeapInuse  uint64 `json:"heapInuse"`
	NumGC      uint32 `json:"numGC"`
}

// Snapshot is a point-in-time view of the process.
type Snapshot struct {
	Status     string    `json:"status"`
	Uptime     float64   `json:"uptime"`
	Memory     Memory    `json:"memory"`
	Goroutines int       `json:"goroutines"`
	Timestamp  time.Time `json:"timestamp"`
}

// Provider supplies status snapshots.
type Provider interface {
	Snapshot() Snapshot
	Now() time.Time
}

// RuntimeProvider reads live data from the Go runtime.
type RuntimeProvider struct {
	started time.Time
	clock   Clock
}

// NewRuntimeProvider returns a provider whose uptime is measured from now.
// A nil clock uses time.Now.
func NewRuntimeProvider(clock Clock) *RuntimeProvider {
	if clock == nil {
		clock = time.Now
	}
	return &RuntimeProvider{
		started: clock(),
		clock:   clock,
	}
}

// Now returns the provider clock's current time in UTC.
func (p *RuntimeProvider) Now() time.Time {
	return p.clock().UTC()
}

// Snapshot reads uptime, memory statistics, and goroutine count.
func (p *RuntimeProvider) Snapshot() Snapshot {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	now := p.clock()
	return Snapshot{
		Status: "running",
		Uptime: now.Sub(p.started).Seconds(),
		Memory: Memory{
			Alloc:      stats.Alloc,
			TotalAlloc: stats.TotalAlloc,
			Sys:        stats.Sys,
			HeapAlloc:  stats.HeapAlloc,
			HeapInuse:  stats.HeapInuse,
			NumGC:      stats.NumGC,
		},
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  now.UTC(),
	}
}

// Fixed always returns the same snapshot. It is useful in tests and for
// deterministic tool output.
type Fixed struct {
	Value Snapshot
}

// Now returns the snapshot timestamp.
func (f Fixed) Now() time.Time {
	return f.Value.Timestamp
}

// Snapshot returns the fixed value.
func (f Fixed) Snapshot() Snapshot {
	return f.Value
}

var (
	_ Provider = (*RuntimeProvider)(nil)
	_ Provider = Fixed{}
)
