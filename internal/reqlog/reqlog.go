// Package reqlog keeps a bounded, ordered record of completed requests.
// Entries are never mutated after insertion, so readers only contend with the
// insert itself.
package reqlog

import (
	"sync"

	"nexusd/pkg/types"
)

// DefaultCapacity is the fixed size of the request log.
const DefaultCapacity = 100

// Log is a fixed-capacity, newest-first request record.
type Log struct {
	mu      sync.Mutex
	cap     int
	nextID  uint64
	entries []types.LogEntry
}

// New builds a log with the given capacity; 0 means DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{cap: capacity, entries: make([]types.LogEntry, 0, capacity)}
}

// Add inserts an entry at the head, assigning its sequence id. The oldest
// entry is evicted once the log is at capacity.
func (l *Log) Add(e types.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	e.ID = l.nextID
	if len(l.entries) == l.cap {
		l.entries = l.entries[:l.cap-1]
	}
	l.entries = append([]types.LogEntry{e}, l.entries...)
}

// Recent returns up to k entries, newest first. k <= 0 returns everything.
func (l *Log) Recent(k int) []types.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if k <= 0 || k > len(l.entries) {
		k = len(l.entries)
	}
	out := make([]types.LogEntry, k)
	copy(out, l.entries[:k])
	return out
}

// Len reports the current number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
