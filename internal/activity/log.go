// Package activity keeps a bounded history of cache lifecycle events.
package activity

import (
	"sync"
	"time"
)

type EventType string

const (
	EventEnable  EventType = "enable"
	EventDisable EventType = "disable"
	EventReclaim EventType = "reclaim"
	EventReset   EventType = "reset"
	EventConfig  EventType = "config"
)

type Event struct {
	Seq   uint64    `json:"seq"`
	At    time.Time `json:"at"`
	Type  EventType `json:"type"`
	Model string    `json:"model,omitempty"`
	Note  string    `json:"note,omitempty"`
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	Model string
	Type  EventType
	// AfterSeq drops events with Seq <= AfterSeq, for polling clients.
	AfterSeq uint64
	Limit    int
}

func (f Filter) match(e Event) bool {
	return (f.Model == "" || e.Model == f.Model) &&
		(f.Type == "" || e.Type == f.Type) &&
		e.Seq > f.AfterSeq
}

// Log is a fixed-capacity ring; the oldest event is overwritten first.
type Log struct {
	mu     sync.RWMutex
	events []Event
	seq    uint64
}

func New(size int) *Log {
	if size <= 0 {
		size = 200
	}
	return &Log{events: make([]Event, 0, size)}
}

// Add records e, assigning its sequence number and, when unset, its time.
func (l *Log) Add(e Event) Event {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	e.Seq = l.seq
	if len(l.events) < cap(l.events) {
		l.events = append(l.events, e)
	} else {
		l.events[int((l.seq-1)%uint64(cap(l.events)))] = e
	}
	return e
}

// List returns every retained event, newest first.
func (l *Log) List() []Event { return l.Query(Filter{}) }

// Query returns the retained events matching f, newest first.
func (l *Log) Query(f Filter) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Event
	n := uint64(len(l.events))
	for i := uint64(0); i < n; i++ {
		// Walk back from the slot written last.
		e := l.events[int((l.seq-1-i)%uint64(cap(l.events)))]
		if !f.match(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Last is the sequence number of the newest event, 0 when empty.
func (l *Log) Last() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}
