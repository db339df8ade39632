// Package stream fan-outs committed donation events to SSE subscribers.
// Publishing never blocks the donation path; a slow subscriber loses events
// rather than stalling the ledger.
package stream

import (
	"context"
	"sync"
	"time"

	"healthpal.org/internal/ledger"
)

// DonationEvent describes a committed donation for live dashboards.
type DonationEvent struct {
	CaseID    string            `json:"case_id"`
	Amount    int64             `json:"amount"`
	Total     int64             `json:"total"`
	Goal      int64             `json:"goal"`
	Status    ledger.CaseStatus `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
}

const subscriberBuffer = 16

// Stream is the in-process fan-out hub.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan DonationEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan DonationEvent)}
}

// Publish delivers the event to every subscriber with room in its buffer.
func (s *Stream) Publish(ev DonationEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// drop for this subscriber
		}
	}
}

// Subscribe registers a new subscriber bound to ctx. The returned channel
// closes when ctx is done.
func (s *Stream) Subscribe(ctx context.Context) <-chan DonationEvent {
	ch := make(chan DonationEvent, subscriberBuffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Subscribers reports the current subscriber count.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
