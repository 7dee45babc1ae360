package marketdata

import (
	"sync"

	"github.com/ashwalker/pairbot/internal/domain"
)

// ConflatingQueue buffers inbound quotes between the venue adapter goroutine
// and the core loop with keep-latest-per-instrument semantics: when the
// consumer falls behind, newer quotes for an instrument overwrite the queued
// one instead of growing the queue. Order callbacks never pass through here;
// they are never safe to drop.
type ConflatingQueue struct {
	mu      sync.Mutex
	pending map[domain.InstrumentID]domain.VenueQuote
	order   []domain.InstrumentID
	notify  chan struct{}
}

// NewConflatingQueue creates an empty queue. The hint sizes the internal
// buffers; the queue itself is bounded by the number of distinct instruments.
func NewConflatingQueue(hint int) *ConflatingQueue {
	if hint <= 0 {
		hint = 16
	}
	return &ConflatingQueue{
		pending: make(map[domain.InstrumentID]domain.VenueQuote, hint),
		order:   make([]domain.InstrumentID, 0, hint),
		notify:  make(chan struct{}, 1),
	}
}

// Push enqueues a quote, replacing any queued quote for the same instrument.
func (q *ConflatingQueue) Push(quote domain.VenueQuote) {
	q.mu.Lock()
	if _, ok := q.pending[quote.Instrument]; !ok {
		q.order = append(q.order, quote.Instrument)
	}
	q.pending[quote.Instrument] = quote
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest queued quote. The second return is
// false when the queue is empty.
func (q *ConflatingQueue) Pop() (domain.VenueQuote, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		return domain.VenueQuote{}, false
	}
	id := q.order[0]
	q.order = q.order[1:]
	quote := q.pending[id]
	delete(q.pending, id)
	return quote, true
}

// Wait returns a channel that receives a token whenever the queue goes from
// empty to non-empty. Consumers select on it alongside their other inputs.
func (q *ConflatingQueue) Wait() <-chan struct{} {
	return q.notify
}

// Len returns the number of queued instruments.
func (q *ConflatingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
