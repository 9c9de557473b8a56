// File: internal/infra/bus/bus.go
package bus

import (
	"sync"

	"github.com/rs/zerolog"

	"ostrid-adapter/internal/domain/model"
	"ostrid-adapter/internal/infra/metrics"
)

// Sink receives every published event, in publish order. Lifecycle
// operations on one job are serialized, so per-job delivery order here is
// the order the lifecycle manager produced the events in.
type Sink interface {
	Deliver(e *model.JobEvent)
	Finished(contextID string)
}

// Bus fans lifecycle events out to sinks and per-context subscriber
// channels. It carries no business logic.
type Bus struct {
	mu      sync.RWMutex
	sinks   []Sink
	streams map[string][]chan *model.JobEvent // keyed by context id
	log     *zerolog.Logger
}

func New(logger *zerolog.Logger) *Bus {
	l := logger.With().Str("component", "EventBus").Logger()
	return &Bus{streams: make(map[string][]chan *model.JobEvent), log: &l}
}

// AddSink registers a push sink. Call before publishing starts.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Subscribe returns a buffered channel of events for one context id and a
// cancel func. Slow subscribers drop events rather than block publishers.
func (b *Bus) Subscribe(contextID string) (<-chan *model.JobEvent, func()) {
	ch := make(chan *model.JobEvent, 64)
	b.mu.Lock()
	b.streams[contextID] = append(b.streams[contextID], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.streams[contextID]
		for i, c := range subs {
			if c == ch {
				b.streams[contextID] = append(subs[:i], subs[i+1:]...)
				close(c)
				break
			}
		}
		if len(b.streams[contextID]) == 0 {
			delete(b.streams, contextID)
		}
	}
	return ch, cancel
}

// record translates lifecycle events into transition counters.
func record(e *model.JobEvent) {
	switch e.Type {
	case model.EventJobRaised:
		metrics.IncJobTransition("raised")
	case model.EventDiscoveryStarted:
		metrics.IncJobTransition("discovering")
	case model.EventCandidatesFound:
		metrics.IncJobTransition("negotiating")
	case model.EventWinnerSelected:
		metrics.IncJobTransition("escrow_pending")
	case model.EventEscrowConfirmed:
		metrics.IncJobTransition("validating")
	case model.EventJobSettled:
		metrics.IncJobTransition("settled")
	case model.EventJobDisputed:
		metrics.IncJobTransition("disputed")
	case model.EventJobCancelled:
		metrics.IncJobTransition("cancelled")
		reason, _ := e.Payload["reason"].(string)
		metrics.IncJobCancelled(reason)
	}
}

func (b *Bus) Publish(e *model.JobEvent) {
	record(e)

	b.mu.RLock()
	sinks := b.sinks
	subs := b.streams[e.ContextID]
	b.mu.RUnlock()

	for _, s := range sinks {
		s.Deliver(e)
	}
	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			b.log.Warn().Str("context_id", e.ContextID).Str("event", string(e.Type)).Msg("subscriber full, event dropped")
		}
	}
}

// Finished marks the end of the current interaction's event stream.
func (b *Bus) Finished(contextID string) {
	b.mu.Lock()
	subs := b.streams[contextID]
	delete(b.streams, contextID)
	sinks := b.sinks
	b.mu.Unlock()

	for _, s := range sinks {
		s.Finished(contextID)
	}
	for _, ch := range subs {
		close(ch)
	}
}
