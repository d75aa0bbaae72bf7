package bulk

import (
	"context"

	"github.com/noah-isme/cekresi/internal/shipping"
)

// EventKind tags an Event.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventResult   EventKind = "result"
	EventComplete EventKind = "complete"
)

// Event is a run notification delivered over a channel.
type Event struct {
	Kind    EventKind `json:"type"`
	Current int       `json:"current,omitempty"`
	Total   int       `json:"total,omitempty"`
	Result  *Result   `json:"result,omitempty"`
	Summary *Summary  `json:"summary,omitempty"`
}

// Stream submits ids to a new processor, starts it and returns its events.
// The channel is buffered for every event the run can produce, so a slow
// reader never stalls the run, and it is closed after the complete event.
// The returned processor can be used to Abort the run.
func Stream(ctx context.Context, lookup shipping.Provider, ids []string, opts ...Option) (<-chan Event, *Processor, error) {
	events := make(chan Event, 2*len(ids)+1)
	p := NewProcessor(lookup, Callbacks{
		OnProgress: func(current, total int) {
			events <- Event{Kind: EventProgress, Current: current, Total: total}
		},
		OnResult: func(r Result) {
			events <- Event{Kind: EventResult, Result: &r}
		},
		OnComplete: func(s Summary) {
			events <- Event{Kind: EventComplete, Current: s.Dispatched, Total: s.Total, Summary: &s}
			close(events)
		},
	}, opts...)
	if err := p.Submit(ids); err != nil {
		return nil, nil, err
	}
	p.Start(ctx)
	return events, p, nil
}
