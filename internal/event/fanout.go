package event

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Fanout delivers every published event to each sink in turn.
//
// Publish is synchronous. Sinks are expected to be quick; the InfluxDB sink
// only enqueues, the journal does one insert and MQTT publishes are bounded
// by the client's timeout.
type Fanout struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger Logger
	now    func() time.Time
}

// NewFanout creates a fanout over the given sinks.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{
		sinks:  sinks,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger used for sink failures.
func (f *Fanout) SetLogger(logger Logger) {
	f.logger = logger
}

// Add appends a sink.
func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

// Publish stamps e with the current time if unset and writes it to every
// sink. Errors are logged.
func (f *Fanout) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = f.now().UTC()
	}

	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Write(ctx, e); err != nil {
			f.logger.Warn("event sink write failed",
				"sink", s.Name(),
				"kind", string(e.Kind),
				"error", err,
			)
		}
	}
}

// Recorder is an in-memory sink. The zero value keeps every event; one from
// NewRecorder keeps only the most recent.
type Recorder struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

// NewRecorder returns a recorder holding at most limit events.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Name implements Sink.
func (*Recorder) Name() string { return "recorder" }

// Write implements Sink.
func (r *Recorder) Write(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = slices.Delete(r.events, 0, len(r.events)-r.limit)
	}
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded event kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}
