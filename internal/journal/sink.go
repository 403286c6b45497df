package journal

import (
	"context"

	"github.com/nerrad567/hdf-devmgr/internal/event"
)

// Sink writes lifecycle events to a journal repository.
type Sink struct {
	repo Repository
}

// NewSink creates an event sink backed by repo.
func NewSink(repo Repository) *Sink {
	return &Sink{repo: repo}
}

// Name implements event.Sink.
func (s *Sink) Name() string { return "journal" }

// Write implements event.Sink.
func (s *Sink) Write(ctx context.Context, e event.Event) error {
	return s.repo.Create(ctx, FromEvent(e))
}
