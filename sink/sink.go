// Package sink writes finished records to their destinations. Every Sink is
// safe for concurrent use; Append calls are serialized so one record is
// fully written before the next begins.
package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/use-agent/propintel/models"
)

// Sink receives records as soon as they are final.
type Sink interface {
	Append(ctx context.Context, row models.Fields) error
	Close() error
}

// Multi fans a record out to several sinks under one lock, so every output
// sees records in the same order.
type Multi struct {
	mu    sync.Mutex
	sinks []Sink
}

// NewMulti combines sinks.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Append writes row to every sink. A failing sink does not stop the others.
func (m *Multi) Append(ctx context.Context, row models.Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, s := range m.sinks {
		if err := s.Append(ctx, row); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *Multi) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
