package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/factrule/internal/ir"
)

// Sink receives the messages of a run. The processor calls Emit from a
// single goroutine, in sequence order.
type Sink interface {
	Emit(ctx context.Context, msg ir.Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msg ir.Message) error

func (f SinkFunc) Emit(ctx context.Context, msg ir.Message) error { return f(ctx, msg) }

// Collector keeps messages in memory.
type Collector struct {
	mu   sync.Mutex
	msgs []ir.Message
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Emit(_ context.Context, msg ir.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

// Messages returns a copy of everything emitted so far.
func (c *Collector) Messages() []ir.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.msgs)
}

// ForRule returns the messages of one rule.
func (c *Collector) ForRule(rule string) []ir.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ir.Message
	for _, m := range c.msgs {
		if m.Rule == rule {
			out = append(out, m)
		}
	}
	return out
}

// Tee emits every message to each sink in turn and stops at the first error.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, msg ir.Message) error {
		for _, s := range sinks {
			if err := s.Emit(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	})
}
