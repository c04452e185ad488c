// Package factindex provides an in-memory fact index.
//
// Memory keeps one posting list per (aspect key, value) pair and one list of
// carriers per aspect key, so every lookup of the factset matcher is a map
// access. It is the index used by tests, the harness and `factrule run
// --facts`.
package factindex

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/factrule/internal/ir"
)

// postingKey addresses one posting list.
type postingKey struct {
	key   ir.AspectKey
	value string
}

// Memory is an in-memory fact index.
//
// Thread-safety: Memory is safe for concurrent use. Add takes the write
// lock; lookups share the read lock.
type Memory struct {
	mu       sync.RWMutex
	facts    map[ir.FactID]*ir.Fact
	all      ir.FactSet
	postings map[postingKey]ir.FactSet
	carriers map[ir.AspectKey]ir.FactSet
	nextID   ir.FactID
}

// NewMemory returns an index holding facts.
func NewMemory(facts ...ir.Fact) (*Memory, error) {
	m := &Memory{
		facts:    make(map[ir.FactID]*ir.Fact),
		postings: make(map[postingKey]ir.FactSet),
		carriers: make(map[ir.AspectKey]ir.FactSet),
	}
	if err := m.Add(facts...); err != nil {
		return nil, err
	}
	return m, nil
}

// Add indexes facts. A fact with a zero ID gets the next free id; an id
// already present is an error and nothing is added.
func (m *Memory) Add(facts ...ir.Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[ir.FactID]bool, len(facts))
	for _, f := range facts {
		if f.ID == 0 {
			continue
		}
		if _, dup := m.facts[f.ID]; dup || seen[f.ID] {
			return fmt.Errorf("duplicate fact id %d", f.ID)
		}
		seen[f.ID] = true
	}

	added := make([]ir.FactID, 0, len(facts))
	for i := range facts {
		f := facts[i]
		if f.ID == 0 {
			m.nextID++
			for m.facts[m.nextID] != nil || seen[m.nextID] {
				m.nextID++
			}
			f.ID = m.nextID
		}
		m.nextID = max(m.nextID, f.ID)
		m.facts[f.ID] = &f
		added = append(added, f.ID)

		for _, p := range f.Aspects() {
			pk := postingKey{key: p.Key, value: p.Value}
			m.postings[pk] = append(m.postings[pk], f.ID)
			m.carriers[p.Key] = append(m.carriers[p.Key], f.ID)
		}
	}

	m.all = ir.NewFactSet(append(m.all, added...)...)
	for k, s := range m.postings {
		m.postings[k] = ir.NewFactSet(s...)
	}
	for k, s := range m.carriers {
		m.carriers[k] = ir.NewFactSet(s...)
	}

	slog.Debug("facts indexed", "added", len(added), "total", len(m.all))
	return nil
}

// Len returns the number of facts.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.all)
}

func (m *Memory) All(_ context.Context) (ir.FactSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.all), nil
}

func (m *Memory) Lookup(_ context.Context, key ir.AspectKey, value string) (ir.FactSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.postings[postingKey{key: key, value: value}]), nil
}

func (m *Memory) Missing(_ context.Context, key ir.AspectKey) (ir.FactSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.all.Difference(m.carriers[key]), nil
}

func (m *Memory) Fact(_ context.Context, id ir.FactID) (*ir.Fact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.facts[id]
	if !ok {
		return nil, fmt.Errorf("fact %d not found", id)
	}
	return f, nil
}

// Facts returns every fact in id order.
func (m *Memory) Facts() []ir.Fact {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ir.Fact, 0, len(m.all))
	for _, id := range m.all {
		out = append(out, *m.facts[id])
	}
	return out
}
