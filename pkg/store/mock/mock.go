// Package mock provides in-memory test doubles for the store interfaces.
//
// Each mock records every method call for assertion in tests and keeps the
// stored values in maps, so a save followed by a get behaves like a real
// store. Exported *Err fields force failures. All mocks are safe for
// concurrent use.
package mock

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/elocute/pkg/store"
	"github.com/MrWong99/elocute/pkg/types"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// calls is embedded by every mock for call recording.
type calls struct {
	mu    sync.Mutex
	calls []Call
}

func (c *calls) record(method string, args ...any) {
	c.calls = append(c.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (c *calls) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.calls)
}

// CallCount returns how many times the named method was invoked.
func (c *calls) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Method == method {
			n++
		}
	}
	return n
}

// ResultStore is a test double for [store.ResultStore].
type ResultStore struct {
	calls

	results map[string]*types.AssessmentResult

	// SaveErr is returned by SaveResult when non-nil.
	SaveErr error

	// GetErr is returned by GetResult when non-nil.
	GetErr error

	// ListErr is returned by ListResults when non-nil.
	ListErr error
}

var _ store.ResultStore = (*ResultStore)(nil)

// SaveResult implements [store.ResultStore].
func (m *ResultStore) SaveResult(_ context.Context, r *types.AssessmentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SaveResult", r)
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if m.results == nil {
		m.results = make(map[string]*types.AssessmentResult)
	}
	if _, ok := m.results[r.ID]; !ok {
		m.results[r.ID] = r
	}
	return nil
}

// GetResult implements [store.ResultStore].
func (m *ResultStore) GetResult(_ context.Context, id string) (*types.AssessmentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetResult", id)
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	r, ok := m.results[id]
	if !ok {
		return nil, fmt.Errorf("mock store: result %q: %w", id, store.ErrNotFound)
	}
	return r, nil
}

// ListResults implements [store.ResultStore].
func (m *ResultStore) ListResults(_ context.Context, userID string, limit int) ([]*types.AssessmentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListResults", userID, limit)
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := []*types.AssessmentResult{}
	for _, r := range m.results {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b *types.AssessmentResult) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if n := store.Limit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Saved returns the stored results in no particular order.
func (m *ResultStore) Saved() []*types.AssessmentResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.AssessmentResult, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	return out
}

// ReferenceStore is a test double for [store.ReferenceStore].
type ReferenceStore struct {
	calls

	refs map[string]store.Reference

	// GetErr is returned by GetReference when non-nil.
	GetErr error

	// PutErr is returned by PutReference when non-nil.
	PutErr error
}

var _ store.ReferenceStore = (*ReferenceStore)(nil)

// GetReference implements [store.ReferenceStore].
func (m *ReferenceStore) GetReference(_ context.Context, id string) (store.Reference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetReference", id)
	if m.GetErr != nil {
		return store.Reference{}, m.GetErr
	}
	ref, ok := m.refs[id]
	if !ok {
		return store.Reference{}, fmt.Errorf("mock store: reference %q: %w", id, store.ErrNotFound)
	}
	return ref, nil
}

// PutReference implements [store.ReferenceStore].
func (m *ReferenceStore) PutReference(_ context.Context, ref store.Reference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("PutReference", ref)
	if m.PutErr != nil {
		return m.PutErr
	}
	if m.refs == nil {
		m.refs = make(map[string]store.Reference)
	}
	m.refs[ref.ID] = ref
	return nil
}
