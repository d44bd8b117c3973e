// Package reference resolves the reading passages learners are assessed
// against.
//
// A passage is looked up by ID through a [Provider]. Passages come from a
// curated YAML file ([LoadFile]), from a persistent store ([FromStore]) or
// are written on demand by an LLM ([Generator]). [Chain] combines several
// providers.
package reference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/elocute/pkg/store"
)

// Provider looks up a reading passage by ID. A missing passage is reported
// with an error wrapping [store.ErrNotFound].
type Provider interface {
	Reference(ctx context.Context, id string) (store.Reference, error)
}

// Static serves a fixed set of passages held in memory. It is read-only after
// construction and safe for concurrent use.
type Static struct {
	refs map[string]store.Reference
	ids  []string
}

var _ Provider = (*Static)(nil)

// NewStatic returns a Static holding refs. Later entries replace earlier ones
// with the same ID.
func NewStatic(refs ...store.Reference) *Static {
	s := &Static{refs: make(map[string]store.Reference, len(refs))}
	for _, r := range refs {
		if _, dup := s.refs[r.ID]; !dup {
			s.ids = append(s.ids, r.ID)
		}
		s.refs[r.ID] = r
	}
	return s
}

// file is the on-disk layout read by [LoadFile].
type file struct {
	References []store.Reference `yaml:"references"`
}

// LoadFile reads a YAML passage list from path.
//
//	references:
//	  - id: greeting-a1
//	    language: en-US
//	    level: A1
//	    text: Good morning. How are you today?
func LoadFile(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reference: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("reference: parse %q: %w", path, err)
	}
	return s, nil
}

// LoadFromReader decodes and validates a YAML passage list from r.
func LoadFromReader(r io.Reader) (*Static, error) {
	var doc file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reference: decode yaml: %w", err)
	}

	var errs []error
	seen := make(map[string]bool, len(doc.References))
	for i, ref := range doc.References {
		switch {
		case ref.ID == "":
			errs = append(errs, fmt.Errorf("references[%d]: id is required", i))
		case seen[ref.ID]:
			errs = append(errs, fmt.Errorf("references[%d]: duplicate id %q", i, ref.ID))
		}
		seen[ref.ID] = true
		if strings.TrimSpace(ref.Text) == "" {
			errs = append(errs, fmt.Errorf("references[%d]: text is required", i))
		}
		if ref.Language == "" {
			errs = append(errs, fmt.Errorf("references[%d]: language is required", i))
		}
		if ref.Level != "" && !ValidLevel(ref.Level) {
			errs = append(errs, fmt.Errorf("references[%d]: unknown CEFR level %q", i, ref.Level))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}
	return NewStatic(doc.References...), nil
}

// Reference implements [Provider].
func (s *Static) Reference(_ context.Context, id string) (store.Reference, error) {
	ref, ok := s.refs[id]
	if !ok {
		return store.Reference{}, fmt.Errorf("reference: %q: %w", id, store.ErrNotFound)
	}
	return ref, nil
}

// All returns every passage in load order.
func (s *Static) All() []store.Reference {
	out := make([]store.Reference, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.refs[id])
	}
	return out
}

// Seed writes every passage into st, replacing existing ones with the same ID.
func (s *Static) Seed(ctx context.Context, st store.ReferenceStore) error {
	for _, id := range s.ids {
		if err := st.PutReference(ctx, s.refs[id]); err != nil {
			return fmt.Errorf("reference: seed %q: %w", id, err)
		}
	}
	return nil
}

// storeProvider adapts a [store.ReferenceStore].
type storeProvider struct {
	st store.ReferenceStore
}

// FromStore returns a Provider that reads passages from st.
func FromStore(st store.ReferenceStore) Provider {
	return storeProvider{st: st}
}

func (p storeProvider) Reference(ctx context.Context, id string) (store.Reference, error) {
	return p.st.GetReference(ctx, id)
}

// Chain asks each provider in order and returns the first passage found. A
// not-found answer moves on to the next provider; any other error stops the
// lookup.
type Chain []Provider

var _ Provider = Chain(nil)

// Reference implements [Provider].
func (c Chain) Reference(ctx context.Context, id string) (store.Reference, error) {
	for _, p := range c {
		ref, err := p.Reference(ctx, id)
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Reference{}, err
		}
	}
	return store.Reference{}, fmt.Errorf("reference: %q: %w", id, store.ErrNotFound)
}

// Levels lists the CEFR levels in ascending order.
var Levels = []string{"A1", "A2", "B1", "B2", "C1", "C2"}

// ValidLevel reports whether level is a CEFR level. The check is
// case-insensitive.
func ValidLevel(level string) bool {
	return slices.Contains(Levels, strings.ToUpper(level))
}
