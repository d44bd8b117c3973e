// Package file provides an append-only JSON lines result log implementing
// [store.ResultStore].
//
// Each finished assessment is written as one JSON object per line. Reads scan
// the whole file, so this store suits local use and small deployments. Use the
// postgres or sqlite store when results need to be queried at volume.
package file

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sync"

	"github.com/MrWong99/elocute/pkg/store"
	"github.com/MrWong99/elocute/pkg/types"
)

// Compile-time interface check.
var _ store.ResultStore = (*Store)(nil)

// maxLineSize bounds a single result record. Word detail for a long passage
// comfortably fits.
const maxLineSize = 4 << 20

// Store persists results as JSON lines in a local file.
// Thread-safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
	ids  map[string]struct{}
}

// NewStore creates a Store that appends to the file at path. The file is
// created on first write. Existing records are indexed so duplicate saves
// are ignored.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, ids: make(map[string]struct{})}
	err := s.scan(func(r *types.AssessmentResult) bool {
		s.ids[r.ID] = struct{}{}
		return true
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SaveResult implements [store.ResultStore].
func (s *Store) SaveResult(_ context.Context, r *types.AssessmentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[r.ID]; dup {
		return nil
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("file store: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("file store: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("file store: write: %w", err)
	}
	s.ids[r.ID] = struct{}{}
	return nil
}

// GetResult implements [store.ResultStore].
func (s *Store) GetResult(_ context.Context, id string) (*types.AssessmentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *types.AssessmentResult
	err := s.scan(func(r *types.AssessmentResult) bool {
		if r.ID == id {
			found = r
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("file store: result %q: %w", id, store.ErrNotFound)
	}
	return found, nil
}

// ListResults implements [store.ResultStore].
func (s *Store) ListResults(_ context.Context, userID string, limit int) ([]*types.AssessmentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.AssessmentResult
	err := s.scan(func(r *types.AssessmentResult) bool {
		if r.UserID == userID {
			out = append(out, r)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b *types.AssessmentResult) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	if n := store.Limit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// scan decodes every record in file order until fn returns false. A missing
// file is an empty log.
func (s *Store) scan(fn func(*types.AssessmentResult) bool) error {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("file store: open file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r types.AssessmentResult
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return fmt.Errorf("file store: line %d: %w", line, err)
		}
		if !fn(&r) {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("file store: read: %w", err)
	}
	return nil
}
