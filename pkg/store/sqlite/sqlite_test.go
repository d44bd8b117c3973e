package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/elocute/pkg/store"
	"github.com/MrWong99/elocute/pkg/store/sqlite"
	"github.com/MrWong99/elocute/pkg/types"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "nested", "elocute.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func result(id, user string, at time.Time) *types.AssessmentResult {
	return &types.AssessmentResult{
		ID:            id,
		UserID:        user,
		Language:      "en-US",
		ReferenceText: "hello world",
		Scores:        types.Scores{Pronunciation: 70.5, Accuracy: 80, Fluency: 60, Completeness: 50, ProsodyAssessed: false},
		Words: []types.WordResult{
			{Word: "hello", AccuracyScore: 80, ErrorType: types.ErrorNone, Phonemes: []string{"h", "ah"}, Scores: []float64{70, 90}},
			{Word: "world", ErrorType: types.ErrorOmission, Phonemes: []string{}, Scores: []float64{}},
		},
		ErrorCounts:    map[string]int{"None": 1, "Omission": 1},
		UtteranceCount: 2,
		CreatedAt:      at.UTC(),
	}
}

func TestStore_ResultRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	want := result("a1", "u1", time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC))
	if err := s.SaveResult(ctx, want); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	// Results are immutable: a second save with the same ID is ignored.
	dup := result("a1", "u1", time.Now())
	dup.Scores.Pronunciation = 1
	if err := s.SaveResult(ctx, dup); err != nil {
		t.Fatalf("SaveResult (duplicate): %v", err)
	}

	got, err := s.GetResult(ctx, "a1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.Scores != want.Scores {
		t.Errorf("Scores = %+v, want %+v", got.Scores, want.Scores)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
	if len(got.Words) != 2 || got.Words[0].Phonemes[1] != "ah" || got.Words[1].ErrorType != types.ErrorOmission {
		t.Errorf("Words = %+v", got.Words)
	}
	if got.ErrorCounts["None"] != 1 || got.UtteranceCount != 2 {
		t.Errorf("ErrorCounts = %v, UtteranceCount = %d", got.ErrorCounts, got.UtteranceCount)
	}
}

func TestStore_GetResultNotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	if _, err := s.GetResult(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_ListResultsNewestFirst(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	// Sub-second offsets exercise fixed-width timestamp ordering.
	offsets := map[string]time.Duration{
		"a": 0,
		"b": 100 * time.Millisecond,
		"c": 120 * time.Millisecond,
		"d": time.Second,
	}
	for id, off := range offsets {
		if err := s.SaveResult(ctx, result(id, "u1", base.Add(off))); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}
	if err := s.SaveResult(ctx, result("x", "u2", base.Add(time.Hour))); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, err := s.ListResults(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	want := []string{"d", "c", "b"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}

	all, err := s.ListResults(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("default limit returned %d results, want 4", len(all))
	}
}

func TestStore_References(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	ref := store.Reference{ID: "r1", Language: "zh-CN", Text: "我们一起学习中文", Level: "A2", Topic: "school"}
	if err := s.PutReference(ctx, ref); err != nil {
		t.Fatalf("PutReference: %v", err)
	}
	ref.Topic = "study"
	if err := s.PutReference(ctx, ref); err != nil {
		t.Fatalf("PutReference (update): %v", err)
	}

	got, err := s.GetReference(ctx, "r1")
	if err != nil {
		t.Fatalf("GetReference: %v", err)
	}
	if got.Text != ref.Text || got.Topic != "study" || got.Language != "zh-CN" {
		t.Errorf("reference = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	if _, err := s.GetReference(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_Ping(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
