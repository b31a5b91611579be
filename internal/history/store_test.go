package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-announcer/internal/config"
	"github.com/loqalabs/loqa-announcer/internal/orchestrator"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func result(id, text string, status orchestrator.Status, at time.Time) orchestrator.Result {
	return orchestrator.Result{
		Utterance:  orchestrator.Utterance{ID: id, Text: text, Source: "direct", CreatedAt: at},
		Engine:     "system",
		Status:     status,
		Duration:   1500 * time.Millisecond,
		FinishedAt: at,
	}
}

func TestOpenEphemeral(t *testing.T) {
	s, err := Open(context.Background(), config.HistoryConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := s.Record(context.Background(), result("u1", "hi", orchestrator.StatusSpoken, time.Now())); err != nil {
		t.Fatalf("record: %v", err)
	}
	entries, err := s.List(context.Background(), 10)
	if err != nil || entries != nil {
		t.Fatalf("expected no entries, got %v (%v)", entries, err)
	}
}

func TestRecordAndList(t *testing.T) {
	cfg := config.HistoryConfig{Path: filepath.Join(t.TempDir(), "history.db"), RetentionMode: "persistent"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if _, err := s.BeginSession(context.Background()); err != nil {
		t.Fatalf("begin session: %v", err)
	}

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	failed := result("u2", "second", orchestrator.StatusFailed, now.Add(time.Second))
	failed.Err = errors.New("device busy")
	for _, res := range []orchestrator.Result{result("u1", "first", orchestrator.StatusSpoken, now), failed} {
		if err := s.Record(context.Background(), res); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	entries, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].UtteranceID != "u2" || entries[0].Error != "device busy" || entries[0].Status != "failed" {
		t.Fatalf("unexpected newest entry %+v", entries[0])
	}
	if entries[1].Duration != 1500*time.Millisecond || !entries[1].FinishedAt.Equal(now) {
		t.Fatalf("unexpected oldest entry %+v", entries[1])
	}
}

func TestPruneByDaysAndMaxEntries(t *testing.T) {
	cfg := config.HistoryConfig{Path: filepath.Join(t.TempDir(), "history.db"), RetentionMode: "persistent", RetentionDays: 1, MaxEntries: 1}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	day1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	day3 := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	for _, res := range []orchestrator.Result{
		result("old", "old", orchestrator.StatusSpoken, day1),
		result("new-1", "new one", orchestrator.StatusSpoken, day3),
		result("new-2", "new two", orchestrator.StatusSpoken, day3.Add(time.Minute)),
	} {
		if err := s.Record(context.Background(), res); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	s.clock = func() time.Time { return day3.Add(time.Hour) }
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}
	entries, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].UtteranceID != "new-2" {
		t.Fatalf("expected only newest entry to survive, got %+v", entries)
	}
}

func TestSessionModeClearsPreviousRuns(t *testing.T) {
	cfg := config.HistoryConfig{Path: filepath.Join(t.TempDir(), "history.db"), RetentionMode: "session"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if _, err := s.BeginSession(context.Background()); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := s.Record(context.Background(), result("u1", "from last run", orchestrator.StatusSpoken, time.Now())); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := s.BeginSession(context.Background()); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	entries, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected previous run to be cleared, got %d entries", len(entries))
	}
}
