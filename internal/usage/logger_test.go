package usage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoggerWritesDailyFiles(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(dir)

	day1 := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Hour)
	entries := []LogEntry{
		{Timestamp: day1, Model: "llama3-70b-8192", Provider: "groq", Outcome: OutcomeCompleted, Fragments: 3, OutputTokens: 12},
		{Timestamp: day1, Model: "llama3-70b-8192", Provider: "groq", Outcome: OutcomeFailed, Fragments: 1},
		{Timestamp: day2, Model: "gemma-7b-it", Provider: "groq", Outcome: OutcomeCanceled},
	}
	for _, e := range entries {
		if err := l.Log(e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	for _, name := range []string{"2024-05-01.jsonl", "2024-05-02.jsonl"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}

	got := Load(dir)
	if len(got.Errors) != 0 {
		t.Fatalf("Load errors: %v", got.Errors)
	}
	if diff := cmp.Diff(entries, got.Entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	body := `{"model":"a","outcome":"completed"}` + "\nnot json\n\n" + `{"model":"b","outcome":"failed"}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, "2024-01-01.jsonl"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatal(err)
	}

	got := Load(dir)
	if len(got.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(got.Entries))
	}
	if len(got.Errors) != 1 || !strings.Contains(got.Errors[0].Error(), "2024-01-01.jsonl:2") {
		t.Errorf("errors = %v", got.Errors)
	}
}

func TestLoadMissingDir(t *testing.T) {
	got := Load(filepath.Join(t.TempDir(), "absent"))
	if len(got.Entries) != 0 || len(got.Errors) != 0 {
		t.Errorf("got %+v, want empty result", got)
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize([]LogEntry{
		{Model: "b", Outcome: OutcomeCompleted, InputTokens: 5, OutputTokens: 7},
		{Model: "a", Outcome: OutcomeFailed},
		{Model: "b", Outcome: OutcomeCanceled, InputTokens: 1},
	})
	want := []ModelTotals{
		{Model: "a", Turns: 1, Failed: 1},
		{Model: "b", Turns: 2, Canceled: 1, InputTokens: 6, OutputTokens: 7},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Summarize mismatch (-want +got):\n%s", diff)
	}
}
