package usage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadResult holds entries read from a usage directory. Malformed lines are
// reported in Errors and skipped.
type LoadResult struct {
	Entries []LogEntry
	Errors  []error
}

// Load reads every daily file under dir in date order. A missing directory
// yields an empty result.
func Load(dir string) LoadResult {
	var result LoadResult

	files, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			result.Errors = append(result.Errors, err)
		}
		return result
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".jsonl") {
			continue
		}
		entries, errs := loadFile(filepath.Join(dir, file.Name()))
		result.Entries = append(result.Entries, entries...)
		result.Errors = append(result.Errors, errs...)
	}
	return result
}

func loadFile(path string) ([]LogEntry, []error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, []error{err}
	}
	defer f.Close()

	var entries []LogEntry
	var errs []error
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(text), &entry); err != nil {
			errs = append(errs, fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err))
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, err)
	}
	return entries, errs
}

// ModelTotals aggregates entries for one model.
type ModelTotals struct {
	Model        string `json:"model"`
	Turns        int    `json:"turns"`
	Failed       int    `json:"failed"`
	Canceled     int    `json:"canceled"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Summarize groups entries by model, sorted by model id.
func Summarize(entries []LogEntry) []ModelTotals {
	byModel := make(map[string]*ModelTotals)
	for _, e := range entries {
		t, ok := byModel[e.Model]
		if !ok {
			t = &ModelTotals{Model: e.Model}
			byModel[e.Model] = t
		}
		t.Turns++
		switch e.Outcome {
		case OutcomeFailed:
			t.Failed++
		case OutcomeCanceled:
			t.Canceled++
		}
		t.InputTokens += e.InputTokens
		t.OutputTokens += e.OutputTokens
	}

	out := make([]ModelTotals, 0, len(byModel))
	for _, t := range byModel {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}
