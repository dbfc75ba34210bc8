package usage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Outcome values recorded for a turn.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// LogEntry is one completed, failed or canceled turn. It never carries
// message contents or credentials.
type LogEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id,omitempty"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	Outcome      string    `json:"outcome"`
	Fragments    int       `json:"fragments"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
}

// Logger writes usage entries to daily JSONL files
type Logger struct {
	baseDir string
	mu      sync.Mutex
}

// NewLogger creates a Logger writing under dir, or the XDG data directory
// when dir is empty.
func NewLogger(dir string) *Logger {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Logger{baseDir: dir}
}

// Dir returns the directory entries are written to.
func (l *Logger) Dir() string {
	return l.baseDir
}

// Log appends entry to the file for its UTC date.
func (l *Logger) Log(entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.baseDir, 0755); err != nil {
		return err
	}

	date := entry.Timestamp.UTC().Format("2006-01-02")
	filename := filepath.Join(l.baseDir, date+".jsonl")

	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// DefaultDir returns the XDG data directory for groq-chat usage logs
func DefaultDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "groq-chat", "usage")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".groq-chat", "usage")
	}
	return filepath.Join(homeDir, ".local", "share", "groq-chat", "usage")
}
