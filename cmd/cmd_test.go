package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/samsaffron/groq-chat/internal/catalog"
	"github.com/samsaffron/groq-chat/internal/usage"
)

// runRoot executes the root command with args and returns its stdout.
func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, debugMode, configForce = "", false, false
	modelsJSON, modelsYAML, modelsRemote = false, false, ""
	usageJSON, usageSince = false, ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, err := runRoot(t, "config", "init", "--config", path)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Config written to "+path) {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := runRoot(t, "config", "init", "--config", path); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected already exists error, got %v", err)
	}
	if _, err := runRoot(t, "config", "init", "--force", "--config", path); err != nil {
		t.Fatalf("config init --force: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "default_model: llama3-70b-8192") {
		t.Fatalf("starter config missing default model:\n%s", data)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	path := writeConfig(t, "providers:\n  groq:\n    api_key: gsk_live_secret\n")

	out, err := runRoot(t, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "gsk_live_secret") {
		t.Fatalf("secret leaked:\n%s", out)
	}
	if !strings.Contains(out, "********") {
		t.Fatalf("expected redacted key:\n%s", out)
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	out, err := runRoot(t, "config", "path")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := strings.TrimSpace(out), filepath.Join("/tmp/xdg", "groq-chat", "config.yaml"); got != want {
		t.Fatalf("path = %q, want %q", got, want)
	}
}

func TestModelsTable(t *testing.T) {
	path := writeConfig(t, "default_model: mixtral-8x7b-32768\n")

	out, err := runRoot(t, "models", "--config", path)
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected header and 5 rows, got %d:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[5], "mixtral-8x7b-32768 *") {
		t.Fatalf("default model not marked: %q", lines[5])
	}
	if strings.Contains(lines[1], "*") {
		t.Fatalf("non-default model marked: %q", lines[1])
	}
}

func TestModelsJSON(t *testing.T) {
	path := writeConfig(t, "")

	out, err := runRoot(t, "models", "--json", "--config", path)
	if err != nil {
		t.Fatalf("models --json: %v", err)
	}
	var got []catalog.Model
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if diff := cmp.Diff(catalog.Default().List(), got); diff != "" {
		t.Fatalf("models mismatch (-want +got):\n%s", diff)
	}
}

func TestModelsRemoteUnknownProvider(t *testing.T) {
	path := writeConfig(t, "")
	_, err := runRoot(t, "models", "--remote", "nowhere", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("expected not configured error, got %v", err)
	}
}

func TestUsageSummary(t *testing.T) {
	dir := t.TempDir()
	logger := usage.NewLogger(dir)
	day := time.Date(2024, 4, 20, 12, 0, 0, 0, time.UTC)
	entries := []usage.LogEntry{
		{Timestamp: day, Model: "llama3-70b-8192", Provider: "groq", Outcome: usage.OutcomeCompleted, InputTokens: 10, OutputTokens: 40},
		{Timestamp: day, Model: "llama3-70b-8192", Provider: "groq", Outcome: usage.OutcomeFailed},
		{Timestamp: day.AddDate(0, 0, 2), Model: "gemma-7b-it", Provider: "groq", Outcome: usage.OutcomeCanceled, InputTokens: 5},
	}
	for _, e := range entries {
		if err := logger.Log(e); err != nil {
			t.Fatal(err)
		}
	}
	path := writeConfig(t, "usage:\n  dir: "+dir+"\n")

	out, err := runRoot(t, "usage", "--json", "--config", path)
	if err != nil {
		t.Fatalf("usage --json: %v", err)
	}
	var got []usage.ModelTotals
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	want := []usage.ModelTotals{
		{Model: "gemma-7b-it", Turns: 1, Canceled: 1, InputTokens: 5},
		{Model: "llama3-70b-8192", Turns: 2, Failed: 1, InputTokens: 10, OutputTokens: 40},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("totals mismatch (-want +got):\n%s", diff)
	}

	out, err = runRoot(t, "usage", "--since", "2024-04-21", "--config", path)
	if err != nil {
		t.Fatalf("usage --since: %v", err)
	}
	if strings.Contains(out, "llama3-70b-8192") || !strings.Contains(out, "gemma-7b-it") {
		t.Fatalf("--since did not filter:\n%s", out)
	}

	if _, err := runRoot(t, "usage", "--since", "yesterday", "--config", path); err == nil {
		t.Fatal("expected invalid date error")
	}
}

func TestVersion(t *testing.T) {
	out, err := runRoot(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "groq-chat version dev") {
		t.Fatalf("version output %q", out)
	}
}
