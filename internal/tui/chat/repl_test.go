package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/samsaffron/groq-chat/internal/catalog"
	core "github.com/samsaffron/groq-chat/internal/chat"
	"github.com/samsaffron/groq-chat/internal/llm"
	"github.com/samsaffron/groq-chat/internal/ui"
)

func newTestREPL(t *testing.T, input string, credential string) (*REPL, *core.Session, *llm.MockProvider, *bytes.Buffer) {
	t.Helper()
	mock := llm.NewMockProvider("groq")
	factory := llm.NewFactory(nil, nil)
	factory.Register("groq", mock)

	sess, err := core.NewSession(catalog.Default(), core.WithID("repl-test"))
	if err != nil {
		t.Fatal(err)
	}
	if credential != "" {
		sess.SetCredential(credential)
	}

	var out bytes.Buffer
	r := New(Options{
		Session: sess,
		Client:  core.NewClient(factory),
		In:      strings.NewReader(input),
		Out:     &out,
		Styles:  ui.NewStyles(&out),
		TurnContext: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return context.WithCancel(ctx)
		},
		ExportDir: t.TempDir(),
	})
	return r, sess, mock, &out
}

func TestREPLConversationAndCommands(t *testing.T) {
	exportPath := filepath.Join(t.TempDir(), "chat.json")
	input := strings.Join([]string{
		"hi",
		"/export " + exportPath,
		"/tokens 100",
		"/temp 0.3",
		"/model mixtral-8x7b-32768",
		"/bogus",
		"/quit",
		"never read",
	}, "\n")
	r, sess, mock, out := newTestREPL(t, input, "gsk-test")
	mock.AddFragments("Hel", "lo", "!")

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"groq › Hello!",
		"Exported 2 messages to " + exportPath,
		"Max tokens: 512",
		"Temperature: 0.3",
		"Switched to Mixtral-8x7b-Instruct-v0.1 by Mistral",
		"Unknown command: /bogus",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}

	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("export not written: %v", err)
	}
	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}
	want := []core.SnapshotMessage{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "Hello!"}}
	if diff := cmp.Diff(want, snap.Messages); diff != "" {
		t.Errorf("export mismatch (-want +got):\n%s", diff)
	}

	if got := sess.Model().ID; got != "mixtral-8x7b-32768" {
		t.Errorf("model = %s", got)
	}
	if len(sess.Transcript()) != 0 {
		t.Errorf("model switch kept transcript: %+v", sess.Transcript())
	}
	if got := sess.Config().Temperature; got != 0.3 {
		t.Errorf("temperature = %v", got)
	}
}

func TestREPLPromptsForKey(t *testing.T) {
	r, sess, mock, out := newTestREPL(t, "gsk-typed\nhello\n", "")
	mock.AddTextResponse("hi there")

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sess.HasCredential() {
		t.Fatal("credential not stored")
	}
	if mock.CallCount() != 1 {
		t.Errorf("provider called %d times", mock.CallCount())
	}
	if !strings.Contains(out.String(), "API key for groq: ") {
		t.Errorf("missing key prompt:\n%s", out.String())
	}
}

func TestREPLStreamFailure(t *testing.T) {
	r, sess, mock, out := newTestREPL(t, "hi\n", "gsk-test")
	mock.AddError(errors.New("connection reset"), "Par")

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "Error: connection reset") {
		t.Errorf("output:\n%s", out.String())
	}
	transcript := sess.Transcript()
	if len(transcript) != 2 || transcript[1].Content != "Error: connection reset" {
		t.Errorf("transcript = %+v", transcript)
	}
}

func TestREPLModelPicker(t *testing.T) {
	r, sess, _, _ := newTestREPL(t, "/model\n", "gsk-test")
	var offered string
	r.pickModel = func(cat *catalog.Catalog, current string) (string, error) {
		offered = current
		return "gemma-7b-it", nil
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if offered != "llama3-70b-8192" {
		t.Errorf("picker offered %q", offered)
	}
	if sess.Model().ID != "gemma-7b-it" {
		t.Errorf("model = %s", sess.Model().ID)
	}
}

func TestFindCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		message string
	}{
		{"/help", "help", ""},
		{"/q", "quit", ""},
		{"/exit", "quit", ""},
		{"/exp", "export", ""},
		{"/te", "", "Ambiguous command"},
		{"/zzz", "", "Unknown command"},
	}
	for _, tc := range tests {
		cmd, msg := findCommand(tc.in)
		got := ""
		if cmd != nil {
			got = cmd.Name
		}
		if got != tc.want || !strings.Contains(msg, tc.message) {
			t.Errorf("findCommand(%q) = %q, %q", tc.in, got, msg)
		}
	}
}

func TestFilterCommands(t *testing.T) {
	if got := FilterCommands(""); len(got) != len(AllCommands()) {
		t.Errorf("empty query returned %d commands", len(got))
	}
	if got := FilterCommands("/m"); len(got) != 1 || got[0].Name != "model" {
		t.Errorf("alias match = %+v", got)
	}
	got := FilterCommands("expt")
	if len(got) == 0 || got[0].Name != "export" {
		t.Errorf("fuzzy match = %+v", got)
	}
}
