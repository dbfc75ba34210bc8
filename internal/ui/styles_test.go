package ui

import (
	"bytes"
	"strings"
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"Mixtral-8x7b-Instruct-v0.1", 10, "Mixtral..."},
		{"abcdef", 3, "abc"},
		{"日本語テキスト", 8, "日本..."},
	}
	for _, tc := range tests {
		if got := Truncate(tc.in, tc.width); got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.width, got, tc.want)
		}
	}
}

func TestRoleLabelPlainOutput(t *testing.T) {
	// A bytes.Buffer is not a terminal, so the renderer emits no escapes.
	s := NewStyles(&bytes.Buffer{})
	if got := s.RoleLabel("user"); got != "you › " {
		t.Errorf("user label = %q", got)
	}
	if got := s.RoleLabel("assistant"); got != "groq › " {
		t.Errorf("assistant label = %q", got)
	}
	if got := s.FormatResult(false, "nope"); !strings.HasSuffix(got, "nope") || !strings.Contains(got, FailIcon) {
		t.Errorf("FormatResult = %q", got)
	}
}

func TestTableRender(t *testing.T) {
	tbl := Table{Header: []string{"ID", "NAME", "MAX"}}
	tbl.AddRow("llama3-8b-8192", "LLaMA3-8b", "8192")
	tbl.AddRow("gemma-7b-it", "Gemma-7b-it", "8192")

	var buf bytes.Buffer
	if err := tbl.Render(&buf, nil); err != nil {
		t.Fatal(err)
	}
	want := "" +
		"ID              NAME         MAX\n" +
		"llama3-8b-8192  LLaMA3-8b    8192\n" +
		"gemma-7b-it     Gemma-7b-it  8192\n"
	if buf.String() != want {
		t.Errorf("table:\n%s\nwant:\n%s", buf.String(), want)
	}
}
