package render

import (
	"strings"
	"testing"
)

func TestHTML(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		notWant []string
	}{
		{
			name: "emphasis",
			in:   "Hello **world**",
			want: []string{"<p>Hello <strong>world</strong></p>"},
		},
		{
			name: "code block",
			in:   "```go\nfmt.Println(1)\n```",
			want: []string{`<pre><code class="language-go">`, "fmt.Println(1)"},
		},
		{
			name: "table",
			in:   "| a | b |\n|---|---|\n| 1 | 2 |",
			want: []string{"<table>", "<td>1</td>"},
		},
		{
			name:    "raw html omitted",
			in:      "<script>alert(1)</script>\n\nafter",
			want:    []string{"<p>after</p>"},
			notWant: []string{"<script>"},
		},
		{
			name:    "inline html omitted",
			in:      "click <img src=x onerror=alert(1)> here",
			notWant: []string{"<img"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := HTML(tc.in)
			if err != nil {
				t.Fatalf("HTML: %v", err)
			}
			for _, w := range tc.want {
				if !strings.Contains(got, w) {
					t.Errorf("output missing %q:\n%s", w, got)
				}
			}
			for _, w := range tc.notWant {
				if strings.Contains(got, w) {
					t.Errorf("output contains %q:\n%s", w, got)
				}
			}
		})
	}
}
