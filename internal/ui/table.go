package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// Table renders rows as left-aligned columns padded by display width.
type Table struct {
	Header []string
	Rows   [][]string
}

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

func (t *Table) widths() []int {
	widths := make([]int, len(t.Header))
	for i, h := range t.Header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}
	return widths
}

// Render writes the table to w. The header is styled when s is non-nil.
func (t *Table) Render(w io.Writer, s *Styles) error {
	widths := t.widths()
	line := func(cells []string, style func(string) string) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			padded := cell
			if i < len(cells)-1 {
				padded = runewidth.FillRight(cell, widths[i])
			}
			parts[i] = style(padded)
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	plain := func(v string) string { return v }
	header := plain
	if s != nil {
		header = func(v string) string { return s.TableHeader.Render(v) }
	}

	if len(t.Header) > 0 {
		if _, err := fmt.Fprintln(w, line(t.Header, header)); err != nil {
			return err
		}
	}
	for _, row := range t.Rows {
		if _, err := fmt.Fprintln(w, line(row, plain)); err != nil {
			return err
		}
	}
	return nil
}
