package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Color palette - consistent across the terminal shell
var (
	Green  = lipgloss.Color("10") // success, assistant label
	Red    = lipgloss.Color("9")  // error
	Grey   = lipgloss.Color("8")  // muted text
	Blue   = lipgloss.Color("4")  // headers, borders
	White  = lipgloss.Color("15") // header text
	Orange = lipgloss.Color("208")
)

// Status indicators
const (
	SuccessIcon = "✓"
	FailIcon    = "✗"
)

// Styles returns styled text helpers bound to a renderer
type Styles struct {
	renderer *lipgloss.Renderer

	// Text styles
	Title   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Bold    lipgloss.Style

	// Role labels
	User      lipgloss.Style
	Assistant lipgloss.Style

	// Table styles
	TableHeader lipgloss.Style
	TableCell   lipgloss.Style
}

// NewStyles creates a new Styles instance for the given output
func NewStyles(output io.Writer) *Styles {
	r := lipgloss.NewRenderer(output)

	return &Styles{
		renderer: r,

		Title: r.NewStyle().
			Bold(true).
			Foreground(White),

		Success: r.NewStyle().
			Foreground(Green),

		Error: r.NewStyle().
			Foreground(Red),

		Muted: r.NewStyle().
			Foreground(Grey),

		Bold: r.NewStyle().
			Bold(true),

		User: r.NewStyle().
			Bold(true).
			Foreground(Orange),

		Assistant: r.NewStyle().
			Bold(true).
			Foreground(Green),

		TableHeader: r.NewStyle().
			Bold(true).
			Foreground(White),

		TableCell: r.NewStyle(),
	}
}

// DefaultStyles returns styles for stdout
func DefaultStyles() *Styles {
	return NewStyles(os.Stdout)
}

// RoleLabel renders the prefix printed before a turn.
func (s *Styles) RoleLabel(role string) string {
	switch role {
	case "user":
		return s.User.Render("you") + s.Muted.Render(" › ")
	case "assistant":
		return s.Assistant.Render("groq") + s.Muted.Render(" › ")
	default:
		return s.Muted.Render(role + " › ")
	}
}

// FormatResult returns a styled success/fail result
func (s *Styles) FormatResult(success bool, msg string) string {
	if success {
		return s.Success.Render(SuccessIcon+" ") + msg
	}
	return s.Error.Render(FailIcon+" ") + msg
}

// Truncate shortens a string to maxWidth display cells with ellipsis
func Truncate(s string, maxWidth int) string {
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}
