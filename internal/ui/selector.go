package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/samsaffron/groq-chat/internal/catalog"
	"golang.org/x/term"
)

var (
	modelStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")) // bright green
	explanationStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))             // grey
)

// formatOption renders a model choice with lipgloss styling
func formatOption(m catalog.Model) string {
	return modelStyle.Render(m.Label()) + explanationStyle.Render(fmt.Sprintf("  %s, %d tokens", m.Developer, m.MaxTokens))
}

// SelectModel presents the catalog and returns the chosen model id.
// The current model starts selected.
func SelectModel(cat *catalog.Catalog, current string) (string, error) {
	selected := current

	models := cat.List()
	options := make([]huh.Option[string], 0, len(models))
	for _, m := range models {
		options = append(options, huh.NewOption(formatOption(m), m.ID).Selected(m.ID == current))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose a model").
				Options(options...).
				Value(&selected),
		),
	)

	if err := form.Run(); err != nil {
		return "", err
	}
	return selected, nil
}

// ReadSecret prompts on stderr and reads a line from the terminal without echo.
func ReadSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// IsTerminal reports whether f is a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// ShowError displays an error message
func ShowError(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
}
