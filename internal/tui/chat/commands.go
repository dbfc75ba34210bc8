package chat

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sahilm/fuzzy"
	apperr "github.com/samsaffron/groq-chat/internal/errors"
)

// Command represents a slash command
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
}

// AllCommands returns all available slash commands
func AllCommands() []Command {
	return []Command{
		{
			Name:        "help",
			Aliases:     []string{"h", "?"},
			Description: "Show help and available commands",
			Usage:       "/help",
		},
		{
			Name:        "clear",
			Aliases:     []string{"c"},
			Description: "Clear conversation history",
			Usage:       "/clear",
		},
		{
			Name:        "model",
			Aliases:     []string{"m"},
			Description: "Switch model (clears the conversation)",
			Usage:       "/model [id]",
		},
		{
			Name:        "tokens",
			Aliases:     []string{"t"},
			Description: "Set max tokens for replies",
			Usage:       "/tokens <n>",
		},
		{
			Name:        "temp",
			Description: "Set temperature between 0 and 1",
			Usage:       "/temp <t>",
		},
		{
			Name:        "key",
			Description: "Enter the API key for the current model's provider",
			Usage:       "/key",
		},
		{
			Name:        "export",
			Description: "Export conversation as JSON",
			Usage:       "/export [path]",
		},
		{
			Name:        "quit",
			Aliases:     []string{"q", "exit"},
			Description: "Exit chat",
			Usage:       "/quit",
		},
	}
}

// CommandSource implements fuzzy.Source for command searching
type CommandSource []Command

func (c CommandSource) String(i int) string {
	return c[i].Name
}

func (c CommandSource) Len() int {
	return len(c)
}

// FilterCommands returns commands matching the query using fuzzy search
func FilterCommands(query string) []Command {
	commands := AllCommands()
	if query == "" {
		return commands
	}

	// Remove leading slash if present
	query = strings.TrimPrefix(query, "/")

	// First check for exact alias matches
	queryLower := strings.ToLower(query)
	for _, cmd := range commands {
		if cmd.Name == queryLower {
			return []Command{cmd}
		}
		for _, alias := range cmd.Aliases {
			if alias == queryLower {
				return []Command{cmd}
			}
		}
	}

	// Fuzzy search on command names
	source := CommandSource(commands)
	matches := fuzzy.FindFrom(query, source)

	var result []Command
	for _, match := range matches {
		result = append(result, commands[match.Index])
	}

	// If no fuzzy matches, also check if query is prefix of any command
	if len(result) == 0 {
		for _, cmd := range commands {
			if strings.HasPrefix(cmd.Name, queryLower) {
				result = append(result, cmd)
			}
		}
	}

	return result
}

// findCommand resolves a typed name by exact name, alias, then unique prefix.
// It returns an error message for unknown or ambiguous names.
func findCommand(name string) (*Command, string) {
	name = strings.ToLower(strings.TrimPrefix(name, "/"))
	for _, c := range AllCommands() {
		if c.Name == name {
			return &c, ""
		}
		for _, alias := range c.Aliases {
			if alias == name {
				return &c, ""
			}
		}
	}

	var prefixMatches []Command
	for _, c := range AllCommands() {
		if strings.HasPrefix(c.Name, name) {
			prefixMatches = append(prefixMatches, c)
		}
	}

	switch len(prefixMatches) {
	case 0:
		msg := fmt.Sprintf("Unknown command: /%s", name)
		if similar := FilterCommands(name); len(similar) > 0 {
			msg += fmt.Sprintf("\nDid you mean /%s?", similar[0].Name)
		}
		return nil, msg + "\nType /help for available commands."
	case 1:
		return &prefixMatches[0], ""
	default:
		var names []string
		for _, c := range prefixMatches {
			names = append(names, "/"+c.Name)
		}
		return nil, fmt.Sprintf("Ambiguous command: /%s\nDid you mean: %s?", name, strings.Join(names, ", "))
	}
}

// ExecuteCommand handles slash command execution. It reports whether the
// shell should exit.
func (r *REPL) ExecuteCommand(input string) bool {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return false
	}

	cmd, msg := findCommand(parts[0])
	if cmd == nil {
		r.showSystemMessage(msg)
		return false
	}
	args := parts[1:]

	switch cmd.Name {
	case "help":
		r.cmdHelp()
	case "clear":
		r.cmdClear()
	case "model":
		r.cmdModel(args)
	case "tokens":
		r.cmdTokens(args)
	case "temp":
		r.cmdTemp(args)
	case "key":
		r.cmdKey()
	case "export":
		r.cmdExport(args)
	case "quit":
		return true
	}
	return false
}

// Command implementations

func (r *REPL) showSystemMessage(content string) {
	fmt.Fprintln(r.out, r.styles.Muted.Render(content))
}

func (r *REPL) showError(err error) {
	fmt.Fprintln(r.out, r.styles.Error.Render("Error: "+err.Error()))
}

func (r *REPL) cmdHelp() {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, cmd := range AllCommands() {
		line := fmt.Sprintf("  %-16s %s", cmd.Usage, cmd.Description)
		if len(cmd.Aliases) > 0 {
			line += fmt.Sprintf(" (aliases: %s)", strings.Join(cmd.Aliases, ", "))
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("Press Ctrl+C while a reply streams to stop it.")
	fmt.Fprintln(r.out, b.String())
}

func (r *REPL) cmdClear() {
	if err := r.session.Clear(); err != nil {
		r.showError(err)
		return
	}
	r.showSystemMessage("Conversation cleared.")
}

func (r *REPL) cmdModel(args []string) {
	current := r.session.Model().ID
	var id string
	if len(args) > 0 {
		id = args[0]
	} else if r.pickModel != nil {
		picked, err := r.pickModel(r.session.Catalog(), current)
		if err != nil {
			r.showError(err)
			return
		}
		id = picked
	} else {
		for _, m := range r.session.Catalog().List() {
			marker := "  "
			if m.ID == current {
				marker = "* "
			}
			fmt.Fprintf(r.out, "%s%s (%s, %d tokens)\n", marker, m.ID, m.Developer, m.MaxTokens)
		}
		return
	}

	if id == current {
		r.showSystemMessage("Already using " + r.session.Model().Label() + ".")
		return
	}
	if err := r.session.SelectModel(id); err != nil {
		r.showError(err)
		return
	}
	m := r.session.Model()
	r.showSystemMessage(fmt.Sprintf("Switched to %s by %s. Conversation cleared, max tokens %d.", m.Label(), m.Developer, r.session.Config().MaxTokens))
	if !r.session.HasCredential() {
		r.showSystemMessage("No API key for provider " + m.Provider + ". Use /key to enter one.")
	}
}

func (r *REPL) cmdTokens(args []string) {
	if len(args) != 1 {
		r.showSystemMessage(fmt.Sprintf("Max tokens: %d (model limit %d). Usage: /tokens <n>", r.session.Config().MaxTokens, r.session.Model().MaxTokens))
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		r.showError(apperr.InvalidConfig("chat.SetMaxTokens", "max tokens must be a whole number"))
		return
	}
	r.showSystemMessage(fmt.Sprintf("Max tokens: %d", r.session.SetMaxTokens(n)))
}

func (r *REPL) cmdTemp(args []string) {
	if len(args) != 1 {
		r.showSystemMessage(fmt.Sprintf("Temperature: %g. Usage: /temp <t>", r.session.Config().Temperature))
		return
	}
	t, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		r.showError(apperr.InvalidConfig("chat.SetTemperature", "temperature must be a number"))
		return
	}
	stored, err := r.session.SetTemperature(t)
	if err != nil {
		r.showError(err)
		return
	}
	r.showSystemMessage(fmt.Sprintf("Temperature: %g", stored))
}

func (r *REPL) cmdKey() {
	secret, err := r.readSecret("API key for " + r.session.Model().Provider + ": ")
	if err != nil {
		r.showError(err)
		return
	}
	if secret == "" {
		r.showSystemMessage("No key entered.")
		return
	}
	r.session.SetCredential(secret)
	r.showSystemMessage("API key set.")
}

func (r *REPL) cmdExport(args []string) {
	snap := r.session.ExportSnapshot()
	data, err := snap.JSON()
	if err != nil {
		r.showError(err)
		return
	}
	path := filepath.Join(r.exportDir, snap.Filename())
	if len(args) > 0 {
		path = args[0]
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		r.showError(err)
		return
	}
	r.showSystemMessage(fmt.Sprintf("Exported %d messages to %s", len(snap.Messages), path))
}
