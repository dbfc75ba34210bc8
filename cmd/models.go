package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samsaffron/groq-chat/internal/config"
	"github.com/samsaffron/groq-chat/internal/llm"
	"github.com/samsaffron/groq-chat/internal/ui"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var modelsJSON bool
var modelsYAML bool
var modelsRemote string

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalog",
	Long: `List the models a chat session can select.

With --remote the provider's models API is queried instead, which helps
when adding entries to the models section of the config.

Examples:
  groq-chat models
  groq-chat models --json
  groq-chat models --remote groq     # ask Groq what it serves`,
	Args: cobra.NoArgs,
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output as JSON")
	modelsCmd.Flags().BoolVar(&modelsYAML, "yaml", false, "Output as YAML, ready to paste into the config")
	modelsCmd.Flags().StringVar(&modelsRemote, "remote", "", "Query a provider's models API (groq or an openai_compatible provider)")
}

// ModelLister is an interface for providers that can list available models
type ModelLister interface {
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if modelsRemote != "" {
		return runRemoteModels(cmd, cfg, modelsRemote)
	}

	cat, err := cfg.Catalog()
	if err != nil {
		return err
	}
	models := cat.List()
	out := cmd.OutOrStdout()

	switch {
	case modelsJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	case modelsYAML:
		return yaml.NewEncoder(out).Encode(map[string]any{"models": models})
	}

	tbl := ui.Table{Header: []string{"ID", "NAME", "DEVELOPER", "MAX TOKENS", "PROVIDER"}}
	for _, m := range models {
		id := m.ID
		if m.ID == cfg.DefaultModel {
			id += " *"
		}
		tbl.AddRow(id, m.Label(), m.Developer, strconv.Itoa(m.MaxTokens), m.Provider)
	}
	return tbl.Render(out, ui.NewStyles(out))
}

func runRemoteModels(cmd *cobra.Command, cfg *config.Config, providerName string) error {
	providerCfg, ok := cfg.Providers[providerName]
	if !ok {
		return fmt.Errorf("provider '%s' is not configured", providerName)
	}

	var lister ModelLister
	switch providerType := config.InferProviderType(providerName, providerCfg.Type); providerType {
	case config.ProviderTypeGroq:
		if providerCfg.ResolvedAPIKey == "" {
			return fmt.Errorf("groq API key not configured. Set GROQ_API_KEY or configure api_key")
		}
		lister = llm.NewGroqProvider(providerCfg.ResolvedAPIKey, providerCfg.BaseURL, nil)
	case config.ProviderTypeOpenAICompat:
		if providerCfg.BaseURL == "" {
			return fmt.Errorf("provider '%s' requires base_url to be configured", providerName)
		}
		lister = llm.NewOpenAICompatProviderWithHeaders(providerCfg.BaseURL, providerCfg.ResolvedAPIKey, providerName, providerCfg.Headers, nil)
	default:
		return fmt.Errorf("provider '%s' (type: %s) does not support model listing.\n"+
			"Model listing is supported for groq and openai_compatible providers", providerName, providerType)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	models, err := lister.ListModels(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "connection refused") {
			return fmt.Errorf("cannot connect to %s server.\n"+
				"Make sure the server is running and accessible", providerName)
		}
		return fmt.Errorf("failed to list models: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(models) == 0 {
		fmt.Fprintln(out, "No models found.")
		return nil
	}

	if modelsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}

	tbl := ui.Table{Header: []string{"ID", "OWNER", "CREATED"}}
	for _, m := range models {
		created := ""
		if m.Created > 0 {
			created = time.Unix(m.Created, 0).Format("2006-01-02")
		}
		tbl.AddRow(m.ID, m.OwnedBy, created)
	}
	if err := tbl.Render(out, ui.NewStyles(out)); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nTo chat with a model, add it to your config:\n")
	fmt.Fprintf(out, "  models:\n    - id: <model-id>\n      max_tokens: <limit>\n      provider: %s\n", providerName)
	return nil
}
