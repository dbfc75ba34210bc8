package cmd

import (
	"strings"

	"github.com/samsaffron/groq-chat/internal/catalog"
	"github.com/spf13/cobra"
)

// ModelFlagCompletion handles --model flag completion from the configured catalog
func ModelFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cat := catalog.Default()
	if cfg, err := loadConfig(); err == nil {
		if c, err := cfg.Catalog(); err == nil {
			cat = c
		}
	}

	var completions []string
	for _, m := range cat.List() {
		if strings.HasPrefix(m.ID, toComplete) {
			completions = append(completions, m.ID+"\t"+m.Label()+" ("+m.Developer+")")
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}
