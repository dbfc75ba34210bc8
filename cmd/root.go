package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/samsaffron/groq-chat/internal/exitcode"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/groq-chat/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Log debug output to stderr")
}

var rootCmd = &cobra.Command{
	Use:   "groq-chat",
	Short: "Chat with Groq-hosted models from the browser or the terminal",
	Long: `groq-chat streams chat completions from Groq (and other configured
providers) into a web page or a terminal session.

Examples:
  groq-chat serve                         # web chat on 127.0.0.1:8501
  groq-chat chat                          # terminal chat
  groq-chat chat --model mixtral-8x7b-32768
  groq-chat models                        # list the model catalog
  groq-chat config init                   # write a starter config
  groq-chat usage                         # per-model usage totals`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
	SilenceErrors:     true,
}

var configPath string
var debugMode bool

// Execute runs the root command and exits with a code derived from the error.
func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		return
	}
	code := exitcode.FromError(err)
	if code != exitcode.Cancelled {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}
