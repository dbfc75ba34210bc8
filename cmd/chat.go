package cmd

import (
	"fmt"
	"os"

	"github.com/samsaffron/groq-chat/internal/llm"
	tuichat "github.com/samsaffron/groq-chat/internal/tui/chat"
	"github.com/samsaffron/groq-chat/internal/ui"
	"github.com/spf13/cobra"
)

var (
	chatModel    string
	chatProvider string
	chatKey      bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session in the terminal",
	Long: `Start an interactive chat session in the terminal.

Examples:
  groq-chat chat
  groq-chat chat --model gemma-7b-it
  groq-chat chat --provider debug     # offline markdown stream
  groq-chat chat --key                # enter the API key without echo

Slash commands:
  /help          - Show help
  /clear         - Clear conversation
  /model [id]    - Switch model (opens a picker without an id)
  /tokens <n>    - Set max tokens
  /temp <t>      - Set temperature
  /key           - Enter the API key
  /export [file] - Write the conversation as JSON
  /quit          - Exit chat

Press Ctrl+C while a reply streams to stop it.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "Model id from the catalog")
	chatCmd.Flags().StringVar(&chatProvider, "provider", "", "Answer every model with a local provider (debug or mock)")
	chatCmd.Flags().BoolVar(&chatKey, "key", false, "Prompt for the API key even when one is configured")
	if err := chatCmd.RegisterFlagCompletionFunc("model", ModelFlagCompletion); err != nil {
		panic(fmt.Sprintf("failed to register model completion: %v", err))
	}
	if err := chatCmd.RegisterFlagCompletionFunc("provider", cobra.FixedCompletions([]string{"debug", "mock"}, cobra.ShellCompDirectiveNoFileComp)); err != nil {
		panic(fmt.Sprintf("failed to register provider completion: %v", err))
	}
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd.Context(), os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, err := rt.newSession(chatModel)
	if err != nil {
		return err
	}

	if chatProvider != "" {
		var local llm.Provider
		switch chatProvider {
		case "debug":
			local = llm.NewDebugProvider("")
		case "mock":
			local = llm.NewMockProvider("mock").EchoWhenEmpty()
		default:
			return fmt.Errorf("unknown --provider %q (want debug or mock)", chatProvider)
		}
		for _, m := range rt.catalog.List() {
			rt.factory.Register(m.Provider, local)
			sess.SetProviderCredential(m.Provider, "none")
		}
	}

	opts := tuichat.Options{
		Session: sess,
		Client:  rt.client,
	}
	if ui.IsTerminal(os.Stdin) {
		opts.PickModel = ui.SelectModel
		opts.ReadSecret = ui.ReadSecret
	}

	repl := tuichat.New(opts)
	if chatKey {
		repl.ExecuteCommand("/key")
	}
	return repl.Run(cmd.Context())
}
