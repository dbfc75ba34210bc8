package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samsaffron/groq-chat/internal/serve"
	"github.com/samsaffron/groq-chat/internal/serve/chat"
	"github.com/spf13/cobra"
)

var (
	serveAddr  string
	serveToken string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web chat page",
	Long: `Serve the web chat page and its websocket session API.

Each browser tab gets its own conversation. Keys configured for providers
are preloaded into new sessions; without one the page asks for a key.

Examples:
  groq-chat serve
  groq-chat serve --addr 0.0.0.0:8080 --token s3cret   # open with ?token=s3cret`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, 127.0.0.1:8501)")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Require this bearer token on the API endpoints")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := rt.cfg.Serve.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	token := rt.cfg.Serve.Token
	if serveToken != "" {
		token = serveToken
	}

	mgr := chat.NewSessionManager(chat.Options{
		Token:          token,
		Catalog:        rt.catalog,
		Client:         rt.client,
		Credentials:    rt.credentials(),
		SessionOptions: rt.sessionOptions(""),
		Logger:         rt.logger,
	})
	srv := serve.NewServer(serve.Options{
		Addr:    addr,
		Manager: mgr,
		Catalog: rt.catalog,
		Logger:  rt.logger,
	})

	return srv.Run(ctx, func(bound string) {
		url := "http://" + bound + "/"
		if token != "" {
			url += "?token=" + token
		}
		fmt.Fprintf(cmd.OutOrStdout(), "groq-chat listening on %s\n", url)
	})
}
