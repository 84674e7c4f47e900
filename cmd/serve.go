package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/bloxciting/internal/config"
	"github.com/conneroisu/bloxciting/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Watch the content root and serve compiled documents",
	Long: `Watch the content root, compile documents as they change and serve them.

Documents are served under /api/v1/blogs/<path> (without the extension),
category listings under /api/v1/blogs/<dir>, standalone pages under
/pages/<path> and live update notifications on /ws.

Examples:
  bloxciting serve                        # Serve ./blogs on localhost:18888
  bloxciting serve --root content -p 8080 # Serve ./content on port 8080`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.IntP("port", "p", 0, "Port to serve on (default 18888)")
	flags.String("host", "", "Host to bind to (default localhost)")
	flags.String("environment", "", "Environment (development, production)")
	flags.Duration("stability-window", 0, "How long a file must stay unchanged before it is compiled")

	bindFlags(flags, map[string]string{
		"port":             "server.port",
		"host":             "server.host",
		"environment":      "server.environment",
		"stability-window": "content.stability_window",
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s at http://%s:%d%s\n",
		cfg.Content.Root, cfg.Server.Host, cfg.Server.Port, "/api/v1/blogs")

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
