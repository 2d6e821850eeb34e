package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/conneroisu/sitesmith/internal/server"
	"github.com/conneroisu/sitesmith/internal/supervisor"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Build, watch and serve the site with live reload",
	Long: `Build the site, start one watcher per source tree and serve the output
directory over HTTP. Connected browsers reload after every rebuild.

Examples:
  sitesmith serve                   # Serve on localhost:8000
  sitesmith serve --port 3000       # Serve on another port
  sitesmith serve --no-live-reload  # Serve without the reload websocket`,
	PreRun: func(cmd *cobra.Command, args []string) {
		bindFlags(cmd.Flags(), map[string]string{
			"port":     "server.port",
			"host":     "server.host",
			"interval": "watch.interval",
		})
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8000, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().Bool("no-live-reload", false, "Disable the live reload websocket")
	serveCmd.Flags().Duration("interval", 0, "Poll interval (default from config, 5s)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if noReload, _ := cmd.Flags().GetBool("no-live-reload"); noReload {
		cfg.Server.LiveReload = false
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup, err := supervisor.New(cfg, supervisor.WithLogger(logger))
	if err != nil {
		return err
	}

	counter, err := server.OpenCounterStore(cfg.Counter.File)
	if err != nil {
		return fmt.Errorf("failed to open click counter: %w", err)
	}

	srv := server.New(cfg, counter,
		server.WithLogger(logger),
		server.WithStatusSource(sup),
	)
	sup.OnRebuild(srv.NotifyRebuild)

	if err := sup.Start(ctx); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s at http://%s\n", cfg.Paths.Output, cfg.Address())

	serveErr := srv.ListenAndServe(ctx)

	// The listener can fail before any signal arrives; the watchers must
	// still be stopped.
	stop()
	watchErr := sup.Stop()

	if serveErr != nil {
		return serveErr
	}
	return watchErr
}

// cmdContext returns the command's context, or Background when the command
// was invoked without one (as in tests calling RunE directly).
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
