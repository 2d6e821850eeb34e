package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/conneroisu/sitesmith/internal/supervisor"
	"github.com/conneroisu/sitesmith/internal/watcher"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Watch the source trees and rebuild on change",
	Long: `Build the site and keep it up to date without serving it. Each source
tree (pages, includes and the stylesheet sources) is polled on its own
goroutine; a change triggers that tree's rebuild.

Examples:
  sitesmith watch                 # Poll every 5s
  sitesmith watch --interval 1s   # Poll every second
  sitesmith watch --verbose       # Print every rebuild`,
	PreRun: func(cmd *cobra.Command, args []string) {
		bindFlags(cmd.Flags(), map[string]string{"interval": "watch.interval"})
	},
	RunE: runWatch,
}

var watchVerbose bool

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "Print every rebuild")
	watchCmd.Flags().Duration("interval", 0, "Poll interval (default from config, 5s)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup, err := supervisor.New(cfg, supervisor.WithLogger(logger))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if watchVerbose {
		sup.OnRebuild(func(e watcher.Event) {
			if e.Err != nil {
				fmt.Fprintf(out, "%s: %s failed after %s: %v\n", e.Target, e.Action, e.Duration, e.Err)
				return
			}
			fmt.Fprintf(out, "%s: %s in %s\n", e.Target, e.Action, e.Duration)
		})
	}

	if err := sup.Start(ctx); err != nil {
		return err
	}

	watching := make(map[string]bool)
	for _, st := range sup.Statuses() {
		watching[st.Name] = true
		fmt.Fprintf(out, "Watching %s (%s) every %s\n", st.Root, st.Name, cfg.Watch.Interval)
	}
	for _, target := range sup.Targets() {
		if !watching[target.Name] {
			fmt.Fprintf(out, "Not watching %s (%s): directory missing\n", target.Root, target.Name)
		}
	}
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	exited := make(chan error, 1)
	go func() {
		exited <- sup.Wait()
	}()

	select {
	case <-ctx.Done():
		return sup.Stop()
	case err := <-exited:
		// Every watcher stopped on its own.
		return err
	}
}
