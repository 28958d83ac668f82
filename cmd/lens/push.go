package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-lens/internal/export"
	"github.com/23skdu/longbow-lens/internal/logger"
)

func newPushCmd(g *globalFlags) *cobra.Command {
	var (
		addr    string
		path    string
		timeout time.Duration
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "push <trace.json>",
		Short: "Push trace embeddings to an Arrow Flight endpoint",
		Long: `Push the final-layer embeddings of a trace, with token labels and PCA
coordinates, to an Arrow Flight server with DoPut.

Example:
  lens push trace.json
  lens push trace.json --addr localhost:3000 --path embeddings`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Flight.Addr()
			}
			if path == "" {
				path = cfg.Flight.Path
			}

			t, err := readTrace(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			b, err := export.FromTrace(t)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var sink export.Sink
			if dryRun {
				sink = export.NewMemorySink()
			} else {
				fs := export.NewFlightSink(addr, path)
				if err := fs.Connect(ctx); err != nil {
					return err
				}
				sink = fs
			}
			defer sink.Close()

			if err := export.Push(ctx, sink, b); err != nil {
				return err
			}
			logger.Log.Info("Pushed embeddings", "rows", b.Len(), "dims", b.Dims, "dry_run", dryRun)
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %d rows (%d dims) from trace %s\n", b.Len(), b.Dims, b.TraceID)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Flight host:port (default from config)")
	cmd.Flags().StringVar(&path, "path", "", "Flight descriptor path (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Push timeout")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Build the record batch without sending it")
	return cmd
}
