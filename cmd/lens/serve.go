package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-lens/internal/export"
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/projection"
	"github.com/23skdu/longbow-lens/internal/server"
	"github.com/23skdu/longbow-lens/internal/session"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. Clients create a session, PUT backend responses to
/api/sessions/{id}/trace and read panels, rendered pages and Arrow exports.

Example:
  lens serve --config lens.yaml
  lens serve --port 8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			worker := projection.NewWorker(cfg.Projection.Workers)
			defer worker.Close()
			projector := projection.NewProjector(cfg.Projection.OffloadThreshold, cfg.Projection.Timeout, worker)

			var sink export.Sink
			if cfg.Flight.Enabled {
				fs := export.NewFlightSink(cfg.Flight.Addr(), cfg.Flight.Path)
				if err := fs.Connect(ctx); err != nil {
					return err
				}
				defer fs.Close()
				sink = fs
			}

			logger.Log.Info("Starting lens", "version", server.Version, "addr", cfg.Server.Addr(),
				"flight", cfg.Flight.Enabled, "offload_threshold", cfg.Projection.OffloadThreshold)
			return server.New(cfg, session.NewRegistry(), projector, sink).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Override listen host")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override listen port")
	return cmd
}
