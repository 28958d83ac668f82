package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-lens/internal/config"
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/trace"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "lens",
		Short: "Visualize inference traces",
		Long: `lens turns inference traces (tokens, embeddings, attention heads,
FFN activations, top-k predictions) into render-ready views.

Commands:
  serve    Run the HTTP API with live trace sessions
  render   Render a trace file to a standalone HTML page
  panel    Print the assembled panel of a trace as JSON
  push     Push a trace's embeddings to an Arrow Flight endpoint`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to YAML config (defaults apply when absent)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override log level (DEBUG, INFO, WARN, ERROR)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Override log format (json, console)")

	root.AddCommand(
		newServeCmd(g),
		newRenderCmd(g),
		newPanelCmd(g),
		newPushCmd(g),
	)
	return root
}

// load reads the config, applies flag overrides and sets up logging on
// stderr so stdout stays free for command output.
func (g *globalFlags) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath == "" {
		cfg = config.Default()
	} else if cfg, err = config.LoadOrDefault(g.configPath); err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.SetupWriter(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// readTrace decodes a trace from path, or stdin when path is "-".
func readTrace(path string, stdin io.Reader) (*trace.Trace, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace: %w", err)
		}
		defer f.Close()
		r = f
	}
	t, err := trace.Decode(r)
	if err != nil {
		return nil, err
	}
	for field, err := range t.Validate() {
		logger.Log.Warn("Trace field failed validation", "field", field, "error", err)
	}
	return t, nil
}
