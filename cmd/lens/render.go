package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-lens/internal/assembler"
	"github.com/23skdu/longbow-lens/internal/config"
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/render"
	"github.com/23skdu/longbow-lens/internal/server"
)

// viewFlags mirror the panel query parameters of the HTTP API.
type viewFlags struct {
	head    int
	token   int
	neurons int
	nearest int
}

func (v *viewFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&v.head, "head", -1, "Attention head (default from config)")
	cmd.Flags().IntVar(&v.token, "token", 0, "Token index for inspector, similarity and layer journey")
	cmd.Flags().IntVar(&v.neurons, "neurons", 0, "FFN neuron window (default from config)")
	cmd.Flags().IntVar(&v.nearest, "nearest", 0, "Nearest tokens listed in the similarity view")
}

func (v *viewFlags) selection(cfg *config.Config) assembler.Selection {
	sel := assembler.Selection{
		Head:         cfg.View.DefaultHead,
		Token:        v.token,
		NeuronWindow: cfg.View.FFNNeuronWindow,
		LabelWidth:   cfg.View.TokenLabelWidth,
		BarScale:     cfg.View.TopKBarScale,
		Nearest:      cfg.View.NearestTokens,
	}
	if v.head >= 0 {
		sel.Head = v.head
	}
	if v.neurons > 0 {
		sel.NeuronWindow = v.neurons
	}
	if v.nearest > 0 {
		sel.Nearest = v.nearest
	}
	return sel
}

// assemblePath decodes and assembles the trace at path.
func assemblePath(cmd *cobra.Command, cfg *config.Config, path string, v *viewFlags) (*assembler.Panel, error) {
	t, err := readTrace(path, cmd.InOrStdin())
	if err != nil {
		return nil, err
	}
	a := assembler.New(server.Palettes(cfg), nil)
	p := a.Assemble(cmd.Context(), assembler.Input{Trace: t, Key: "cli", Generation: 1}, v.selection(cfg))
	for _, s := range p.Sections {
		if s.Failure != nil {
			logger.Log.Warn("Section failed", "section", s.Name, "code", string(s.Failure.Code), "error", s.Failure.Message)
		}
	}
	return p, nil
}

func newRenderCmd(g *globalFlags) *cobra.Command {
	var (
		v      viewFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "render <trace.json>",
		Short: "Render a trace to an HTML page",
		Long: `Render a trace file (or - for stdin) to a standalone HTML page of charts.

Example:
  lens render trace.json -o trace.html
  lens render trace.json --head 3 --token 5 -o trace.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			p, err := assemblePath(cmd, cfg, args[0], &v)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output: %w", err)
				}
				defer f.Close()
				w = f
			}
			if err := render.Render(w, p); err != nil {
				return err
			}
			if output != "" && output != "-" {
				logger.Log.Info("Rendered trace", "output", output, "sections", len(p.Sections))
			}
			return nil
		},
	}
	v.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output HTML file (stdout when empty)")
	return cmd
}

func newPanelCmd(g *globalFlags) *cobra.Command {
	var v viewFlags
	cmd := &cobra.Command{
		Use:   "panel <trace.json>",
		Short: "Print the assembled panel as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			p, err := assemblePath(cmd, cfg, args[0], &v)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
	v.register(cmd)
	return cmd
}
