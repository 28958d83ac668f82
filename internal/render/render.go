// Package render draws an assembled panel as a standalone go-echarts HTML
// page. It only reads view models; all numbers come from the assembler.
package render

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/23skdu/longbow-lens/internal/assembler"
	"github.com/23skdu/longbow-lens/internal/present"
)

const (
	chartWidth  = "100%"
	chartHeight = "420px"

	barColor    = "#5470c6"
	chosenColor = "#ee6666"
)

// Render writes p as one HTML page. Sections missing from the trace are
// skipped; failed sections appear as an empty chart carrying the failure.
func Render(w io.Writer, p *assembler.Panel) error {
	if p == nil {
		return fmt.Errorf("render: nil panel")
	}
	page := components.NewPage()
	page.PageTitle = "Longbow Lens"
	if p.TraceID != "" {
		page.PageTitle = fmt.Sprintf("Longbow Lens - %s", p.TraceID)
	}

	added := 0
	for _, s := range p.Sections {
		cs := Section(s)
		if len(cs) == 0 {
			continue
		}
		page.AddCharts(cs...)
		added += len(cs)
	}
	if added == 0 {
		page.AddCharts(placeholder("No visualization data", "the trace carries no renderable fields"))
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}
	return nil
}

// Section returns the charts for one panel section.
func Section(s assembler.Section) []components.Charter {
	if !s.Available {
		if s.Failure == nil {
			return nil
		}
		return []components.Charter{placeholder(s.Title, fmt.Sprintf("%s: %s", s.Failure.Code, s.Failure.Message))}
	}

	switch v := s.View.(type) {
	case *assembler.Graph:
		if v == nil {
			return nil
		}
		return []components.Charter{graphChart(s.Title, v)}
	case *assembler.TokenizationView:
		return []components.Charter{tokenChart(s.Title, v)}
	case *assembler.AttentionView:
		sub := fmt.Sprintf("head %d of %d", v.Head+1, v.HeadCount)
		return []components.Charter{heatmapChart(s.Title, sub, v.Heatmap)}
	case *assembler.FFNView:
		sub := fmt.Sprintf("first %d of %d neurons", v.Window, v.TotalNeurons)
		return []components.Charter{heatmapChart(s.Title, sub, v.Heatmap)}
	case *assembler.EmbeddingsView:
		return embeddingCharts(s.Title, v)
	case *assembler.LayerJourneyView:
		return []components.Charter{journeyChart(s.Title, v)}
	case *assembler.TopKView:
		return []components.Charter{barChart(s.Title, "", v.Bars)}
	case *assembler.FirstTokenView:
		out := []components.Charter{barChart(s.Title, "chosen: "+present.ShowWhitespace(v.ChosenToken), v.Bars)}
		if v.OutputVector != nil {
			out = append(out, heatmapChart(s.Title+" - Output Vector", "", *v.OutputVector))
		}
		return out
	}
	return nil
}

func globalOpts(title, subtitle string) []charts.GlobalOpts {
	return []charts.GlobalOpts{
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
	}
}

func placeholder(title, subtitle string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(globalOpts(title, subtitle)...)
	return bar
}

// value maps non-finite numbers to echarts' empty marker; JSON has no NaN.
func value(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return v
}

func axisLabels(labels []string, n int) []string {
	if len(labels) == n {
		return labels
	}
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}

func heatmapChart(title, subtitle string, h assembler.Heatmap) *charts.HeatMap {
	heatmap := charts.NewHeatMap()

	lo, hi := h.Domain.Lo, h.Domain.Hi
	if h.Domain.Collapsed() {
		hi = lo + 1
	}

	heatmap.SetGlobalOptions(append(globalOpts(title, subtitle),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", AxisLabel: &opts.AxisLabel{Rotate: 45}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: axisLabels(h.RowLabels, h.Rows)}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: gradient(h)},
		}),
	)...)

	data := make([]opts.HeatMapData, 0, h.Rows*h.Cols)
	for y, row := range h.Values {
		for x, v := range row {
			data = append(data, opts.HeatMapData{Value: [3]interface{}{x, y, value(v)}})
		}
	}
	heatmap.SetXAxis(axisLabels(h.ColLabels, h.Cols)).AddSeries(h.Palette, data)
	return heatmap
}

// gradient is the visual map ramp: the heatmap's scale sampled across its
// domain.
func gradient(h assembler.Heatmap) []string {
	if len(h.Gradient) > 0 {
		return h.Gradient
	}
	return h.Stops
}

func barChart(title, subtitle string, bars []assembler.Bar) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(append(globalOpts(title, subtitle),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", AxisLabel: &opts.AxisLabel{Rotate: 45}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "%", Min: 0, Max: 100}),
	)...)

	labels := make([]string, len(bars))
	data := make([]opts.BarData, len(bars))
	for i, b := range bars {
		labels[i] = b.Label
		color := barColor
		if b.Chosen {
			color = chosenColor
		}
		data[i] = opts.BarData{
			Name:      b.Percent,
			Value:     value(b.Prob * 100),
			ItemStyle: &opts.ItemStyle{Color: color},
		}
	}
	bar.SetXAxis(labels).AddSeries("probability", data)
	return bar
}

func tokenChart(title string, v *assembler.TokenizationView) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(append(globalOpts(title, fmt.Sprintf("%d tokens", v.Count)),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", AxisLabel: &opts.AxisLabel{Rotate: 45}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "chars"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)...)

	labels := make([]string, len(v.Tokens))
	data := make([]opts.BarData, len(v.Tokens))
	for i, tok := range v.Tokens {
		labels[i] = tok.Label
		data[i] = opts.BarData{Name: present.ShowWhitespace(tok.Text), Value: utf8.RuneCountInString(tok.Text)}
	}
	bar.SetXAxis(labels).AddSeries("length", data,
		charts.WithItemStyleOpts(opts.ItemStyle{Color: barColor}),
	)
	return bar
}

func scatterChart(title, subtitle string) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(append(globalOpts(title, subtitle),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "PC1", Min: 0, Max: 100}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "PC2", Min: 0, Max: 100}),
	)...)
	return scatter
}

func explained(ev [2]float64) string {
	return fmt.Sprintf("explained variance %s / %s", present.Percent(ev[0]), present.Percent(ev[1]))
}

func embeddingCharts(title string, v *assembler.EmbeddingsView) []components.Charter {
	var out []components.Charter
	if in := v.Inspector; in != nil {
		sub := fmt.Sprintf("token %d %q, %d dims", in.TokenIndex, present.ShowWhitespace(in.Token), in.Dimensions)
		out = append(out, heatmapChart(title+" - Vector", sub, in.Heatmap))
	}
	if sc := v.Scatter; sc != nil {
		if sc.Available {
			chart := scatterChart(title+" - PCA", explained(sc.ExplainedVariance))
			data := make([]opts.ScatterData, len(sc.Points))
			for i, p := range sc.Points {
				data[i] = opts.ScatterData{Name: p.Label, Value: []interface{}{value(p.Scaled.X), value(p.Scaled.Y)}}
			}
			chart.AddSeries("tokens", data)
			out = append(out, chart)
		} else {
			out = append(out, placeholder(title+" - PCA", "projection unavailable: "+sc.Reason))
		}
	}
	if sim := v.Similarity; sim != nil {
		var near []string
		for _, n := range sim.Neighbours {
			near = append(near, fmt.Sprintf("%s %s", present.ShowWhitespace(n.Token), present.Decimal(n.Similarity, 2)))
		}
		sub := ""
		if len(near) > 0 {
			sub = "nearest: " + strings.Join(near, ", ")
		}
		out = append(out, heatmapChart(title+" - Cosine Similarity", sub, sim.Heatmap))
	}
	return out
}

func journeyChart(title string, v *assembler.LayerJourneyView) components.Charter {
	sub := fmt.Sprintf("token %d %q across %d layers", v.TokenIndex, present.ShowWhitespace(v.Token), v.Layers)
	if !v.Available {
		return placeholder(title, sub+": "+v.Reason)
	}
	chart := scatterChart(title, sub)
	data := make([]opts.ScatterData, len(v.Points))
	for i, p := range v.Points {
		data[i] = opts.ScatterData{Name: p.Label, Value: []interface{}{value(p.Scaled.X), value(p.Scaled.Y)}}
	}
	chart.AddSeries("layers", data)
	return chart
}

// Graph layout columns: inputs, hub, generated steps.
const (
	colInput = 0
	colHub   = 240
	colStep  = 480
	rowGap   = 48

	graphLabelWidth = 16
)

func graphChart(title string, g *assembler.Graph) *charts.Graph {
	graph := charts.NewGraph()
	graph.SetGlobalOptions(globalOpts(title, fmt.Sprintf("%d input, %d generated",
		g.Count(assembler.NodeInput), g.Count(assembler.NodeStep)))...)

	names := nodeNames(g)
	nodes := make([]opts.GraphNode, 0, len(g.Nodes))
	var inputs, steps int
	for _, n := range g.Nodes {
		node := opts.GraphNode{Name: names[n.ID], SymbolSize: 24}
		switch n.Kind {
		case assembler.NodeInput:
			node.X, node.Y = colInput, float32(inputs*rowGap)
			inputs++
		case assembler.NodeHub:
			node.X, node.Y = colHub, 0
			node.SymbolSize = 48
			node.ItemStyle = &opts.ItemStyle{Color: chosenColor}
		case assembler.NodeStep:
			node.X, node.Y = colStep, float32(steps*rowGap)
			node.Value = float32(n.Prob)
			steps++
		case assembler.NodeContinuation:
			node.X, node.Y = colStep, float32(steps*rowGap)
			node.Symbol = "diamond"
		}
		nodes = append(nodes, node)
	}

	links := make([]opts.GraphLink, len(g.Edges))
	for i, e := range g.Edges {
		links[i] = opts.GraphLink{Source: names[e.From], Target: names[e.To]}
	}

	graph.AddSeries("generation", nodes, links,
		charts.WithGraphChartOpts(opts.GraphChart{Layout: "none", Roam: opts.Bool(true)}),
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "right"}),
	)
	return graph
}

// nodeNames maps node IDs to the names shown on the chart. echarts links
// nodes by name, so clashing names get a position suffix.
func nodeNames(g *assembler.Graph) map[string]string {
	names := make(map[string]string, len(g.Nodes))
	used := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		name := n.Label
		switch n.Kind {
		case assembler.NodeInput:
			name = present.IndexedLabel(n.Index, n.Token, graphLabelWidth)
		case assembler.NodeStep:
			name = present.IndexedLabel(n.Index, n.Token, graphLabelWidth) + " " + n.Percent
		}
		base := name
		for i := 2; used[name]; i++ {
			name = fmt.Sprintf("%s #%d", base, i)
		}
		used[name] = true
		names[n.ID] = name
	}
	return names
}
