package assembler

import (
	"strconv"

	"github.com/23skdu/longbow-lens/internal/colormap"
	"github.com/23skdu/longbow-lens/internal/present"
	"github.com/23skdu/longbow-lens/internal/projection"
	"github.com/23skdu/longbow-lens/internal/vecmath"
)

const (
	defaultLabelWidth   = 12
	defaultNeuronWindow = 128
	defaultBarScale     = 100
	defaultNearest      = 5
)

// Selection is per-view UI state. Zero values select the defaults.
type Selection struct {
	Head         int     `json:"head"`
	Token        int     `json:"token"`
	NeuronWindow int     `json:"neuron_window"`
	LabelWidth   int     `json:"label_width"`
	BarScale     float64 `json:"bar_scale"`
	Nearest      int     `json:"nearest"`
}

func (s Selection) withDefaults() Selection {
	if s.NeuronWindow <= 0 {
		s.NeuronWindow = defaultNeuronWindow
	}
	if s.LabelWidth <= 0 {
		s.LabelWidth = defaultLabelWidth
	}
	if s.BarScale <= 0 {
		s.BarScale = defaultBarScale
	}
	if s.Nearest <= 0 {
		s.Nearest = defaultNearest
	}
	return s
}

// Palettes assigns a palette to each kind of heatmap.
type Palettes struct {
	Attention colormap.Palette
	Embedding colormap.Palette
	FFN       colormap.Palette
	Scalar    colormap.Palette
}

func DefaultPalettes() Palettes {
	return Palettes{
		Attention: colormap.MustLookup(colormap.Inferno),
		Embedding: colormap.MustLookup(colormap.Greys),
		FFN:       colormap.MustLookup(colormap.Viridis),
		Scalar:    colormap.MustLookup(colormap.Blues),
	}
}

// Heatmap is a colored matrix with its own domain. Gradient is the scale
// sampled evenly from Domain.Lo to Domain.Hi.
type Heatmap struct {
	Rows      int              `json:"rows"`
	Cols      int              `json:"cols"`
	Values    [][]float64      `json:"values"`
	Colors    [][]colormap.RGB `json:"colors"`
	Domain    colormap.Domain  `json:"domain"`
	Palette   string           `json:"palette"`
	Stops     []string         `json:"stops"`
	Gradient  []string         `json:"gradient"`
	RowLabels []string         `json:"row_labels,omitempty"`
	ColLabels []string         `json:"col_labels,omitempty"`
}

// NewHeatmap colors values over their own min/max.
func NewHeatmap(values [][]float64, rowLabels, colLabels []string, p colormap.Palette) Heatmap {
	lo, hi, _ := vecmath.MatrixMinMax(values)
	scale := colormap.NewScale(lo, hi, p)
	cols := 0
	if len(values) > 0 {
		cols = len(values[0])
	}
	return Heatmap{
		Rows:      len(values),
		Cols:      cols,
		Values:    values,
		Colors:    scale.Colorize(values),
		Domain:    scale.Domain,
		Palette:   p.Name,
		Stops:     p.Hex(),
		Gradient:  sample(scale, gradientSteps),
		RowLabels: rowLabels,
		ColLabels: colLabels,
	}
}

const gradientSteps = 11

// sample evaluates s at n evenly spaced points of its domain.
func sample(s colormap.Scale, n int) []string {
	color := s.Func()
	out := make([]string, n)
	for i := range out {
		v := s.Domain.Lo + (s.Domain.Hi-s.Domain.Lo)*float64(i)/float64(n-1)
		out[i] = color(v).Hex()
	}
	return out
}

// TokenChip is one token in the tokenization view.
type TokenChip struct {
	Index   int    `json:"index"`
	Text    string `json:"text"`
	Label   string `json:"label"`
	Escaped string `json:"escaped"`
}

type TokenizationView struct {
	Count  int         `json:"count"`
	Tokens []TokenChip `json:"tokens"`
}

type AttentionView struct {
	HeadCount int     `json:"head_count"`
	Head      int     `json:"head"`
	Heatmap   Heatmap `json:"heatmap"`
}

type FFNView struct {
	Window       int     `json:"window"`
	TotalNeurons int     `json:"total_neurons"`
	Heatmap      Heatmap `json:"heatmap"`
}

type InspectorView struct {
	TokenIndex int           `json:"token_index"`
	Token      string        `json:"token"`
	Dimensions int           `json:"dimensions"`
	Heatmap    Heatmap       `json:"heatmap"`
	Stats      vecmath.Stats `json:"stats"`
}

type ScatterPoint struct {
	Index  int              `json:"index"`
	Label  string           `json:"label"`
	Raw    projection.Point `json:"raw"`
	Scaled projection.Point `json:"scaled"`
}

type ScatterView struct {
	Available         bool           `json:"available"`
	Reason            string         `json:"reason,omitempty"`
	ExplainedVariance [2]float64     `json:"explained_variance"`
	Points            []ScatterPoint `json:"points"`
}

// Dot is one cell of the similarity bubble plot.
type Dot struct {
	Radius  float64 `json:"radius"`
	Opacity float64 `json:"opacity"`
}

type Neighbour struct {
	Index      int     `json:"index"`
	Token      string  `json:"token"`
	Similarity float64 `json:"similarity"`
}

type SimilarityView struct {
	Heatmap    Heatmap     `json:"heatmap"`
	Dots       [][]Dot     `json:"dots"`
	TokenIndex int         `json:"token_index"`
	Neighbours []Neighbour `json:"neighbours"`
}

type EmbeddingsView struct {
	Inspector  *InspectorView  `json:"inspector"`
	Scatter    *ScatterView    `json:"scatter"`
	Similarity *SimilarityView `json:"similarity"`
}

type JourneyPoint struct {
	Layer   int              `json:"layer"`
	Label   string           `json:"label"`
	Raw     projection.Point `json:"raw"`
	Scaled  projection.Point `json:"scaled"`
	Opacity float64          `json:"opacity"`
}

type LayerJourneyView struct {
	TokenIndex int            `json:"token_index"`
	Token      string         `json:"token"`
	Layers     int            `json:"layers"`
	Available  bool           `json:"available"`
	Reason     string         `json:"reason,omitempty"`
	Points     []JourneyPoint `json:"points"`
}

// Bar is one candidate in a probability bar chart.
type Bar struct {
	Token   string  `json:"token"`
	Label   string  `json:"label"`
	Prob    float64 `json:"prob"`
	Width   float64 `json:"width"`
	Percent string  `json:"percent"`
	Chosen  bool    `json:"chosen,omitempty"`
}

type TopKView struct {
	Scale float64 `json:"scale"`
	Bars  []Bar   `json:"bars"`
}

type FirstTokenView struct {
	ChosenToken  string   `json:"chosen_token"`
	Bars         []Bar    `json:"bars"`
	OutputVector *Heatmap `json:"output_vector,omitempty"`
}

// tokenLabels returns display labels for n rows, falling back to indices
// when tokens are missing or short.
func tokenLabels(tokens []string, n, width int) []string {
	out := make([]string, n)
	for i := range out {
		if i < len(tokens) {
			out[i] = present.Label(tokens[i], width)
		} else {
			out[i] = strconv.Itoa(i)
		}
	}
	return out
}

func indexLabels(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}
