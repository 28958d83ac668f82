package assembler

import (
	"strconv"
	"strings"

	"github.com/23skdu/longbow-lens/internal/colormap"
	"github.com/23skdu/longbow-lens/internal/lenserr"
	"github.com/23skdu/longbow-lens/internal/present"
	"github.com/23skdu/longbow-lens/internal/projection"
	"github.com/23skdu/longbow-lens/internal/similarity"
	"github.com/23skdu/longbow-lens/internal/trace"
	"github.com/23skdu/longbow-lens/internal/vecmath"
)

// tokenCount returns T, or -1 when the trace carries no tokens.
func tokenCount(t *trace.Trace) int {
	if n, ok := t.TokenCount(); ok {
		return n
	}
	return -1
}

func Tokenization(t *trace.Trace, width int) (*TokenizationView, error) {
	tokens, ok := t.InputTokens.Get()
	if !ok {
		return nil, lenserr.Unavailable("input_tokens absent")
	}
	v := &TokenizationView{Count: len(tokens), Tokens: make([]TokenChip, len(tokens))}
	for i, tok := range tokens {
		v.Tokens[i] = TokenChip{
			Index:   i,
			Text:    tok,
			Label:   present.Label(tok, width),
			Escaped: present.EscapeToken(tok),
		}
	}
	return v, nil
}

// Attention exposes one head. Other heads are not touched.
func Attention(t *trace.Trace, head, width int, p colormap.Palette) (*AttentionView, error) {
	heads, ok := t.AttentionHeads.Get()
	if !ok {
		return nil, lenserr.Unavailable("attention_heads absent")
	}
	if len(heads) == 0 {
		return nil, lenserr.Malformed("attention_heads is empty")
	}
	if head < 0 || head >= len(heads) {
		return nil, lenserr.InvalidSelection("head", head, len(heads))
	}
	m := heads[head]
	if err := trace.ValidateAttention([]trace.Matrix{m}, tokenCount(t)); err != nil {
		return nil, err
	}
	labels := tokenLabels(t.Tokens(), len(m), width)
	return &AttentionView{
		HeadCount: len(heads),
		Head:      head,
		Heatmap:   NewHeatmap(m, labels, labels, p),
	}, nil
}

// FFN shows the first window neurons of each token row. The trace matrix
// is not modified.
func FFN(t *trace.Trace, window, width int, p colormap.Palette) (*FFNView, error) {
	m, ok := t.FFNActivations.Get()
	if !ok {
		return nil, lenserr.Unavailable("ffn_activations absent")
	}
	if err := trace.ValidateTokenMatrix("ffn_activations", m, tokenCount(t)); err != nil {
		return nil, err
	}
	_, total, _ := m.Shape()
	shown := min(window, total)
	rows := make([][]float64, len(m))
	for i, row := range m {
		rows[i] = append([]float64(nil), row[:shown]...)
	}
	return &FFNView{
		Window:       shown,
		TotalNeurons: total,
		Heatmap:      NewHeatmap(rows, tokenLabels(t.Tokens(), len(m), width), indexLabels(shown), p),
	}, nil
}

func selectToken(t *trace.Trace, rows, k int) (string, error) {
	if k < 0 || k >= rows {
		return "", lenserr.InvalidSelection("token", k, rows)
	}
	if tokens := t.Tokens(); k < len(tokens) {
		return tokens[k], nil
	}
	return "", nil
}

// EmbeddingInspector shows the final-layer vector of token k as a 1×D strip.
func EmbeddingInspector(t *trace.Trace, k int, p colormap.Palette) (*InspectorView, error) {
	m, ok := t.Embeddings.Get()
	if !ok {
		return nil, lenserr.Unavailable("embeddings absent")
	}
	if err := trace.ValidateTokenMatrix("embeddings", m, tokenCount(t)); err != nil {
		return nil, err
	}
	tok, err := selectToken(t, len(m), k)
	if err != nil {
		return nil, err
	}
	vec := m[k]
	return &InspectorView{
		TokenIndex: k,
		Token:      tok,
		Dimensions: len(vec),
		Heatmap:    NewHeatmap([][]float64{vec}, nil, indexLabels(len(vec)), p),
		Stats:      vecmath.Summarize(vec),
	}, nil
}

// Similarity builds the cosine similarity matrix of the final-layer
// embeddings plus the bubble plot sizing and the nearest tokens to k.
func Similarity(t *trace.Trace, k, nearest, width int, p colormap.Palette) (*SimilarityView, error) {
	m, ok := t.Embeddings.Get()
	if !ok {
		return nil, lenserr.Unavailable("embeddings absent")
	}
	if err := trace.ValidateTokenMatrix("embeddings", m, tokenCount(t)); err != nil {
		return nil, err
	}
	if _, err := selectToken(t, len(m), k); err != nil {
		return nil, err
	}

	sim := similarity.Matrix(m)
	labels := tokenLabels(t.Tokens(), len(m), width)
	dots := make([][]Dot, len(sim))
	for i, row := range sim {
		dots[i] = make([]Dot, len(row))
		for j, s := range row {
			dots[i][j] = Dot{Radius: similarity.DotRadius(s), Opacity: similarity.Opacity(s)}
		}
	}

	v := &SimilarityView{
		Heatmap:    NewHeatmap(sim, labels, labels, p),
		Dots:       dots,
		TokenIndex: k,
	}
	for _, j := range similarity.Nearest(sim, k, nearest) {
		v.Neighbours = append(v.Neighbours, Neighbour{Index: j, Token: labels[j], Similarity: sim[k][j]})
	}
	return v, nil
}

// Scatter turns a projection of labelled vectors into a view.
func Scatter(labels []string, res projection.Result) *ScatterView {
	v := &ScatterView{
		Available:         res.Available,
		Reason:            res.Reason,
		ExplainedVariance: res.ExplainedVariance,
		Points:            make([]ScatterPoint, len(res.Points)),
	}
	scaled := projection.Scale(res.Points)
	for i, pt := range res.Points {
		label := ""
		if i < len(labels) {
			label = labels[i]
		}
		v.Points[i] = ScatterPoint{Index: i, Label: label, Raw: pt, Scaled: scaled[i]}
	}
	return v
}

// JourneyVectors extracts token k from every layer, forming an L×D matrix.
func JourneyVectors(t *trace.Trace, k int) ([][]float64, string, error) {
	layers, ok := t.LayerEmbeddings.Get()
	if !ok {
		return nil, "", lenserr.Unavailable("all_layer_embeddings absent")
	}
	if len(layers) == 0 {
		return nil, "", lenserr.Malformed("all_layer_embeddings is empty")
	}
	if err := trace.ValidateLayers(layers, tokenCount(t)); err != nil {
		return nil, "", err
	}
	tok, err := selectToken(t, len(layers[0]), k)
	if err != nil {
		return nil, "", err
	}
	vectors, err := trace.Column(layers, k)
	if err != nil {
		return nil, "", lenserr.Malformed("%v", err)
	}
	return vectors, tok, nil
}

// Journey turns the projection of one token's per-layer vectors into a
// path. Later layers are drawn more opaque.
func Journey(k int, token string, res projection.Result) *LayerJourneyView {
	n := len(res.Points)
	v := &LayerJourneyView{
		TokenIndex: k,
		Token:      token,
		Layers:     n,
		Available:  res.Available,
		Reason:     res.Reason,
		Points:     make([]JourneyPoint, n),
	}
	scaled := projection.Scale(res.Points)
	for i, pt := range res.Points {
		v.Points[i] = JourneyPoint{
			Layer:   i,
			Label:   "Layer " + strconv.Itoa(i),
			Raw:     pt,
			Scaled:  scaled[i],
			Opacity: float64(i+1) / float64(n),
		}
	}
	return v
}

func bars(cands []trace.TokenProb, chosen string, scale float64, width int) []Bar {
	out := make([]Bar, len(cands))
	want := strings.TrimSpace(chosen)
	for i, c := range cands {
		out[i] = Bar{
			Token:   c.Token,
			Label:   present.Label(c.Token, width),
			Prob:    c.Prob,
			Width:   present.BarWidth(c.Prob, scale),
			Percent: present.Percent(c.Prob),
			Chosen:  chosen != "" && strings.TrimSpace(c.Token) == want,
		}
	}
	return out
}

func TopK(t *trace.Trace, scale float64, width int) (*TopKView, error) {
	cands, ok := t.TopK.Get()
	if !ok {
		return nil, lenserr.Unavailable("top_k absent")
	}
	return &TopKView{Scale: scale, Bars: bars(cands, "", scale, width)}, nil
}

// FirstToken shows the candidates behind the first generated token with
// the chosen one marked, plus the output vector strip.
func FirstToken(t *trace.Trace, scale float64, width int, p colormap.Palette) (*FirstTokenView, error) {
	ft, ok := t.FirstToken.Get()
	if !ok {
		return nil, lenserr.Unavailable("first_token_generation absent")
	}
	if len(ft.TopKTokens) != len(ft.TopKProbabilities) {
		return nil, lenserr.DimensionMismatch(len(ft.TopKTokens), len(ft.TopKProbabilities)).
			WithContext("field", "first_token_generation.top_k")
	}
	v := &FirstTokenView{
		ChosenToken: ft.ChosenToken,
		Bars:        bars(ft.Candidates(), ft.ChosenToken, scale, width),
	}
	if len(ft.OutputVector) > 0 {
		hm := NewHeatmap([][]float64{ft.OutputVector}, nil, indexLabels(len(ft.OutputVector)), p)
		v.OutputVector = &hm
	}
	return v, nil
}
