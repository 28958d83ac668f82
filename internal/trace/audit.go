package trace

import (
	"math"

	"github.com/23skdu/longbow-lens/internal/metrics"
	"github.com/23skdu/longbow-lens/internal/vecmath"
)

// TensorStats summarizes one numeric field of a trace.
type TensorStats struct {
	Name string `json:"name"`
	vecmath.Stats
}

// Unstable reports whether the tensor carried NaN or Inf values.
func (s TensorStats) Unstable() bool {
	return s.NaNs > 0 || s.Infs > 0
}

// Audit summarizes every numeric field and reports NaN/Inf counts to
// metrics.
func (t *Trace) Audit() []TensorStats {
	if t == nil {
		return nil
	}
	var out []TensorStats
	add := func(name string, s vecmath.Stats) {
		out = append(out, TensorStats{Name: name, Stats: s})
		metrics.RecordNumericalInstability(name, s.NaNs, s.Infs)
	}

	if m, ok := t.Embeddings.Get(); ok {
		add("embeddings", vecmath.SummarizeMatrix(m))
	}
	if layers, ok := t.LayerEmbeddings.Get(); ok {
		var all vecmath.Stats
		for i, m := range layers {
			all = mergeStats(all, vecmath.SummarizeMatrix(m), i == 0)
		}
		add("all_layer_embeddings", all)
	}
	if heads, ok := t.AttentionHeads.Get(); ok {
		var all vecmath.Stats
		for i, m := range heads {
			all = mergeStats(all, vecmath.SummarizeMatrix(m), i == 0)
		}
		add("attention_heads", all)
	}
	if m, ok := t.FFNActivations.Get(); ok {
		add("ffn_activations", vecmath.SummarizeMatrix(m))
	}
	if ft, ok := t.FirstToken.Get(); ok && len(ft.OutputVector) > 0 {
		add("output_vector", vecmath.Summarize(ft.OutputVector))
	}
	return out
}

func mergeStats(a, b vecmath.Stats, first bool) vecmath.Stats {
	if first {
		return b
	}
	out := vecmath.Stats{
		Zeros: a.Zeros + b.Zeros,
		NaNs:  a.NaNs + b.NaNs,
		Infs:  a.Infs + b.Infs,
		Count: a.Count + b.Count,
	}
	switch {
	case a.Count == 0:
		out.Min, out.Max = b.Min, b.Max
	case b.Count == 0:
		out.Min, out.Max = a.Min, a.Max
	default:
		out.Min, out.Max = min(a.Min, b.Min), max(a.Max, b.Max)
	}
	if out.Count > 0 {
		na, nb, n := float64(a.Count), float64(b.Count), float64(out.Count)
		out.Mean = (a.Mean*na + b.Mean*nb) / n
		// RMS combines through the mean of squares.
		out.RMS = math.Sqrt((a.RMS*a.RMS*na + b.RMS*b.RMS*nb) / n)
	}
	return out
}
