// Package trace holds the inference trace data model and its wire decoding.
package trace

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Matrix is a row-major 2D array.
type Matrix [][]float64

// Shape returns rows and the width of the first row. rect is false when
// rows differ in width.
func (m Matrix) Shape() (rows, cols int, rect bool) {
	rows = len(m)
	if rows == 0 {
		return 0, 0, true
	}
	cols = len(m[0])
	for _, r := range m[1:] {
		if len(r) != cols {
			return rows, cols, false
		}
	}
	return rows, cols, true
}

// Column returns row k of every matrix in layers.
func Column(layers []Matrix, k int) ([][]float64, error) {
	out := make([][]float64, len(layers))
	for l, m := range layers {
		if k < 0 || k >= len(m) {
			return nil, fmt.Errorf("layer %d has %d rows, token %d requested", l, len(m), k)
		}
		out[l] = m[k]
	}
	return out, nil
}

// TokenProb is a candidate token with its probability.
type TokenProb struct {
	Token string  `json:"token"`
	Prob  float64 `json:"prob"`
}

// UnmarshalJSON accepts ["tok", 0.4] pairs as well as objects keyed
// token/prob or token/probability.
func (tp *TokenProb) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("top-k pair has %d elements, want 2", len(pair))
		}
		if err := json.Unmarshal(pair[0], &tp.Token); err != nil {
			return fmt.Errorf("top-k token: %w", err)
		}
		if err := json.Unmarshal(pair[1], &tp.Prob); err != nil {
			return fmt.Errorf("top-k probability: %w", err)
		}
		return nil
	}

	var obj struct {
		Token       string   `json:"token"`
		Prob        *float64 `json:"prob"`
		Probability *float64 `json:"probability"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	tp.Token = obj.Token
	switch {
	case obj.Prob != nil:
		tp.Prob = *obj.Prob
	case obj.Probability != nil:
		tp.Prob = *obj.Probability
	}
	return nil
}

// FirstToken describes the distribution behind the first generated token.
type FirstToken struct {
	TopKTokens        []string  `json:"top_k_tokens"`
	TopKProbabilities []float64 `json:"top_k_probabilities"`
	ChosenToken       string    `json:"chosen_token"`
	OutputVector      []float64 `json:"output_vector"`
}

// Candidates zips the top-k tokens with their probabilities, truncated to
// the shorter of the two lists.
func (f FirstToken) Candidates() []TokenProb {
	n := min(len(f.TopKTokens), len(f.TopKProbabilities))
	out := make([]TokenProb, n)
	for i := 0; i < n; i++ {
		out[i] = TokenProb{Token: f.TopKTokens[i], Prob: f.TopKProbabilities[i]}
	}
	return out
}

// Step is one token emitted after the first.
type Step struct {
	Token string  `json:"token"`
	Prob  float64 `json:"prob"`
}

// Trace is one captured snapshot of a forward pass. It is replaced
// wholesale, never mutated after decoding.
type Trace struct {
	ID         uuid.UUID `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	// Response is the generated text that came with the trace, if any.
	Response string `json:"response,omitempty"`

	InputTokens     Field[[]string]    `json:"input_tokens,omitzero"`
	Embeddings      Field[Matrix]      `json:"embeddings,omitzero"`
	LayerEmbeddings Field[[]Matrix]    `json:"all_layer_embeddings,omitzero"`
	AttentionHeads  Field[[]Matrix]    `json:"attention_heads,omitzero"`
	FFNActivations  Field[Matrix]      `json:"ffn_activations,omitzero"`
	TopK            Field[[]TokenProb] `json:"top_k,omitzero"`
	FirstToken      Field[FirstToken]  `json:"first_token_generation,omitzero"`
	GenerationSteps Field[[]Step]      `json:"generation_steps,omitzero"`

	// Problems holds, per canonical field name, fields that were sent but
	// could not be decoded. Such fields are absent.
	Problems map[string]error `json:"-"`
}

// Problem returns the decode error recorded for field, or nil.
func (t *Trace) Problem(field string) error {
	if t == nil {
		return nil
	}
	return t.Problems[field]
}

// TokenCount returns T when input tokens are present.
func (t *Trace) TokenCount() (int, bool) {
	if t == nil || !t.InputTokens.Present {
		return 0, false
	}
	return len(t.InputTokens.Value), true
}

// Tokens returns the input tokens, or nil.
func (t *Trace) Tokens() []string {
	if t == nil {
		return nil
	}
	return t.InputTokens.Value
}

// Empty reports whether no field is present.
func (t *Trace) Empty() bool {
	return t == nil || !(t.InputTokens.Present || t.Embeddings.Present ||
		t.LayerEmbeddings.Present || t.AttentionHeads.Present ||
		t.FFNActivations.Present || t.TopK.Present ||
		t.FirstToken.Present || t.GenerationSteps.Present)
}

// Fields lists the wire names of present fields.
func (t *Trace) Fields() []string {
	if t == nil {
		return nil
	}
	var out []string
	add := func(ok bool, name string) {
		if ok {
			out = append(out, name)
		}
	}
	add(t.InputTokens.Present, "input_tokens")
	add(t.Embeddings.Present, "embeddings")
	add(t.LayerEmbeddings.Present, "all_layer_embeddings")
	add(t.AttentionHeads.Present, "attention_heads")
	add(t.FFNActivations.Present, "ffn_activations")
	add(t.TopK.Present, "top_k")
	add(t.FirstToken.Present, "first_token_generation")
	add(t.GenerationSteps.Present, "generation_steps")
	return out
}
