package trace

import (
	"strconv"

	"github.com/23skdu/longbow-lens/internal/lenserr"
)

// ValidateTokenMatrix checks that m is rectangular and, when tokens >= 0,
// has one row per token.
func ValidateTokenMatrix(name string, m Matrix, tokens int) error {
	rows, _, rect := m.Shape()
	if !rect {
		return lenserr.Malformed("%s rows differ in width", name)
	}
	if tokens >= 0 && rows != tokens {
		return lenserr.DimensionMismatch(tokens, rows).
			WithContext("field", name).
			WithContext("expected", "one row per input token")
	}
	return nil
}

// ValidateAttention checks every head is square and, when tokens >= 0,
// sized T×T.
func ValidateAttention(heads []Matrix, tokens int) error {
	for h, m := range heads {
		rows, cols, rect := m.Shape()
		if !rect || rows != cols {
			return lenserr.Malformed("attention head %d is not square (%dx%d)", h, rows, cols).
				WithContext("head", strconv.Itoa(h))
		}
		if tokens >= 0 && rows != tokens {
			return lenserr.DimensionMismatch(tokens, rows).
				WithContext("field", "attention_heads").
				WithContext("head", strconv.Itoa(h))
		}
	}
	return nil
}

// ValidateLayers checks each layer matrix has one row per token and that
// all layers share a width.
func ValidateLayers(layers []Matrix, tokens int) error {
	width := -1
	for l, m := range layers {
		if err := ValidateTokenMatrix("all_layer_embeddings", m, tokens); err != nil {
			if e, ok := err.(*lenserr.Error); ok {
				return e.WithContext("layer", strconv.Itoa(l))
			}
			return err
		}
		if len(m) == 0 {
			continue
		}
		if width >= 0 && len(m[0]) != width {
			return lenserr.DimensionMismatch(width, len(m[0])).
				WithContext("field", "all_layer_embeddings").
				WithContext("layer", strconv.Itoa(l))
		}
		width = len(m[0])
	}
	return nil
}

// Validate runs every shape check on present fields and returns one error
// per failing field, keyed by wire name, including fields that failed to
// decode. The trace is usable either way: a failing field only degrades the
// views that need it.
func (t *Trace) Validate() map[string]error {
	if t == nil {
		return nil
	}
	tokens := -1
	if n, ok := t.TokenCount(); ok {
		tokens = n
	}
	errs := make(map[string]error, len(t.Problems))
	for field, err := range t.Problems {
		errs[field] = err
	}
	if m, ok := t.Embeddings.Get(); ok {
		if err := ValidateTokenMatrix("embeddings", m, tokens); err != nil {
			errs[FieldEmbeddings] = err
		}
	}
	if layers, ok := t.LayerEmbeddings.Get(); ok {
		if err := ValidateLayers(layers, tokens); err != nil {
			errs[FieldLayerEmbeddings] = err
		}
	}
	if heads, ok := t.AttentionHeads.Get(); ok {
		if err := ValidateAttention(heads, tokens); err != nil {
			errs[FieldAttentionHeads] = err
		}
	}
	if m, ok := t.FFNActivations.Get(); ok {
		if err := ValidateTokenMatrix("ffn_activations", m, tokens); err != nil {
			errs[FieldFFNActivations] = err
		}
	}
	return errs
}
