package trace

import (
	"errors"
	"math"
	"testing"

	"github.com/23skdu/longbow-lens/internal/lenserr"
)

func TestValidateAttention(t *testing.T) {
	tests := []struct {
		name   string
		heads  []Matrix
		tokens int
		want   error
	}{
		{"square matching", []Matrix{{{1, 0}, {0, 1}}}, 2, nil},
		{"unknown token count", []Matrix{{{1}}}, -1, nil},
		{"not square", []Matrix{{{1, 0, 0}, {0, 1, 0}}}, 2, lenserr.ErrMalformedTrace},
		{"ragged", []Matrix{{{1, 0}, {1}}}, 2, lenserr.ErrMalformedTrace},
		{"wrong size", []Matrix{{{1, 0}, {0, 1}}}, 3, lenserr.ErrDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAttention(tt.heads, tt.tokens)
			if tt.want == nil {
				if err != nil {
					t.Errorf("unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateLayers(t *testing.T) {
	ok := []Matrix{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}}
	if err := ValidateLayers(ok, 2); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	widths := []Matrix{{{1, 2}, {3, 4}}, {{5, 6, 0}, {7, 8, 0}}}
	err := ValidateLayers(widths, 2)
	if !errors.Is(err, lenserr.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	var le *lenserr.Error
	if !errors.As(err, &le) || le.Context["layer"] != "1" {
		t.Errorf("expected layer context, got %v", err)
	}
	if err := ValidateLayers(ok, 3); !errors.Is(err, lenserr.ErrDimensionMismatch) {
		t.Errorf("expected token mismatch, got %v", err)
	}
}

func TestTraceValidate(t *testing.T) {
	tr := &Trace{
		InputTokens:    Some([]string{"a", "b"}),
		Embeddings:     Some(Matrix{{1}, {2}}),
		FFNActivations: Some(Matrix{{1, 2, 3}}),
		AttentionHeads: Some([]Matrix{{{1, 0}, {0, 1}}}),
	}
	errs := tr.Validate()
	if len(errs) != 1 {
		t.Fatalf("expected exactly one failing field, got %v", errs)
	}
	if !errors.Is(errs["ffn_activations"], lenserr.ErrDimensionMismatch) {
		t.Errorf("ffn: %v", errs["ffn_activations"])
	}
}

func TestAuditCountsInstability(t *testing.T) {
	tr := &Trace{
		Embeddings:     Some(Matrix{{1, math.NaN()}, {math.Inf(1), 0}}),
		AttentionHeads: Some([]Matrix{{{0.5, 0.5}}, {{1, 3}}}),
	}
	stats := tr.Audit()
	if len(stats) != 2 {
		t.Fatalf("expected 2 tensors, got %d", len(stats))
	}
	emb := stats[0]
	if emb.Name != "embeddings" || emb.NaNs != 1 || emb.Infs != 1 || !emb.Unstable() {
		t.Errorf("unexpected embedding stats %+v", emb)
	}
	attn := stats[1]
	if attn.Count != 4 || attn.Min != 0.5 || attn.Max != 3 || attn.Mean != 1.25 {
		t.Errorf("unexpected merged attention stats %+v", attn)
	}
	if attn.Unstable() {
		t.Error("attention should be stable")
	}
}
