// Package assembler turns an inference trace into per-section view models.
// Each section is built in isolation: a missing field hides one section and
// a malformed field fails one section, never the panel.
package assembler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/23skdu/longbow-lens/internal/lenserr"
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/metrics"
	"github.com/23skdu/longbow-lens/internal/projection"
	"github.com/23skdu/longbow-lens/internal/trace"
)

// Section names, in panel order.
const (
	SectionGeneration   = "generation"
	SectionFirstToken   = "first_token"
	SectionTokenization = "tokenization"
	SectionAttention    = "attention"
	SectionFFN          = "ffn"
	SectionEmbeddings   = "embeddings"
	SectionLayerJourney = "layer_journey"
	SectionTopK         = "top_k"
)

// Failure is the typed reason a section could not be built.
type Failure struct {
	Code    lenserr.Code `json:"code"`
	Message string       `json:"message"`
}

// Section is one panel entry. Available is false both when the trace
// lacks the section's fields (Failure nil) and when building it failed.
type Section struct {
	Name      string   `json:"name"`
	Title     string   `json:"title"`
	Available bool     `json:"available"`
	View      any      `json:"view,omitempty"`
	Failure   *Failure `json:"failure,omitempty"`
}

// Panel is the full set of sections for one trace.
type Panel struct {
	TraceID    string    `json:"trace_id,omitempty"`
	Generation uint64    `json:"generation"`
	Response   string    `json:"response,omitempty"`
	Fields     []string  `json:"fields"`
	Selection  Selection `json:"selection"`
	Sections   []Section `json:"sections"`
}

// Section returns the named section, or nil.
func (p *Panel) Section(name string) *Section {
	if p == nil {
		return nil
	}
	for i := range p.Sections {
		if p.Sections[i].Name == name {
			return &p.Sections[i]
		}
	}
	return nil
}

// Input is a trace snapshot with the identity used to discard stale
// projection results.
type Input struct {
	Trace      *trace.Trace
	Key        string
	Generation uint64
}

type builder struct {
	name  string
	title string
	// field is the trace field whose decode problem fails this section.
	field    string
	requires func(*trace.Trace) bool
	build    func(ctx context.Context, a *Assembler, in Input, sel Selection) (any, error)
}

var builders = []builder{
	{
		name:  SectionGeneration,
		field: trace.FieldGenerationSteps,
		title: "Generation Pipeline",
		requires: func(t *trace.Trace) bool {
			return t.InputTokens.Present || t.GenerationSteps.Present
		},
		build: func(_ context.Context, _ *Assembler, in Input, _ Selection) (any, error) {
			return GenerationGraph(in.Trace.InputTokens.Value, in.Trace.GenerationSteps.Value), nil
		},
	},
	{
		name:     SectionFirstToken,
		field:    trace.FieldFirstToken,
		title:    "First Token Generation",
		requires: func(t *trace.Trace) bool { return t.FirstToken.Present },
		build: func(_ context.Context, a *Assembler, in Input, sel Selection) (any, error) {
			return FirstToken(in.Trace, sel.BarScale, sel.LabelWidth, a.palettes.Embedding)
		},
	},
	{
		name:     SectionTokenization,
		field:    trace.FieldInputTokens,
		title:    "Tokenization",
		requires: func(t *trace.Trace) bool { return t.InputTokens.Present },
		build: func(_ context.Context, _ *Assembler, in Input, sel Selection) (any, error) {
			return Tokenization(in.Trace, sel.LabelWidth)
		},
	},
	{
		name:     SectionAttention,
		field:    trace.FieldAttentionHeads,
		title:    "Attention Heatmap Explorer",
		requires: func(t *trace.Trace) bool { return t.AttentionHeads.Present },
		build: func(_ context.Context, a *Assembler, in Input, sel Selection) (any, error) {
			return Attention(in.Trace, sel.Head, sel.LabelWidth, a.palettes.Attention)
		},
	},
	{
		name:     SectionFFN,
		field:    trace.FieldFFNActivations,
		title:    "Feed-Forward Network Activations",
		requires: func(t *trace.Trace) bool { return t.FFNActivations.Present },
		build: func(_ context.Context, a *Assembler, in Input, sel Selection) (any, error) {
			return FFN(in.Trace, sel.NeuronWindow, sel.LabelWidth, a.palettes.FFN)
		},
	},
	{
		name:     SectionEmbeddings,
		field:    trace.FieldEmbeddings,
		title:    "Embedding Analysis",
		requires: func(t *trace.Trace) bool { return t.Embeddings.Present },
		build: func(ctx context.Context, a *Assembler, in Input, sel Selection) (any, error) {
			return a.Embeddings(ctx, in, sel)
		},
	},
	{
		name:     SectionLayerJourney,
		field:    trace.FieldLayerEmbeddings,
		title:    "Layer-by-Layer Embedding Refinement",
		requires: func(t *trace.Trace) bool { return t.LayerEmbeddings.Present },
		build: func(ctx context.Context, a *Assembler, in Input, sel Selection) (any, error) {
			return a.LayerJourney(ctx, in, sel.Token)
		},
	},
	{
		name:     SectionTopK,
		field:    trace.FieldTopK,
		title:    "Next Token Prediction",
		requires: func(t *trace.Trace) bool { return t.TopK.Present },
		build: func(_ context.Context, _ *Assembler, in Input, sel Selection) (any, error) {
			return TopK(in.Trace, sel.BarScale, sel.LabelWidth)
		},
	},
}

// SectionNames lists every section in panel order.
func SectionNames() []string {
	out := make([]string, len(builders))
	for i, b := range builders {
		out[i] = b.name
	}
	return out
}

// Assembler builds panels. It holds no per-trace state.
type Assembler struct {
	palettes  Palettes
	projector *projection.Projector
	log       *logger.Logger
}

// New returns an Assembler. A nil projector projects inline.
func New(p Palettes, projector *projection.Projector) *Assembler {
	return &Assembler{
		palettes:  p,
		projector: projector,
		log:       logger.Log.With("assembler"),
	}
}

// Assemble builds every section. A nil or empty trace yields a panel with
// every section unavailable.
func (a *Assembler) Assemble(ctx context.Context, in Input, sel Selection) *Panel {
	sel = sel.withDefaults()
	p := &Panel{Generation: in.Generation, Selection: sel, Fields: in.Trace.Fields()}
	if in.Trace != nil {
		p.TraceID = in.Trace.ID.String()
		p.Response = in.Trace.Response
	}
	for _, b := range builders {
		p.Sections = append(p.Sections, a.run(ctx, b, in, sel))
	}
	return p
}

// Section builds a single named section.
func (a *Assembler) Section(ctx context.Context, in Input, sel Selection, name string) (Section, error) {
	sel = sel.withDefaults()
	for _, b := range builders {
		if b.name == name {
			return a.run(ctx, b, in, sel), nil
		}
	}
	return Section{}, fmt.Errorf("unknown section %q", name)
}

func (a *Assembler) run(ctx context.Context, b builder, in Input, sel Selection) (s Section) {
	s = Section{Name: b.name, Title: b.title}
	if in.Trace == nil {
		return s
	}
	if err := in.Trace.Problem(b.field); err != nil {
		s.Failure = a.fail(b.name, err)
		return s
	}
	if !b.requires(in.Trace) {
		return s
	}

	defer func() {
		if r := recover(); r != nil {
			a.log.Error("Section builder panicked", "section", b.name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			s.Available, s.View = false, nil
			s.Failure = a.fail(b.name, lenserr.Newf(lenserr.CodeInternal, "panic: %v", r))
		}
	}()

	view, err := b.build(ctx, a, in, sel)
	if err != nil {
		if lenserr.IsCode(err, lenserr.CodeUnavailable) {
			return s
		}
		s.Failure = a.fail(b.name, err)
		return s
	}
	if _, err := json.Marshal(view); err != nil {
		s.Failure = a.fail(b.name, lenserr.Degenerate("view holds values that cannot be encoded").WithCause(err))
		return s
	}
	s.Available, s.View = true, view
	return s
}

func (a *Assembler) fail(section string, err error) *Failure {
	code := lenserr.CodeOf(err)
	if code == "" {
		code = lenserr.CodeInternal
	}
	detail := ""
	var le *lenserr.Error
	if errors.As(err, &le) {
		detail = le.ContextString()
		// Errors recorded on a trace are shared between requests.
		if le == err && le.Section == "" {
			tagged := *le
			err = tagged.WithSection(section)
		}
	}
	metrics.RecordSectionFailure(section, string(code))
	a.log.Warn("Section unavailable", "section", section, "code", string(code), "error", err, "context", detail)
	return &Failure{Code: code, Message: err.Error()}
}

// Embeddings builds the inspector, PCA scatter and similarity views over
// the final-layer embeddings.
func (a *Assembler) Embeddings(ctx context.Context, in Input, sel Selection) (*EmbeddingsView, error) {
	sel = sel.withDefaults()
	inspector, err := EmbeddingInspector(in.Trace, sel.Token, a.palettes.Embedding)
	if err != nil {
		return nil, err
	}
	sim, err := Similarity(in.Trace, sel.Token, sel.Nearest, sel.LabelWidth, a.palettes.Scalar)
	if err != nil {
		return nil, err
	}

	m := in.Trace.Embeddings.Value
	res, err := a.project(ctx, in, "embeddings", m)
	if err != nil {
		return nil, err
	}
	labels := tokenLabels(in.Trace.Tokens(), len(m), sel.LabelWidth)
	return &EmbeddingsView{
		Inspector:  inspector,
		Scatter:    Scatter(labels, res),
		Similarity: sim,
	}, nil
}

// LayerJourney projects token k's vector at every layer to 2D.
func (a *Assembler) LayerJourney(ctx context.Context, in Input, k int) (*LayerJourneyView, error) {
	vectors, tok, err := JourneyVectors(in.Trace, k)
	if err != nil {
		return nil, err
	}
	res, err := a.project(ctx, in, fmt.Sprintf("journey/%d", k), vectors)
	if err != nil {
		return nil, err
	}
	return Journey(k, tok, res), nil
}

func (a *Assembler) project(ctx context.Context, in Input, view string, vectors [][]float64) (projection.Result, error) {
	key := in.Key + "/" + view
	res, err := a.projector.Project(ctx, key, in.Generation, vectors)
	if errors.Is(err, projection.ErrSuperseded) {
		return res, lenserr.Unavailable("superseded by a newer trace").WithCause(err)
	}
	return res, err
}
