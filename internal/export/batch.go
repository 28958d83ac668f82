// Package export turns a trace's final-layer embeddings into Arrow record
// batches, written as an IPC stream or pushed to a Flight vector store.
package export

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-lens/internal/lenserr"
	"github.com/23skdu/longbow-lens/internal/projection"
	"github.com/23skdu/longbow-lens/internal/trace"
)

// Column names of an embeddings batch.
const (
	ColToken     = "token"
	ColIndex     = "index"
	ColX         = "x"
	ColY         = "y"
	ColEmbedding = "embedding"

	metaTraceID = "trace_id"
)

// Batch is one row per token: label, position, PCA coordinates and the
// embedding vector.
type Batch struct {
	TraceID    string
	Tokens     []string
	Embeddings [][]float64
	Dims       int
	// Points is nil when the projection was unavailable; x and y are then
	// written as nulls.
	Points []projection.Point
}

// FromTrace builds a batch from t's final-layer embeddings.
func FromTrace(t *trace.Trace) (*Batch, error) {
	if t == nil || !t.Embeddings.Present {
		return nil, lenserr.Unavailable("trace has no embeddings")
	}
	m := t.Embeddings.Value
	rows, cols, rect := m.Shape()
	if !rect {
		return nil, lenserr.Malformed("embeddings rows have differing lengths")
	}
	if rows == 0 || cols == 0 {
		return nil, lenserr.Degenerate("embeddings are empty")
	}

	res, err := projection.Project(m)
	if err != nil {
		return nil, fmt.Errorf("failed to project embeddings: %w", err)
	}

	tokens := make([]string, rows)
	copy(tokens, t.Tokens())

	b := &Batch{
		TraceID:    t.ID.String(),
		Tokens:     tokens,
		Embeddings: m,
		Dims:       cols,
	}
	if res.Available {
		b.Points = res.Points
	}
	return b, nil
}

// Len returns the number of rows.
func (b *Batch) Len() int {
	return len(b.Embeddings)
}

// Schema returns the Arrow schema for b.
func (b *Batch) Schema() *arrow.Schema {
	md := arrow.NewMetadata([]string{metaTraceID}, []string{b.TraceID})
	return arrow.NewSchema([]arrow.Field{
		{Name: ColToken, Type: arrow.BinaryTypes.String},
		{Name: ColIndex, Type: arrow.PrimitiveTypes.Int32},
		{Name: ColX, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: ColY, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: ColEmbedding, Type: arrow.FixedSizeListOf(int32(b.Dims), arrow.PrimitiveTypes.Float32)},
	}, &md)
}

// Record builds an Arrow record. The caller releases it.
func (b *Batch) Record(mem memory.Allocator) arrow.Record {
	rb := array.NewRecordBuilder(mem, b.Schema())
	defer rb.Release()

	tokens := rb.Field(0).(*array.StringBuilder)
	index := rb.Field(1).(*array.Int32Builder)
	xs := rb.Field(2).(*array.Float64Builder)
	ys := rb.Field(3).(*array.Float64Builder)
	vectors := rb.Field(4).(*array.FixedSizeListBuilder)
	values := vectors.ValueBuilder().(*array.Float32Builder)

	n := b.Len()
	tokens.Reserve(n)
	index.Reserve(n)
	values.Reserve(n * b.Dims)

	for i, row := range b.Embeddings {
		tokens.Append(b.Tokens[i])
		index.Append(int32(i))
		if b.Points != nil {
			xs.Append(b.Points[i].X)
			ys.Append(b.Points[i].Y)
		} else {
			xs.AppendNull()
			ys.AppendNull()
		}
		vectors.Append(true)
		for _, v := range row {
			values.Append(float32(v))
		}
	}
	return rb.NewRecord()
}

// WriteIPC writes b to w as an Arrow IPC stream.
func WriteIPC(w io.Writer, b *Batch) error {
	mem := memory.DefaultAllocator
	rec := b.Record(mem)
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close IPC writer: %w", err)
	}
	return nil
}
