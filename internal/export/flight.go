package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/metrics"
)

// DefaultPath is the Flight descriptor path embeddings are put under.
const DefaultPath = "embeddings"

var ErrNotConnected = errors.New("flight sink not connected")

// Sink receives embedding records.
type Sink interface {
	Put(ctx context.Context, rec arrow.Record) error
	Close() error
}

// Push sends b to sink.
func Push(ctx context.Context, sink Sink, b *Batch) error {
	rec := b.Record(memory.DefaultAllocator)
	defer rec.Release()

	err := sink.Put(ctx, rec)
	metrics.RecordFlightPush(err == nil)
	return err
}

// FlightSink puts records to an Arrow Flight server with DoPut.
type FlightSink struct {
	addr string
	path string

	mu     sync.Mutex
	client flight.Client
	log    *logger.Logger
}

func NewFlightSink(addr, path string) *FlightSink {
	if path == "" {
		path = DefaultPath
	}
	return &FlightSink{addr: addr, path: path, log: logger.Log.With("flight")}
}

// Connect creates the gRPC client. The dial is lazy; errors surface on Put.
func (s *FlightSink) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}
	client, err := flight.NewClientWithMiddleware(s.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	s.client = client
	return nil
}

// Put streams rec under the sink's descriptor path and waits for the
// server to finish the call.
func (s *FlightSink) Put(ctx context.Context, rec arrow.Record) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}

	stream, err := client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("failed to open DoPut stream: %w", err)
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	w.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{s.path}})
	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close send: %w", err)
	}
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("DoPut failed: %w", err)
		}
	}

	s.log.Info("Pushed embeddings", "addr", s.addr, "path", s.path, "rows", rec.NumRows())
	return nil
}

func (s *FlightSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
