package projection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// ErrSuperseded is returned when a newer generation replaced the request
// before its result was delivered.
var ErrSuperseded = errors.New("projection superseded by a newer trace")

// ErrWorkerClosed is returned by Submit after Close.
var ErrWorkerClosed = errors.New("projection worker closed")

// Response carries a worker result back to the submitter.
type Response struct {
	Key        string
	Generation uint64
	Result     Result
	Err        error
}

type job struct {
	ctx        context.Context
	key        string
	generation uint64
	vectors    [][]float64
	out        chan Response
}

// Worker runs projections on a bounded pool of goroutines. Each request is
// tagged with a key (usually session/view) and a generation. Generations
// are tracked per scope, the key up to its first slash, so once a newer
// generation is seen for a scope, older results for every view in it are
// dropped instead of delivered.
type Worker struct {
	jobs   chan job
	group  singleflight.Group
	log    *logger.Logger
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	latestMu sync.Mutex
	latest   map[string]uint64
}

// NewWorker starts n goroutines. n < 1 is treated as 1.
func NewWorker(n int) *Worker {
	if n < 1 {
		n = 1
	}
	w := &Worker{
		jobs:   make(chan job, n*4),
		log:    logger.Log.With("projection"),
		latest: make(map[string]uint64),
	}
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.loop()
	}
	return w
}

// Submit queues a projection. The returned channel yields at most one
// Response and is then closed; it is closed without a value when the
// result went stale.
func (w *Worker) Submit(ctx context.Context, key string, generation uint64, vectors [][]float64) <-chan Response {
	out := make(chan Response, 1)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		out <- Response{Key: key, Generation: generation, Err: ErrWorkerClosed}
		close(out)
		return out
	}

	w.observe(key, generation)

	select {
	case w.jobs <- job{ctx: ctx, key: key, generation: generation, vectors: vectors, out: out}:
	case <-ctx.Done():
		out <- Response{Key: key, Generation: generation, Err: ctx.Err()}
		close(out)
	}
	return out
}

// Supersede marks generation as the newest for key's scope without
// submitting work, so pending results for older generations are discarded.
func (w *Worker) Supersede(key string, generation uint64) {
	w.observe(key, generation)
}

// Forget drops the generation tracked for key's scope. Call it when the
// scope, usually a session, goes away.
func (w *Worker) Forget(key string) {
	w.latestMu.Lock()
	delete(w.latest, scope(key))
	w.latestMu.Unlock()
}

// Scopes returns the number of scopes with a tracked generation.
func (w *Worker) Scopes() int {
	w.latestMu.Lock()
	defer w.latestMu.Unlock()
	return len(w.latest)
}

func scope(key string) string {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return key
}

func (w *Worker) observe(key string, generation uint64) {
	s := scope(key)
	w.latestMu.Lock()
	if generation > w.latest[s] {
		w.latest[s] = generation
	}
	w.latestMu.Unlock()
}

func (w *Worker) stale(key string, generation uint64) bool {
	w.latestMu.Lock()
	defer w.latestMu.Unlock()
	return generation < w.latest[scope(key)]
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for j := range w.jobs {
		w.run(j)
	}
}

func (w *Worker) run(j job) {
	defer close(j.out)

	if w.stale(j.key, j.generation) {
		metrics.RecordStaleProjection()
		w.log.Debug("Dropped stale projection before start", "key", j.key, "generation", j.generation)
		return
	}
	if err := j.ctx.Err(); err != nil {
		j.out <- Response{Key: j.key, Generation: j.generation, Err: err}
		return
	}

	flightKey := fmt.Sprintf("%s@%d", j.key, j.generation)
	v, err, shared := w.group.Do(flightKey, func() (interface{}, error) {
		return Project(j.vectors)
	})

	if w.stale(j.key, j.generation) {
		metrics.RecordStaleProjection()
		w.log.Debug("Dropped stale projection result", "key", j.key, "generation", j.generation)
		return
	}

	resp := Response{Key: j.key, Generation: j.generation, Err: err}
	if r, ok := v.(Result); ok {
		resp.Result = r
	}
	if shared {
		w.log.Debug("Shared in-flight projection", "key", j.key, "generation", j.generation)
	}
	j.out <- resp
}

// Close stops accepting work and waits for queued jobs to finish.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	w.wg.Wait()
}

// Projector picks between inline projection and the worker based on the
// number of vectors.
type Projector struct {
	threshold int
	timeout   time.Duration
	worker    *Worker
}

// NewProjector returns a Projector. A nil worker or non-positive threshold
// means every projection runs inline.
func NewProjector(threshold int, timeout time.Duration, w *Worker) *Projector {
	return &Projector{threshold: threshold, timeout: timeout, worker: w}
}

// Offloads reports whether n vectors would go to the worker.
func (p *Projector) Offloads(n int) bool {
	return p != nil && p.worker != nil && p.threshold > 0 && n >= p.threshold
}

// Project runs a projection for key at generation. Superseded requests
// return ErrSuperseded.
func (p *Projector) Project(ctx context.Context, key string, generation uint64, vectors [][]float64) (Result, error) {
	if !p.Offloads(len(vectors)) {
		return Project(vectors)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	select {
	case resp, ok := <-p.worker.Submit(ctx, key, generation, vectors):
		if !ok {
			return Result{}, ErrSuperseded
		}
		return resp.Result, resp.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Supersede forwards to the worker, if any.
func (p *Projector) Supersede(key string, generation uint64) {
	if p != nil && p.worker != nil {
		p.worker.Supersede(key, generation)
	}
}

// Forget forwards to the worker, if any.
func (p *Projector) Forget(key string) {
	if p != nil && p.worker != nil {
		p.worker.Forget(key)
	}
}
