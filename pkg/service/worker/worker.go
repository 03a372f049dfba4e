package worker

import (
	"context"
	"sync"
	"time"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/kurame123/Yuki-bot/pkg/service/graph"
	"github.com/kurame123/Yuki-bot/pkg/service/memsvc"
	"github.com/kurame123/Yuki-bot/pkg/utils/errutil"
	"github.com/kurame123/Yuki-bot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	defaultQueueSize           = 256
	defaultMaintenanceInterval = time.Hour
)

// Kind identifies the type of a post-turn job
type Kind string

const (
	KindMemoryInsert Kind = "memory_insert"
	KindGraphIngest  Kind = "graph_ingest"
)

// Job is one unit of post-turn work. Content drives a memory insert;
// Record drives a graph ingest of an already stored memory.
type Job struct {
	Kind    Kind
	Scope   types.Scope
	UserID  types.UserID
	Content string
	Record  *model.MemoryRecord
}

// Queue consumes post-turn jobs on a single background goroutine and runs
// periodic maintenance (memory GC, graph cleanup) over every partition it
// has seen jobs for.
//
// Architecture assumptions:
// - Single server instance (no distributed locking)
// - For future horizontal scaling, move the queue to an external broker
type Queue struct {
	memories *memsvc.Service
	graphs   *graph.Service
	jobs     chan Job
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu     sync.Mutex
	scopes map[string]types.Scope
}

type Option func(*Queue)

// WithQueueSize overrides the job channel capacity
func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.jobs = make(chan Job, n)
		}
	}
}

// WithMaintenanceInterval overrides the periodic GC/cleanup interval
func WithMaintenanceInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.interval = d
		}
	}
}

func New(memories *memsvc.Service, graphs *graph.Service, opts ...Option) (*Queue, error) {
	if memories == nil {
		return nil, goerr.New("memory service is required")
	}
	if graphs == nil {
		return nil, goerr.New("graph service is required")
	}

	q := &Queue{
		memories: memories,
		graphs:   graphs,
		jobs:     make(chan Job, defaultQueueSize),
		interval: defaultMaintenanceInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		scopes:   make(map[string]types.Scope),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Start launches the consumer loop. It does not block.
func (q *Queue) Start(ctx context.Context) error {
	logging.Default().Info("post-turn worker starting",
		"queue_size", cap(q.jobs), "maintenance_interval", q.interval.String())

	go q.run(ctx)

	return nil
}

// Stop signals the worker to stop after the current job and waits for it
func (q *Queue) Stop() {
	logging.Default().Info("post-turn worker stopping")
	close(q.stopCh)
	<-q.doneCh
	logging.Default().Info("post-turn worker stopped")
}

// Enqueue hands a job to the worker without blocking. When the queue is
// full the job is dropped and logged; the chat reply must never wait on
// post-turn work.
func (q *Queue) Enqueue(ctx context.Context, job Job) bool {
	q.mu.Lock()
	q.scopes[job.Scope.Key()] = job.Scope
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return true
	default:
		logging.From(ctx).Warn("post-turn job dropped, queue full",
			"kind", job.Kind, "scope", job.Scope.Key())
		return false
	}
}

// Pending returns the number of queued jobs, for tests and introspection
func (q *Queue) Pending() int {
	return len(q.jobs)
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.doneCh)

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case job := <-q.jobs:
			q.execute(ctx, job)

		case <-ticker.C:
			q.maintain(ctx)

		case <-q.stopCh:
			logging.Default().Info("post-turn worker received stop signal")
			return

		case <-ctx.Done():
			logging.Default().Info("post-turn worker context cancelled")
			return
		}
	}
}

// execute runs one job with a panic guard so a bad job never kills the loop
func (q *Queue) execute(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			logging.From(ctx).Error("post-turn job panicked",
				"kind", job.Kind, "scope", job.Scope.Key(), "recover", r)
		}
	}()

	switch job.Kind {
	case KindMemoryInsert:
		rec, err := q.memories.Insert(ctx, job.Scope, job.UserID, job.Content)
		if err != nil {
			errutil.Handle(ctx, err, "post-turn memory insert failed")
			return
		}
		// Extraction follows the stored record so provenance has a real ID
		q.Enqueue(ctx, Job{
			Kind:   KindGraphIngest,
			Scope:  job.Scope,
			UserID: job.UserID,
			Record: rec,
		})

	case KindGraphIngest:
		if job.Record == nil {
			logging.From(ctx).Warn("graph ingest job without record", "scope", job.Scope.Key())
			return
		}
		if _, err := q.graphs.Ingest(ctx, job.Record); err != nil {
			errutil.Handle(ctx, err, "post-turn graph ingest failed")
		}

	default:
		logging.From(ctx).Warn("unknown post-turn job kind", "kind", job.Kind)
	}
}

// maintain runs one GC plus cleanup sweep over every known partition
func (q *Queue) maintain(ctx context.Context) {
	q.mu.Lock()
	scopes := make([]types.Scope, 0, len(q.scopes))
	for _, scope := range q.scopes {
		scopes = append(scopes, scope)
	}
	q.mu.Unlock()

	for _, scope := range scopes {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if _, err := q.memories.GarbageCollect(ctx, scope); err != nil {
			errutil.Handle(ctx, err, "scheduled memory GC failed")
		}
		if _, err := q.graphs.Cleanup(ctx, scope); err != nil {
			errutil.Handle(ctx, err, "scheduled graph cleanup failed")
		}
	}
}
