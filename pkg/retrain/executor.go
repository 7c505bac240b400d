package retrain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Status is the lifecycle state of a retrain job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is a handle to one submitted retrain. Callers poll Status or block on
// Wait; jobs are never retried automatically.
type Job struct {
	ID     string
	UserID string

	mu          sync.Mutex
	status      Status
	message     string
	err         error
	submittedAt time.Time
	finishedAt  time.Time
	done        chan struct{}
}

// Status returns the job's current state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Message returns the job's diagnostic message, set on completion.
func (j *Job) Message() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.message
}

// Err returns the job's terminal error, nil while running or on success.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Wait blocks until the job reaches a terminal state or the context ends,
// and returns the job's terminal error.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-j.done:
		return j.Err()
	}
}

func (j *Job) finish(err error) {
	j.mu.Lock()
	j.finishedAt = time.Now()
	if err != nil {
		j.status = StatusFailed
		j.message = err.Error()
		j.err = err
	} else {
		j.status = StatusSucceeded
		j.message = "model retrained and published"
	}
	j.mu.Unlock()
	close(j.done)
}

func (j *Job) setRunning() {
	j.mu.Lock()
	j.status = StatusRunning
	j.mu.Unlock()
}

// Runner executes one retrain for a user. *Orchestrator is the production
// implementation.
type Runner interface {
	Run(ctx context.Context, userID string) error
}

// Executor runs retrain jobs asynchronously, isolated from the scoring
// path. At most one retrain is in flight per user: submitting while one is
// running joins the existing job. A weighted semaphore bounds how many
// users retrain concurrently.
type Executor struct {
	runner Runner
	logger *zap.Logger
	sem    *semaphore.Weighted

	mu       sync.Mutex
	closed   bool
	jobs     map[string]*Job
	inflight map[string]*Job
	wg       sync.WaitGroup
}

// ErrClosed indicates a submission after the executor shut down.
var ErrClosed = errors.New("executor closed")

// NewExecutor creates an Executor with the given concurrency limit.
func NewExecutor(runner Runner, maxConcurrent int64, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Executor{
		runner:   runner,
		logger:   logger.Named("executor"),
		sem:      semaphore.NewWeighted(maxConcurrent),
		jobs:     make(map[string]*Job),
		inflight: make(map[string]*Job),
	}
}

// Submit enqueues a retrain for the user and returns immediately with a job
// handle. If a retrain for the same user is already in flight, its handle
// is returned instead of starting a second one.
func (e *Executor) Submit(userID string) (*Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if j := e.inflight[userID]; j != nil {
		return j, nil
	}

	j := &Job{
		ID:          uuid.NewString(),
		UserID:      userID,
		status:      StatusPending,
		submittedAt: time.Now(),
		done:        make(chan struct{}),
	}
	e.jobs[j.ID] = j
	e.inflight[userID] = j

	e.wg.Add(1)
	go e.run(j)

	e.logger.Info("retrain submitted",
		zap.String("job_id", j.ID),
		zap.String("user_id", userID))
	return j, nil
}

// Job returns a previously submitted job by id.
func (e *Executor) Job(id string) (*Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	return j, ok
}

// Close stops accepting submissions and waits for in-flight jobs.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Executor) run(j *Job) {
	defer e.wg.Done()

	// Jobs are deliberately detached from the submitting request's
	// context: a scoring client disconnecting must not abort training.
	ctx := context.Background()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.release(j, err)
		return
	}
	defer e.sem.Release(1)

	j.setRunning()
	e.release(j, e.runner.Run(ctx, j.UserID))
}

func (e *Executor) release(j *Job, err error) {
	e.mu.Lock()
	if e.inflight[j.UserID] == j {
		delete(e.inflight, j.UserID)
	}
	e.mu.Unlock()
	j.finish(err)
}
