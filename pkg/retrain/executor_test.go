package retrain

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubRunner is a controllable Runner for executor tests.
type stubRunner struct {
	block   chan struct{} // if non-nil, Run waits on it
	err     error
	active  atomic.Int64
	maxSeen atomic.Int64
	runs    atomic.Int64
}

func (r *stubRunner) Run(ctx context.Context, userID string) error {
	n := r.active.Add(1)
	for {
		prev := r.maxSeen.Load()
		if n <= prev || r.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	defer r.active.Add(-1)

	if r.block != nil {
		<-r.block
	}
	r.runs.Add(1)
	return r.err
}

func TestSubmitRunsJob(t *testing.T) {
	runner := &stubRunner{}
	e := NewExecutor(runner, 2, zaptest.NewLogger(t))
	defer e.Close()

	job, err := e.Submit("u1")
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "u1", job.UserID)

	require.NoError(t, job.Wait(context.Background()))
	assert.Equal(t, StatusSucceeded, job.Status())
	assert.Equal(t, "model retrained and published", job.Message())
	assert.NoError(t, job.Err())
}

func TestSubmitFailedJob(t *testing.T) {
	runner := &stubRunner{err: errors.New("training diverged")}
	e := NewExecutor(runner, 2, zaptest.NewLogger(t))
	defer e.Close()

	job, err := e.Submit("u1")
	require.NoError(t, err)

	assert.Error(t, job.Wait(context.Background()))
	assert.Equal(t, StatusFailed, job.Status())
	assert.Contains(t, job.Message(), "diverged")
}

func TestSingleFlightPerUser(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	e := NewExecutor(runner, 4, zaptest.NewLogger(t))

	first, err := e.Submit("u1")
	require.NoError(t, err)
	joined, err := e.Submit("u1")
	require.NoError(t, err)
	other, err := e.Submit("u2")
	require.NoError(t, err)

	assert.Same(t, first, joined, "concurrent submits for one user join the in-flight job")
	assert.NotEqual(t, first.ID, other.ID, "different users retrain independently")

	close(runner.block)
	require.NoError(t, first.Wait(context.Background()))
	require.NoError(t, other.Wait(context.Background()))
	e.Close()

	assert.EqualValues(t, 2, runner.runs.Load(), "the joined submit must not start a second run")

	// Once the job finished, a new submission starts a fresh one.
	runner.block = nil
	e2 := NewExecutor(runner, 4, zaptest.NewLogger(t))
	defer e2.Close()
	fresh, err := e2.Submit("u1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fresh.ID)
}

func TestConcurrencyBound(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	e := NewExecutor(runner, 1, zaptest.NewLogger(t))

	jobs := make([]*Job, 0, 3)
	for _, user := range []string{"u1", "u2", "u3"} {
		job, err := e.Submit(user)
		require.NoError(t, err)
		jobs = append(jobs, job)
	}

	// Give the workers a moment to contend for the semaphore.
	time.Sleep(50 * time.Millisecond)
	close(runner.block)

	for _, job := range jobs {
		require.NoError(t, job.Wait(context.Background()))
	}
	e.Close()

	assert.EqualValues(t, 1, runner.maxSeen.Load(), "at most one retrain runs at a time")
}

func TestJobLookup(t *testing.T) {
	runner := &stubRunner{}
	e := NewExecutor(runner, 2, zaptest.NewLogger(t))
	defer e.Close()

	job, err := e.Submit("u1")
	require.NoError(t, err)

	found, ok := e.Job(job.ID)
	assert.True(t, ok)
	assert.Same(t, job, found)

	_, ok = e.Job("no-such-job")
	assert.False(t, ok)
}

func TestSubmitAfterClose(t *testing.T) {
	e := NewExecutor(&stubRunner{}, 2, zaptest.NewLogger(t))
	e.Close()

	_, err := e.Submit("u1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWaitHonorsContext(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	e := NewExecutor(runner, 1, zaptest.NewLogger(t))

	job, err := e.Submit("u1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, job.Wait(ctx), context.DeadlineExceeded)

	close(runner.block)
	require.NoError(t, job.Wait(context.Background()))
	e.Close()
}
