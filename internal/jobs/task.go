package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCancelled is returned by Task.Progress once the job left processing
// (cancelled by its owner, or finished elsewhere).
var ErrCancelled = errors.New("job cancelled")

type ProgressFunc func(ctx context.Context, processed, total int64) error

// Task is the view of a running job given to its handler.
type Task struct {
	Job *Job

	report   ProgressFunc
	step     int64
	interval time.Duration

	mu        sync.Mutex
	written   int64
	lastWrite time.Time

	cancelled atomic.Bool
}

func NewTask(job *Job, report ProgressFunc) *Task {
	return &Task{Job: job, report: report, step: 1, written: -1}
}

// Throttle limits progress writes to one per step items or per interval,
// whichever comes first. The final write (processed == total) always goes out.
func (t *Task) Throttle(step int64, interval time.Duration) *Task {
	if step < 1 {
		step = 1
	}
	t.step = step
	t.interval = interval
	return t
}

func (t *Task) OwnerID() uint64 { return t.Job.OwnerID }

// Decode unmarshals the job payload into v.
func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Job.Payload, v); err != nil {
		return Failf("invalid payload: " + err.Error())
	}
	return nil
}

// Progress reports processed out of total. Writes older than the stored value
// (a restarted run catching up) are ignored.
func (t *Task) Progress(ctx context.Context, processed, total int64) error {
	if t.cancelled.Load() {
		return ErrCancelled
	}
	if t.report == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	due := t.written < 0 ||
		processed >= total ||
		processed-t.written >= t.step ||
		(t.interval > 0 && time.Since(t.lastWrite) >= t.interval)
	if !due {
		return nil
	}

	err := t.report(ctx, processed, total)
	switch {
	case err == nil, errors.Is(err, ErrProgressRegression):
		t.written = processed
		t.lastWrite = time.Now()
		return nil
	case errors.Is(err, ErrTerminal):
		t.cancelled.Store(true)
		return ErrCancelled
	}
	return err
}

// Cancelled reports whether the job was observed to be cancelled. Long
// handlers check it between units of work.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

func (t *Task) markCancelled() {
	t.cancelled.Store(true)
}
