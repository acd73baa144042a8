package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ledgerly/internal/queue"
)

type WorkerOptions struct {
	Channels         []string
	Lease            time.Duration
	HeartbeatEvery   time.Duration
	ProgressStep     int64
	ProgressInterval time.Duration
	// Timeout bounds a single handler run. Zero means no limit.
	Timeout time.Duration
	// ReceiveBackoff is the pause after a failed Receive.
	ReceiveBackoff time.Duration
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if len(o.Channels) == 0 {
		o.Channels = []string{ChannelDefault, ChannelCSVImport}
	}
	if o.Lease <= 0 {
		o.Lease = 2 * time.Minute
	}
	if o.HeartbeatEvery <= 0 {
		o.HeartbeatEvery = o.Lease / 4
	}
	if o.ProgressStep <= 0 {
		o.ProgressStep = 1
	}
	if o.ReceiveBackoff <= 0 {
		o.ReceiveBackoff = time.Second
	}
	return o
}

// Worker executes one job at a time. It listens on every configured channel
// and takes whichever entry arrives first.
type Worker struct {
	ID       string
	Repo     *Repo
	Queue    queue.Queue
	Registry *Registry
	Options  WorkerOptions

	logger zerolog.Logger
}

func NewWorker(id string, repo *Repo, q queue.Queue, reg *Registry, opts WorkerOptions) *Worker {
	return &Worker{
		ID:       id,
		Repo:     repo,
		Queue:    q,
		Registry: reg,
		Options:  opts.withDefaults(),
		logger:   log.With().Str("component", "jobs.worker").Str("worker_id", id).Logger(),
	}
}

// NewWorkerID returns an id unique to this process and slot.
func NewWorkerID(slot int) string {
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s-%d", host, os.Getpid(), uuid.NewString()[:8], slot)
}

func (w *Worker) Run(ctx context.Context) {
	deliveries := make(chan *queue.Delivery)

	var wg sync.WaitGroup
	for _, ch := range w.Options.Channels {
		wg.Add(1)
		go func(ch string) {
			defer wg.Done()
			w.receive(ctx, ch, deliveries)
		}(ch)
	}

	w.logger.Info().Strs("channels", w.Options.Channels).Msg("worker started")
	defer func() {
		wg.Wait()
		w.logger.Info().Msg("worker stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-deliveries:
			w.Process(ctx, d)
		}
	}
}

func (w *Worker) receive(ctx context.Context, channel string, out chan<- *queue.Delivery) {
	for {
		d, err := w.Queue.Receive(ctx, channel)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error().Str("channel", channel).Err(err).Msg("queue receive failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.Options.ReceiveBackoff):
			}
			continue
		}

		select {
		case out <- d:
		case <-ctx.Done():
			_ = d.Nack(context.Background())
			return
		}
	}
}

// Process handles one delivery end to end. The delivery is acked once the job
// reached a terminal status or cannot run here; it is nacked only for
// infrastructure errors and shutdown.
func (w *Worker) Process(ctx context.Context, d *queue.Delivery) {
	l := w.logger.With().Str("job_id", d.Entry.JobID).Str("channel", d.Channel).Logger()
	settle := context.Background()

	job, err := w.Repo.Load(ctx, d.Entry.JobID)
	switch {
	case errors.Is(err, ErrNotFound):
		l.Warn().Msg("job not found, dropping entry")
		_ = d.Ack(settle)
		return
	case err != nil:
		l.Error().Err(err).Msg("load job")
		_ = d.Nack(settle)
		return
	case job.Status.Terminal():
		l.Debug().Str("status", string(job.Status)).Msg("job already terminal, dropping entry")
		_ = d.Ack(settle)
		return
	}

	job, err = w.Repo.Claim(ctx, job.ID, w.ID, w.Options.Lease)
	if err != nil {
		if errors.Is(err, ErrLeaseLost) || errors.Is(err, ErrTerminal) || errors.Is(err, ErrNotFound) {
			l.Debug().Err(err).Msg("job not claimable, dropping entry")
			_ = d.Ack(settle)
			return
		}
		l.Error().Err(err).Msg("claim job")
		_ = d.Nack(settle)
		return
	}
	l = l.With().Str("type", job.Type).Int("attempt", job.Attempts).Logger()

	handler, ok := w.Registry.Lookup(job.Type)
	if !ok {
		l.Warn().Msg("no handler registered")
		w.finish(l, job.ID, StatusFailed, Outcome{Error: ErrUnknownType.Error()})
		_ = d.Ack(settle)
		return
	}

	start := time.Now()
	task, result, runErr := w.run(ctx, job, handler)
	l = l.With().Dur("elapsed", time.Since(start)).Logger()

	switch {
	case task.Cancelled():
		l.Info().Msg("job cancelled while running")
	case runErr != nil && ctx.Err() != nil:
		// Shutdown: give the job back instead of failing it.
		if err := w.Repo.Abandon(settle, job.ID, w.ID); err != nil {
			l.Warn().Err(err).Msg("abandon job")
		}
		_ = d.Nack(settle)
		l.Info().Msg("job returned to queue on shutdown")
		return
	case runErr != nil:
		msg := SanitizeError(runErr)
		l.Warn().Err(runErr).Msg("job failed")
		w.finish(l, job.ID, StatusFailed, Outcome{Error: msg})
	default:
		w.finish(l, job.ID, StatusCompleted, Outcome{Result: result})
		l.Info().Msg("job completed")
	}
	_ = d.Ack(settle)
}

func (w *Worker) finish(l zerolog.Logger, id string, status Status, out Outcome) {
	err := w.Repo.Finish(context.Background(), id, w.ID, status, out)
	switch {
	case err == nil:
	case errors.Is(err, ErrTerminal):
		l.Info().Str("status", string(status)).Msg("job reached a terminal status elsewhere, outcome discarded")
	case errors.Is(err, ErrLeaseLost):
		l.Warn().Str("status", string(status)).Msg("lease lost before finish, outcome discarded")
	default:
		l.Error().Err(err).Str("status", string(status)).Msg("finish job")
	}
}

func (w *Worker) run(ctx context.Context, job *Job, h Handler) (*Task, any, error) {
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if w.Options.Timeout > 0 {
		var tcancel context.CancelFunc
		hctx, tcancel = context.WithTimeout(hctx, w.Options.Timeout)
		defer tcancel()
	}

	task := NewTask(job, func(ctx context.Context, processed, total int64) error {
		return w.Repo.UpdateProgress(ctx, job.ID, processed, total)
	}).Throttle(w.Options.ProgressStep, w.Options.ProgressInterval)

	done := make(chan struct{})
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		w.heartbeat(hctx, job.ID, task, cancel, done)
	}()

	result, err := invoke(hctx, h, task, w.logger)
	close(done)
	hb.Wait()
	return task, result, err
}

// heartbeat refreshes the lease until done. It stops the handler when the job
// was cancelled or the lease moved to another worker.
func (w *Worker) heartbeat(ctx context.Context, id string, task *Task, cancel context.CancelFunc, done <-chan struct{}) {
	t := time.NewTicker(w.Options.HeartbeatEvery)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			err := w.Repo.Heartbeat(ctx, id, w.ID)
			switch {
			case err == nil:
			case errors.Is(err, ErrTerminal):
				task.markCancelled()
				cancel()
				return
			case errors.Is(err, ErrLeaseLost):
				w.logger.Warn().Str("job_id", id).Msg("lease lost, stopping handler")
				cancel()
				return
			default:
				w.logger.Warn().Str("job_id", id).Err(err).Msg("heartbeat failed")
			}
		}
	}
}

func invoke(ctx context.Context, h Handler, t *Task, l zerolog.Logger) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.Error().Str("job_id", t.Job.ID).Interface("panic", r).
				Str("stack", string(debug.Stack())).Msg("handler panicked")
			res = nil
			err = Failf("internal error")
		}
	}()
	return h(ctx, t)
}

// Pool runs a fixed number of workers sharing one queue and registry.
type Pool struct {
	Workers []*Worker
}

func NewPool(n int, repo *Repo, q queue.Queue, reg *Registry, opts WorkerOptions) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{}
	for i := 0; i < n; i++ {
		p.Workers = append(p.Workers, NewWorker(NewWorkerID(i), repo, q, reg, opts))
	}
	return p
}

// Run blocks until ctx is done and every worker returned.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.Workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}
	wg.Wait()
}
