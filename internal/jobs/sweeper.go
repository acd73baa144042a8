package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ledgerly/internal/queue"
)

type SweepOptions struct {
	// QueuedAfter is how long a job may sit queued before it is pushed again.
	QueuedAfter time.Duration
	// Lease must match the workers' lease.
	Lease time.Duration
	// Visibility is how long a transport may hold an unacked entry.
	Visibility time.Duration
	Every      time.Duration
	Batch      int
	Channels   []string
}

type SweepStats struct {
	Requeued  int
	Released  int
	Reclaimed int
}

// Sweeper recovers work lost between the store and the queue: rows whose
// push failed, jobs whose worker died, and entries a consumer never acked.
type Sweeper struct {
	Repo     *Repo
	Enqueuer *Enqueuer
	Queue    queue.Queue
	Options  SweepOptions

	logger zerolog.Logger
}

func NewSweeper(repo *Repo, enq *Enqueuer, q queue.Queue, opts SweepOptions) *Sweeper {
	if opts.QueuedAfter <= 0 {
		opts.QueuedAfter = 5 * time.Minute
	}
	if opts.Lease <= 0 {
		opts.Lease = 2 * time.Minute
	}
	if opts.Visibility <= 0 {
		opts.Visibility = 10 * time.Minute
	}
	if opts.Every <= 0 {
		opts.Every = time.Minute
	}
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if len(opts.Channels) == 0 {
		opts.Channels = []string{ChannelDefault, ChannelCSVImport}
	}
	return &Sweeper{
		Repo:     repo,
		Enqueuer: enq,
		Queue:    q,
		Options:  opts,
		logger:   log.With().Str("component", "jobs.sweeper").Logger(),
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Options.Every)
	defer t.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("sweep failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	var st SweepStats
	now := time.Now().UTC()
	leaseBefore := now.Add(-s.Options.Lease)

	stale, err := s.Repo.ListStale(ctx, now.Add(-s.Options.QueuedAfter), leaseBefore, s.Options.Batch)
	if err != nil {
		return st, err
	}
	for i := range stale {
		job := &stale[i]
		l := s.logger.With().Str("job_id", job.ID).Str("status", string(job.Status)).Logger()

		switch job.Status {
		case StatusQueued:
			if err := s.Repo.Touch(ctx, job.ID); err != nil {
				l.Warn().Err(err).Msg("touch queued job")
				continue
			}
		case StatusProcessing:
			if err := s.Repo.Release(ctx, job.ID, leaseBefore); err != nil {
				l.Warn().Err(err).Msg("release expired lease")
				continue
			}
			st.Released++
		default:
			continue
		}

		if err := s.Enqueuer.Requeue(ctx, job); err != nil {
			l.Warn().Err(err).Msg("requeue job")
			continue
		}
		st.Requeued++
	}

	if rc, ok := s.Queue.(queue.Reclaimer); ok {
		for _, ch := range s.Options.Channels {
			n, err := rc.Reclaim(ctx, ch, s.Options.Visibility)
			if err != nil {
				s.logger.Warn().Str("channel", ch).Err(err).Msg("reclaim in-flight entries")
				continue
			}
			st.Reclaimed += n
		}
	}

	if st.Requeued+st.Reclaimed > 0 {
		s.logger.Info().Int("requeued", st.Requeued).Int("released", st.Released).
			Int("reclaimed", st.Reclaimed).Msg("sweep recovered work")
	}
	return st, nil
}
