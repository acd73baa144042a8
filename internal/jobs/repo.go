package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Repo is the gorm-backed job record store. Every status or lease change is a
// conditional UPDATE, so concurrent writers on one job id serialize on the row.
type Repo struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{DB: db}
}

func (r *Repo) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// Create inserts job as queued with zero progress.
func (r *Repo) Create(ctx context.Context, job *Job) error {
	if job.ID == "" || job.Type == "" {
		return fmt.Errorf("%w: id and type are required", ErrInvalidRequest)
	}
	now := r.now()
	job.Status = StatusQueued
	job.ProgressProcessed = 0
	job.ProgressTotal = 0
	job.Result = nil
	job.Error = nil
	job.LockedBy = nil
	job.LockedAt = nil
	job.Attempts = 0
	if job.Channel == "" {
		job.Channel = ChannelFor(job.Type)
	}
	if len(job.Payload) == 0 {
		job.Payload = datatypes.JSON("{}")
	}
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := r.DB.WithContext(ctx).Create(job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get returns the job only when it belongs to ownerID. A job owned by someone
// else is reported as not found.
func (r *Repo) Get(ctx context.Context, id string, ownerID uint64) (*Job, error) {
	var job Job
	err := r.DB.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// Load reads a job without owner scoping. Worker side only.
func (r *Repo) Load(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load job: %w", err)
	}
	return &job, nil
}

type ListFilter struct {
	Status Status
	Type   string
	Limit  int
}

func (r *Repo) ListByOwner(ctx context.Context, ownerID uint64, f ListFilter) ([]Job, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := r.DB.WithContext(ctx).Where("owner_id = ?", ownerID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	var out []Job
	if err := q.Order("created_at desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

// sources lists the statuses a job may move out of into to.
func sources(to Status) []Status {
	switch to {
	case StatusProcessing:
		return []Status{StatusQueued}
	case StatusCompleted, StatusFailed:
		return []Status{StatusProcessing}
	case StatusCancelled:
		return []Status{StatusQueued, StatusProcessing}
	}
	return nil
}

func (r *Repo) terminalUpdates(status Status, out Outcome, now time.Time) (map[string]any, error) {
	u := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	if status.Terminal() {
		u["finished_at"] = now
		u["locked_by"] = nil
	}
	switch status {
	case StatusCompleted:
		res, err := marshalResult(out.Result)
		if err != nil {
			return nil, err
		}
		u["result"] = res
		u["error"] = nil
	case StatusFailed:
		msg := out.Error
		if msg == "" {
			msg = "job failed"
		}
		u["result"] = nil
		u["error"] = msg
	case StatusCancelled:
		u["result"] = nil
		u["error"] = nil
	}
	return u, nil
}

func marshalResult(v any) (datatypes.JSON, error) {
	switch t := v.(type) {
	case nil:
		return datatypes.JSON("{}"), nil
	case datatypes.JSON:
		return t, nil
	case json.RawMessage:
		return datatypes.JSON(t), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal job result: %w", err)
	}
	return datatypes.JSON(b), nil
}

// UpdateStatus moves a job to status. Leaving a terminal status is rejected
// with ErrTerminal.
func (r *Repo) UpdateStatus(ctx context.Context, id string, status Status, out Outcome) error {
	from := sources(status)
	if from == nil {
		return fmt.Errorf("%w: to %q", ErrInvalidTransition, status)
	}
	u, err := r.terminalUpdates(status, out, r.now())
	if err != nil {
		return err
	}
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(u)
	if res.Error != nil {
		return fmt.Errorf("update job status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.explain(ctx, id, nil, ErrInvalidTransition)
	}
	return nil
}

// Finish writes the terminal outcome of a run, but only while workerID still
// holds the lease.
func (r *Repo) Finish(ctx context.Context, id, workerID string, status Status, out Outcome) error {
	if status != StatusCompleted && status != StatusFailed {
		return fmt.Errorf("%w: finish with %q", ErrInvalidTransition, status)
	}
	u, err := r.terminalUpdates(status, out, r.now())
	if err != nil {
		return err
	}
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ? AND locked_by = ?", id, StatusProcessing, workerID).
		Updates(u)
	if res.Error != nil {
		return fmt.Errorf("finish job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.explain(ctx, id, nil, ErrLeaseLost)
	}
	return nil
}

// UpdateProgress stores processed/total. processed may never decrease.
func (r *Repo) UpdateProgress(ctx context.Context, id string, processed, total int64) error {
	if processed < 0 || total < 0 {
		return fmt.Errorf("%w: negative progress", ErrInvalidRequest)
	}
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ? AND progress_processed <= ?", id, []Status{StatusQueued, StatusProcessing}, processed).
		Updates(map[string]any{
			"progress_processed": processed,
			"progress_total":     total,
			"updated_at":         r.now(),
		})
	if res.Error != nil {
		return fmt.Errorf("update job progress: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.explain(ctx, id, &processed, ErrInvalidTransition)
	}
	return nil
}

// Claim moves a job into processing under workerID. A job already processing
// can be taken over only when its lease is released or older than lease.
func (r *Repo) Claim(ctx context.Context, id, workerID string, lease time.Duration) (*Job, error) {
	now := r.now()
	cutoff := now.Add(-lease)
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Where(r.DB.Where("status = ?", StatusQueued).
			Or("status = ? AND (locked_by IS NULL OR locked_at IS NULL OR locked_at < ?)", StatusProcessing, cutoff)).
		Updates(map[string]any{
			"status":     StatusProcessing,
			"locked_by":  workerID,
			"locked_at":  now,
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("claim job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, r.explain(ctx, id, nil, ErrLeaseLost)
	}
	return r.Load(ctx, id)
}

// Heartbeat refreshes the lease held by workerID.
func (r *Repo) Heartbeat(ctx context.Context, id, workerID string) error {
	now := r.now()
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ? AND locked_by = ?", id, StatusProcessing, workerID).
		Updates(map[string]any{"locked_at": now, "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("heartbeat job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.explain(ctx, id, nil, ErrLeaseLost)
	}
	return nil
}

// Cancel marks a queued or processing job of ownerID as cancelled. A running
// handler observes it on its next progress write or heartbeat.
func (r *Repo) Cancel(ctx context.Context, id string, ownerID uint64) (*Job, error) {
	u, err := r.terminalUpdates(StatusCancelled, Outcome{}, r.now())
	if err != nil {
		return nil, err
	}
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND owner_id = ? AND status IN ?", id, ownerID, sources(StatusCancelled)).
		Updates(u)
	if res.Error != nil {
		return nil, fmt.Errorf("cancel job: %w", res.Error)
	}
	job, err := r.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && job.Status != StatusCancelled {
		return job, ErrTerminal
	}
	return job, nil
}

// ListStale returns queued jobs untouched since queuedBefore and processing
// jobs whose lease is older than leaseBefore.
func (r *Repo) ListStale(ctx context.Context, queuedBefore, leaseBefore time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Job
	err := r.DB.WithContext(ctx).
		Where("status = ? AND updated_at < ?", StatusQueued, queuedBefore.UTC()).
		Or("status = ? AND locked_at < ?", StatusProcessing, leaseBefore.UTC()).
		Order("created_at asc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return out, nil
}

// Touch bumps updated_at of a queued job so the sweep does not pick it again
// right away.
func (r *Repo) Touch(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, StatusQueued).
		Update("updated_at", r.now()).Error
}

// Release drops an expired lease so the next delivery can claim the job.
func (r *Repo) Release(ctx context.Context, id string, leaseBefore time.Time) error {
	now := r.now()
	return r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ? AND locked_at < ?", id, StatusProcessing, leaseBefore.UTC()).
		Updates(map[string]any{"locked_by": nil, "locked_at": now, "updated_at": now}).Error
}

// SupersededImports lists terminal csv import jobs of ownerID for the same
// original file name.
func (r *Repo) SupersededImports(ctx context.Context, ownerID uint64, filename string) ([]Job, error) {
	var out []Job
	err := r.DB.WithContext(ctx).
		Where("owner_id = ? AND type = ? AND status IN ?", ownerID, TypeCSVImport,
			[]Status{StatusCompleted, StatusFailed, StatusCancelled}).
		Where(datatypes.JSONQuery("payload").Equals(filename, "original_filename")).
		Order("created_at desc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list superseded imports: %w", err)
	}
	return out, nil
}

// DeleteTerminal removes terminal jobs of ownerID by id.
func (r *Repo) DeleteTerminal(ctx context.Context, ownerID uint64, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.DB.WithContext(ctx).
		Where("owner_id = ? AND id IN ? AND status IN ?", ownerID, ids,
			[]Status{StatusCompleted, StatusFailed, StatusCancelled}).
		Delete(&Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// explain turns a zero-row conditional update into the error that describes
// why it did not apply.
func (r *Repo) explain(ctx context.Context, id string, processed *int64, fallback error) error {
	job, err := r.Load(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrTerminal
	}
	if processed != nil && *processed < job.ProgressProcessed {
		return ErrProgressRegression
	}
	return fallback
}

// Abandon drops the lease of workerID without finishing the job, so the next
// delivery can claim it immediately.
func (r *Repo) Abandon(ctx context.Context, id, workerID string) error {
	return r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ? AND locked_by = ?", id, StatusProcessing, workerID).
		Updates(map[string]any{"locked_by": nil, "updated_at": r.now()}).Error
}
