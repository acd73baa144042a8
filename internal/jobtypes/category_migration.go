package jobtypes

import (
	"context"

	"ledgerly/internal/jobs"
)

type CategoryMigrationPayload struct {
	SourceCategoryID string `json:"source_category_id"`
	TargetCategoryID string `json:"target_category_id"`
	OwnerID          uint64 `json:"owner_id,omitempty"`
}

type CategoryMigrationResult struct {
	Migrated int64 `json:"migrated"`
}

// CategoryMigration reassigns every transaction of the source category to the
// target category.
func (h *Handlers) CategoryMigration(ctx context.Context, t *jobs.Task) (any, error) {
	var p CategoryMigrationPayload
	if err := t.Decode(&p); err != nil {
		return nil, err
	}
	if p.OwnerID != 0 && p.OwnerID != t.OwnerID() {
		return nil, jobs.Failf("payload owner does not match the job owner")
	}

	if err := t.Progress(ctx, 0, 1); err != nil {
		return nil, err
	}
	jobID := t.Job.ID
	n, err := h.Finance.MigrateCategory(ctx, t.OwnerID(), p.SourceCategoryID, p.TargetCategoryID, &jobID)
	if err != nil {
		return nil, err
	}
	if err := t.Progress(ctx, 1, 1); err != nil {
		return nil, err
	}

	h.logger.Info().Str("job_id", jobID).Int64("migrated", n).Msg("category migrated")
	return CategoryMigrationResult{Migrated: n}, nil
}
