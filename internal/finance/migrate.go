package finance

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// MigrateCategory moves every transaction of the owner from source to target.
// The reassignment and its audit row commit together or not at all.
func (s *Service) MigrateCategory(ctx context.Context, ownerID uint64, sourceID, targetID string, jobID *string) (int64, error) {
	if sourceID == "" || targetID == "" {
		return 0, fmt.Errorf("%w: source and target categories required", ErrInvalid)
	}
	if sourceID == targetID {
		return 0, fmt.Errorf("%w: source and target categories are the same", ErrInvalid)
	}

	var migrated int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var source, target Category
		if err := tx.Where("id = ? AND owner_id = ?", sourceID, ownerID).First(&source).Error; err != nil {
			return notFound(err, "source category")
		}
		if err := tx.Where("id = ? AND owner_id = ?", targetID, ownerID).First(&target).Error; err != nil {
			return notFound(err, "target category")
		}
		if !target.Active {
			return fmt.Errorf("%w: target category is inactive", ErrInvalid)
		}

		now := s.now()
		res := tx.Model(&Transaction{}).
			Where("owner_id = ? AND category_id = ?", ownerID, sourceID).
			Updates(map[string]any{"category_id": targetID, "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("reassign transactions: %w", res.Error)
		}
		migrated = res.RowsAffected

		audit := &CategoryMigration{
			OwnerID:          ownerID,
			SourceCategoryID: sourceID,
			TargetCategoryID: targetID,
			Migrated:         migrated,
			JobID:            jobID,
			CreatedAt:        now,
		}
		if err := tx.Create(audit).Error; err != nil {
			return fmt.Errorf("record category migration: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return migrated, nil
}

// ValidateMigration checks the request before a migration job is enqueued.
func (s *Service) ValidateMigration(ctx context.Context, ownerID uint64, sourceID, targetID string) error {
	if sourceID == targetID {
		return fmt.Errorf("%w: source and target categories are the same", ErrInvalid)
	}
	if _, err := s.GetCategory(ctx, ownerID, sourceID); err != nil {
		return err
	}
	target, err := s.GetCategory(ctx, ownerID, targetID)
	if err != nil {
		return err
	}
	if !target.Active {
		return fmt.Errorf("%w: target category is inactive", ErrInvalid)
	}
	return nil
}

// IsUserError reports whether err describes bad input rather than an
// infrastructure failure.
func IsUserError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalid) || errors.Is(err, ErrConflict)
}
