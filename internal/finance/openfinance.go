package finance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errAlreadyImported = errors.New("already imported")

func (s *Service) CreateLink(ctx context.Context, ownerID uint64, accountID, institution string) (*OpenFinanceLink, error) {
	institution = strings.TrimSpace(institution)
	if institution == "" {
		return nil, fmt.Errorf("%w: institution required", ErrInvalid)
	}
	if _, err := s.GetAccount(ctx, ownerID, accountID); err != nil {
		return nil, err
	}
	l := &OpenFinanceLink{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		AccountID:   accountID,
		Institution: institution,
		Status:      "active",
		CreatedAt:   s.now(),
	}
	if err := s.DB.WithContext(ctx).Create(l).Error; err != nil {
		return nil, fmt.Errorf("create open finance link: %w", err)
	}
	return l, nil
}

func (s *Service) GetLink(ctx context.Context, ownerID uint64, id string) (*OpenFinanceLink, error) {
	var l OpenFinanceLink
	if err := s.DB.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&l).Error; err != nil {
		return nil, notFound(err, "open finance link")
	}
	return &l, nil
}

// IngestOpenFinance stores transactions reported by the aggregator for a
// link. Ids already known are left untouched.
func (s *Service) IngestOpenFinance(ctx context.Context, ownerID uint64, linkID string, items []OpenFinanceTransaction) (int64, error) {
	if _, err := s.GetLink(ctx, ownerID, linkID); err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}
	now := s.now()
	for i := range items {
		if strings.TrimSpace(items[i].ID) == "" {
			return 0, fmt.Errorf("%w: transaction id required", ErrInvalid)
		}
		items[i].LinkID = linkID
		items[i].OwnerID = ownerID
		items[i].ImportedAt = nil
		items[i].TransactionID = nil
		items[i].Date = items[i].Date.UTC()
		items[i].CreatedAt = now
	}
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&items)
	if res.Error != nil {
		return 0, fmt.Errorf("ingest open finance transactions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Service) PendingOpenFinance(ctx context.Context, ownerID uint64, linkID string) ([]OpenFinanceTransaction, error) {
	var out []OpenFinanceTransaction
	err := s.DB.WithContext(ctx).
		Where("owner_id = ? AND link_id = ? AND imported_at IS NULL", ownerID, linkID).
		Order("date asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list open finance transactions: %w", err)
	}
	return out, nil
}

// ImportOpenFinance creates the ledger transaction for one external
// transaction and marks it imported in the same database transaction.
// imported is false when it had already been imported.
func (s *Service) ImportOpenFinance(ctx context.Context, link *OpenFinanceLink, externalID string, categoryID *string) (txID string, imported bool, err error) {
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ext OpenFinanceTransaction
		if err := tx.Where("id = ? AND link_id = ? AND owner_id = ?", externalID, link.ID, link.OwnerID).
			First(&ext).Error; err != nil {
			return notFound(err, "external transaction")
		}
		if ext.ImportedAt != nil {
			if ext.TransactionID != nil {
				txID = *ext.TransactionID
			}
			return errAlreadyImported
		}
		if categoryID != nil {
			var c Category
			if err := tx.Where("id = ? AND owner_id = ?", *categoryID, link.OwnerID).First(&c).Error; err != nil {
				return notFound(err, "category")
			}
		}

		ref := "openfinance:" + ext.ID
		t, err := s.buildTransaction(link.OwnerID, NewTransaction{
			AccountID:   link.AccountID,
			CategoryID:  categoryID,
			Description: ext.Description,
			AmountCents: ext.AmountCents,
			Date:        ext.Date,
			Source:      "openfinance",
			ExternalRef: &ref,
		})
		if err != nil {
			return err
		}
		if err := tx.Create(t).Error; err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}

		now := s.now()
		res := tx.Model(&OpenFinanceTransaction{}).
			Where("id = ? AND imported_at IS NULL", ext.ID).
			Updates(map[string]any{"imported_at": now, "transaction_id": t.ID})
		if res.Error != nil {
			return fmt.Errorf("mark imported: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errAlreadyImported
		}
		txID = t.ID
		return nil
	})
	if errors.Is(err, errAlreadyImported) {
		return txID, false, nil
	}
	if err != nil {
		return "", false, err
	}
	return txID, true, nil
}
