package finance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service is the data access used by the HTTP handlers and job handlers.
// Every read and write is scoped by owner.
type Service struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

// Accounts

func (s *Service) CreateAccount(ctx context.Context, ownerID uint64, name, currency string) (*Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: account name required", ErrInvalid)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "BRL"
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be a 3 letter code", ErrInvalid)
	}
	a := &Account{ID: uuid.NewString(), OwnerID: ownerID, Name: name, Currency: currency, CreatedAt: s.now()}
	if err := s.DB.WithContext(ctx).Create(a).Error; err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

func (s *Service) GetAccount(ctx context.Context, ownerID uint64, id string) (*Account, error) {
	var a Account
	if err := s.DB.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&a).Error; err != nil {
		return nil, notFound(err, "account")
	}
	return &a, nil
}

func (s *Service) ListAccounts(ctx context.Context, ownerID uint64) ([]Account, error) {
	var out []Account
	if err := s.DB.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

// DefaultAccount returns the owner's oldest account.
func (s *Service) DefaultAccount(ctx context.Context, ownerID uint64) (*Account, error) {
	var a Account
	if err := s.DB.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at asc").First(&a).Error; err != nil {
		return nil, notFound(err, "account")
	}
	return &a, nil
}

// Categories

func (s *Service) CreateCategory(ctx context.Context, ownerID uint64, name string, kind CategoryKind) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: category name required", ErrInvalid)
	}
	if kind == "" {
		kind = KindExpense
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: category kind %q", ErrInvalid, kind)
	}
	c := &Category{ID: uuid.NewString(), OwnerID: ownerID, Name: name, Kind: kind, Active: true, CreatedAt: s.now()}
	if err := s.DB.WithContext(ctx).Create(c).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: category %q", ErrConflict, name)
		}
		return nil, fmt.Errorf("create category: %w", err)
	}
	return c, nil
}

func (s *Service) GetCategory(ctx context.Context, ownerID uint64, id string) (*Category, error) {
	var c Category
	if err := s.DB.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&c).Error; err != nil {
		return nil, notFound(err, "category")
	}
	return &c, nil
}

func (s *Service) CategoryByName(ctx context.Context, ownerID uint64, name string) (*Category, error) {
	var c Category
	err := s.DB.WithContext(ctx).
		Where("owner_id = ? AND LOWER(name) = ?", ownerID, strings.ToLower(strings.TrimSpace(name))).
		First(&c).Error
	if err != nil {
		return nil, notFound(err, "category")
	}
	return &c, nil
}

// EnsureCategory returns the owner's category with name, creating it when
// missing. created reports whether this call inserted it.
func (s *Service) EnsureCategory(ctx context.Context, ownerID uint64, name string, kind CategoryKind) (c *Category, created bool, err error) {
	c, err = s.CategoryByName(ctx, ownerID, name)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	c, err = s.CreateCategory(ctx, ownerID, name, kind)
	if errors.Is(err, ErrConflict) {
		// created concurrently
		c, err = s.CategoryByName(ctx, ownerID, name)
		return c, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (s *Service) ListCategories(ctx context.Context, ownerID uint64, activeOnly bool) ([]Category, error) {
	q := s.DB.WithContext(ctx).Where("owner_id = ?", ownerID)
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var out []Category
	if err := q.Order("name asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out, nil
}

func (s *Service) SetCategoryActive(ctx context.Context, ownerID uint64, id string, active bool) error {
	res := s.DB.WithContext(ctx).Model(&Category{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("update category: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("category %w", ErrNotFound)
	}
	return nil
}

// Transactions

type NewTransaction struct {
	AccountID   string
	CategoryID  *string
	Description string
	AmountCents int64
	Date        time.Time
	Source      string
	ExternalRef *string
}

func (s *Service) buildTransaction(ownerID uint64, in NewTransaction) (*Transaction, error) {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return nil, fmt.Errorf("%w: description required", ErrInvalid)
	}
	if in.AccountID == "" {
		return nil, fmt.Errorf("%w: account required", ErrInvalid)
	}
	src := in.Source
	if src == "" {
		src = "manual"
	}
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	now := s.now()
	return &Transaction{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		AccountID:   in.AccountID,
		CategoryID:  in.CategoryID,
		Description: desc,
		AmountCents: in.AmountCents,
		Date:        date.UTC(),
		Source:      src,
		ExternalRef: in.ExternalRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// CreateTransaction validates account and category ownership and inserts the
// transaction. When ExternalRef is set and already used by the owner the
// existing row is returned with created=false.
func (s *Service) CreateTransaction(ctx context.Context, ownerID uint64, in NewTransaction) (tx *Transaction, created bool, err error) {
	if in.ExternalRef != nil {
		if existing, err := s.transactionByRef(s.DB.WithContext(ctx), ownerID, *in.ExternalRef); err == nil {
			return existing, false, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}
	if _, err := s.GetAccount(ctx, ownerID, in.AccountID); err != nil {
		return nil, false, err
	}
	if in.CategoryID != nil {
		if _, err := s.GetCategory(ctx, ownerID, *in.CategoryID); err != nil {
			return nil, false, err
		}
	}
	t, err := s.buildTransaction(ownerID, in)
	if err != nil {
		return nil, false, err
	}
	if err := s.DB.WithContext(ctx).Create(t).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) && in.ExternalRef != nil {
			existing, lerr := s.transactionByRef(s.DB.WithContext(ctx), ownerID, *in.ExternalRef)
			if lerr != nil {
				return nil, false, lerr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create transaction: %w", err)
	}
	return t, true, nil
}

func (s *Service) transactionByRef(db *gorm.DB, ownerID uint64, ref string) (*Transaction, error) {
	var t Transaction
	if err := db.Where("owner_id = ? AND external_ref = ?", ownerID, ref).First(&t).Error; err != nil {
		return nil, notFound(err, "transaction")
	}
	return &t, nil
}

func (s *Service) RecentTransactions(ctx context.Context, ownerID uint64, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	var out []Transaction
	err := s.DB.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("date desc, created_at desc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

func (s *Service) CountByCategory(ctx context.Context, ownerID uint64, categoryID string) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&Transaction{}).
		Where("owner_id = ? AND category_id = ?", ownerID, categoryID).
		Count(&n).Error
	return n, err
}

// Balance sums the owner's transactions, optionally for one account.
func (s *Service) Balance(ctx context.Context, ownerID uint64, accountID string) (int64, error) {
	q := s.DB.WithContext(ctx).Model(&Transaction{}).Where("owner_id = ?", ownerID)
	if accountID != "" {
		if _, err := s.GetAccount(ctx, ownerID, accountID); err != nil {
			return 0, err
		}
		q = q.Where("account_id = ?", accountID)
	}
	var total int64
	if err := q.Select("COALESCE(SUM(amount_cents), 0)").Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	return total, nil
}
