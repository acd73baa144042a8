package finance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"ledgerly/internal/testdb"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(testdb.Open(t, Models()...))
}

func strptr(s string) *string { return &s }

func seedTransactions(t *testing.T, s *Service, owner uint64, accountID, categoryID string, n int) {
	t.Helper()
	now := time.Now().UTC()
	rows := make([]Transaction, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, Transaction{
			ID:          fmt.Sprintf("tx-%d-%d", owner, i),
			OwnerID:     owner,
			AccountID:   accountID,
			CategoryID:  strptr(categoryID),
			Description: fmt.Sprintf("purchase %d", i),
			AmountCents: -100,
			Date:        now,
			Source:      "manual",
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	require.NoError(t, s.DB.CreateInBatches(rows, 100).Error)
}

func TestAccountsAreOwnerScoped(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	a, err := s.CreateAccount(ctx, 1, "Checking", "brl")
	require.NoError(t, err)
	require.Equal(t, "BRL", a.Currency)

	_, err = s.GetAccount(ctx, 2, a.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.CreateAccount(ctx, 1, " ", "")
	require.ErrorIs(t, err, ErrInvalid)

	def, err := s.DefaultAccount(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, a.ID, def.ID)
}

func TestEnsureCategoryReusesByName(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	c1, created, err := s.EnsureCategory(ctx, 1, "Groceries", KindExpense)
	require.NoError(t, err)
	require.True(t, created)

	c2, created, err := s.EnsureCategory(ctx, 1, "groceries", KindExpense)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, c1.ID, c2.ID)

	_, err = s.CreateCategory(ctx, 1, "Groceries", KindExpense)
	require.ErrorIs(t, err, ErrConflict)

	_, err = s.CreateCategory(ctx, 1, "Weird", "other")
	require.ErrorIs(t, err, ErrInvalid)

	cats, err := s.ListCategories(ctx, 1, true)
	require.NoError(t, err)
	require.Len(t, cats, 1)
}

func TestCreateTransactionIdempotentRef(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	a, err := s.CreateAccount(ctx, 1, "Checking", "")
	require.NoError(t, err)

	in := NewTransaction{AccountID: a.ID, Description: "coffee", AmountCents: -450, ExternalRef: strptr("csv:job:r1")}
	t1, created, err := s.CreateTransaction(ctx, 1, in)
	require.NoError(t, err)
	require.True(t, created)

	t2, created, err := s.CreateTransaction(ctx, 1, in)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, t1.ID, t2.ID)

	_, _, err = s.CreateTransaction(ctx, 2, NewTransaction{AccountID: a.ID, Description: "x", AmountCents: 1})
	require.ErrorIs(t, err, ErrNotFound)

	_, _, err = s.CreateTransaction(ctx, 1, NewTransaction{AccountID: a.ID, Description: "x", CategoryID: strptr("nope")})
	require.ErrorIs(t, err, ErrNotFound)

	_, created, err = s.CreateTransaction(ctx, 1, NewTransaction{AccountID: a.ID, Description: "salary", AmountCents: 10000})
	require.NoError(t, err)
	require.True(t, created)

	bal, err := s.Balance(ctx, 1, "")
	require.NoError(t, err)
	require.EqualValues(t, 9550, bal)

	recent, err := s.RecentTransactions(ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, recent, 2)
}

func TestMigrateCategoryMovesAll(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	a, err := s.CreateAccount(ctx, 1, "Checking", "")
	require.NoError(t, err)
	src, err := s.CreateCategory(ctx, 1, "Food", KindExpense)
	require.NoError(t, err)
	dst, err := s.CreateCategory(ctx, 1, "Groceries", KindExpense)
	require.NoError(t, err)
	seedTransactions(t, s, 1, a.ID, src.ID, 3)

	n, err := s.MigrateCategory(ctx, 1, src.ID, dst.ID, strptr("job-1"))
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	moved, err := s.CountByCategory(ctx, 1, dst.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, moved)

	var audits []CategoryMigration
	require.NoError(t, s.DB.Find(&audits).Error)
	require.Len(t, audits, 1)
	require.EqualValues(t, 3, audits[0].Migrated)
}

func TestMigrateCategoryValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	src, err := s.CreateCategory(ctx, 1, "Food", KindExpense)
	require.NoError(t, err)
	dst, err := s.CreateCategory(ctx, 1, "Old", KindExpense)
	require.NoError(t, err)
	foreign, err := s.CreateCategory(ctx, 2, "Theirs", KindExpense)
	require.NoError(t, err)
	require.NoError(t, s.SetCategoryActive(ctx, 1, dst.ID, false))

	_, err = s.MigrateCategory(ctx, 1, src.ID, dst.ID, nil)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = s.MigrateCategory(ctx, 1, src.ID, foreign.ID, nil)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.MigrateCategory(ctx, 1, src.ID, src.ID, nil)
	require.ErrorIs(t, err, ErrInvalid)

	require.ErrorIs(t, s.ValidateMigration(ctx, 1, src.ID, dst.ID), ErrInvalid)
	require.ErrorIs(t, s.ValidateMigration(ctx, 1, "missing", src.ID), ErrNotFound)
}

func TestMigrateCategoryIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	a, err := s.CreateAccount(ctx, 1, "Checking", "")
	require.NoError(t, err)
	src, err := s.CreateCategory(ctx, 1, "A", KindExpense)
	require.NoError(t, err)
	dst, err := s.CreateCategory(ctx, 1, "B", KindExpense)
	require.NoError(t, err)
	seedTransactions(t, s, 1, a.ID, src.ID, 500)

	// Fail after the bulk update, when the audit row is written.
	require.NoError(t, s.DB.Callback().Create().Before("gorm:create").Register("test:fail_audit", func(tx *gorm.DB) {
		if tx.Statement.Table == "category_migrations" {
			_ = tx.AddError(errors.New("simulated failure"))
		}
	}))

	_, err = s.MigrateCategory(ctx, 1, src.ID, dst.ID, nil)
	require.Error(t, err)

	left, err := s.CountByCategory(ctx, 1, src.ID)
	require.NoError(t, err)
	require.EqualValues(t, 500, left)
	moved, err := s.CountByCategory(ctx, 1, dst.ID)
	require.NoError(t, err)
	require.Zero(t, moved)

	require.NoError(t, s.DB.Callback().Create().Remove("test:fail_audit"))
	n, err := s.MigrateCategory(ctx, 1, src.ID, dst.ID, nil)
	require.NoError(t, err)
	require.EqualValues(t, 500, n)
}

func TestImportOpenFinance(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	a, err := s.CreateAccount(ctx, 1, "Checking", "")
	require.NoError(t, err)
	link, err := s.CreateLink(ctx, 1, a.ID, "Nubank")
	require.NoError(t, err)

	n, err := s.IngestOpenFinance(ctx, 1, link.ID, []OpenFinanceTransaction{
		{ID: "ext-1", Description: "Uber", AmountCents: -2300, Date: time.Now()},
		{ID: "ext-2", Description: "Salary", AmountCents: 500000, Date: time.Now()},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	txID, imported, err := s.ImportOpenFinance(ctx, link, "ext-1", nil)
	require.NoError(t, err)
	require.True(t, imported)
	require.NotEmpty(t, txID)

	again, imported, err := s.ImportOpenFinance(ctx, link, "ext-1", nil)
	require.NoError(t, err)
	require.False(t, imported)
	require.Equal(t, txID, again)

	_, _, err = s.ImportOpenFinance(ctx, link, "ext-404", nil)
	require.ErrorIs(t, err, ErrNotFound)

	pending, err := s.PendingOpenFinance(ctx, 1, link.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "ext-2", pending[0].ID)

	_, err = s.GetLink(ctx, 2, link.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPhoneLinks(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	_, err := s.LinkPhone(ctx, "+55 (11) 99999-0000", 7)
	require.NoError(t, err)

	owner, err := s.OwnerByPhone(ctx, "+5511999990000")
	require.NoError(t, err)
	require.EqualValues(t, 7, owner)

	_, err = s.LinkPhone(ctx, "+5511999990000", 8)
	require.ErrorIs(t, err, ErrConflict)

	// relinking by the same user is a no-op
	_, err = s.LinkPhone(ctx, "+5511999990000", 7)
	require.NoError(t, err)

	require.NoError(t, s.UnlinkPhone(ctx, "+5511999990000", 7))
	_, err = s.LinkPhone(ctx, "+5511999990000", 8)
	require.NoError(t, err)
	owner, err = s.OwnerByPhone(ctx, "+5511999990000")
	require.NoError(t, err)
	require.EqualValues(t, 8, owner)

	require.NoError(t, s.UnlinkPhone(ctx, "+5511999990000", 8))
	_, err = s.OwnerByPhone(ctx, "+5511999990000")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.LinkPhone(ctx, "123", 7)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{
		"10":        1000,
		"-12.5":     -1250,
		"1,234.56":  123456,
		"1.234,56":  123456,
		"R$ 99,90":  9990,
		"+0.01":     1,
		"1.234":     123400,
		"-1.234,5":  -123450,
	}
	for in, want := range cases {
		got, err := ParseAmount(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "-", "abc", "12a"} {
		_, err := ParseAmount(bad)
		require.ErrorIs(t, err, ErrInvalid, bad)
	}
	require.Equal(t, "-12.05", FormatAmount(-1205))
}

func TestAmountUnmarshal(t *testing.T) {
	var v struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"R$ 1.234,50","b":-7.5}`), &v))
	require.EqualValues(t, 123450, v.A)
	require.EqualValues(t, -750, v.B)

	require.Error(t, json.Unmarshal([]byte(`{"a":"twelve"}`), &v))
}
