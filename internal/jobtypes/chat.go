package jobtypes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledgerly/internal/finance"
	"ledgerly/internal/jobs"
)

// Chat operations accepted from the messaging bridge.
const (
	OpCreateTransaction  = "create_transaction"
	OpGetBalance         = "get_balance"
	OpListCategories     = "list_categories"
	OpRecentTransactions = "recent_transactions"
)

type ChatPayload struct {
	Phone     string          `json:"phone"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type chatCreateTransaction struct {
	Description string         `json:"description"`
	Amount      finance.Amount `json:"amount"`
	Category    string         `json:"category,omitempty"`
	AccountID   string         `json:"account_id,omitempty"`
	Date        string         `json:"date,omitempty"`
}

type chatTransaction struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	AmountCents int64     `json:"amount_cents"`
	Amount      string    `json:"amount"`
	CategoryID  *string   `json:"category_id,omitempty"`
	Date        time.Time `json:"date"`
}

func toChatTransaction(t *finance.Transaction) chatTransaction {
	return chatTransaction{
		ID:          t.ID,
		Description: t.Description,
		AmountCents: t.AmountCents,
		Amount:      finance.FormatAmount(t.AmountCents),
		CategoryID:  t.CategoryID,
		Date:        t.Date,
	}
}

// ChatOperation runs an operation requested through the messaging bridge on
// behalf of the user the phone number is linked to.
func (h *Handlers) ChatOperation(ctx context.Context, t *jobs.Task) (any, error) {
	var p ChatPayload
	if err := t.Decode(&p); err != nil {
		return nil, err
	}
	owner, err := h.Finance.OwnerByPhone(ctx, p.Phone)
	if errors.Is(err, finance.ErrNotFound) || (err == nil && owner != t.OwnerID()) {
		return nil, jobs.Failf("phone is not linked to this account")
	}
	if err != nil {
		return nil, err
	}

	switch p.Operation {
	case OpCreateTransaction:
		return h.chatCreateTransaction(ctx, t, p.Data)
	case OpGetBalance:
		var d struct {
			AccountID string `json:"account_id,omitempty"`
		}
		if err := decodeData(p.Data, &d); err != nil {
			return nil, err
		}
		cents, err := h.Finance.Balance(ctx, owner, d.AccountID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"balance_cents": cents, "balance": finance.FormatAmount(cents)}, nil
	case OpListCategories:
		cats, err := h.Finance.ListCategories(ctx, owner, true)
		if err != nil {
			return nil, err
		}
		return map[string]any{"categories": cats}, nil
	case OpRecentTransactions:
		var d struct {
			Limit int `json:"limit,omitempty"`
		}
		if err := decodeData(p.Data, &d); err != nil {
			return nil, err
		}
		txs, err := h.Finance.RecentTransactions(ctx, owner, d.Limit)
		if err != nil {
			return nil, err
		}
		out := make([]chatTransaction, 0, len(txs))
		for i := range txs {
			out = append(out, toChatTransaction(&txs[i]))
		}
		return map[string]any{"transactions": out}, nil
	}
	return nil, jobs.Failf(fmt.Sprintf("unknown operation %q", p.Operation))
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return jobs.Failf("invalid operation data: " + err.Error())
	}
	return nil
}

func (h *Handlers) chatCreateTransaction(ctx context.Context, t *jobs.Task, raw json.RawMessage) (any, error) {
	var d chatCreateTransaction
	if err := decodeData(raw, &d); err != nil {
		return nil, err
	}
	owner := t.OwnerID()

	accountID := d.AccountID
	if accountID == "" {
		acc, err := h.Finance.DefaultAccount(ctx, owner)
		if err != nil {
			return nil, err
		}
		accountID = acc.ID
	}

	var categoryID *string
	if name := strings.TrimSpace(d.Category); name != "" {
		kind := finance.KindExpense
		if d.Amount > 0 {
			kind = finance.KindIncome
		}
		c, _, err := h.Finance.EnsureCategory(ctx, owner, name, kind)
		if err != nil {
			return nil, err
		}
		categoryID = &c.ID
	}

	var date time.Time
	if d.Date != "" {
		var err error
		if date, err = parseDate(d.Date); err != nil {
			return nil, err
		}
	}

	// One transaction per chat job, however often it is delivered.
	ref := "chat:" + t.Job.ID
	tx, created, err := h.Finance.CreateTransaction(ctx, owner, finance.NewTransaction{
		AccountID:   accountID,
		CategoryID:  categoryID,
		Description: d.Description,
		AmountCents: int64(d.Amount),
		Date:        date,
		Source:      "chat",
		ExternalRef: &ref,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"transaction": toChatTransaction(tx), "created": created}, nil
}

// ValidOperation reports whether op is a chat operation ChatOperation runs.
func ValidOperation(op string) bool {
	switch op {
	case OpCreateTransaction, OpGetBalance, OpListCategories, OpRecentTransactions:
		return true
	}
	return false
}
