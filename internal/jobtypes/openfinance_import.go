package jobtypes

import (
	"context"
	"fmt"

	"ledgerly/internal/finance"
	"ledgerly/internal/jobs"
)

type OpenFinanceItem struct {
	ID         string  `json:"id"`
	CategoryID *string `json:"category_id,omitempty"`
}

type OpenFinanceImportPayload struct {
	LinkID       string            `json:"link_id"`
	Transactions []OpenFinanceItem `json:"transactions"`
}

type OpenFinanceImportResult struct {
	Imported int         `json:"imported"`
	Skipped  int         `json:"skipped"`
	Errors   []ItemError `json:"errors"`
}

// OpenFinanceImport copies selected aggregator transactions into the ledger.
// Items imported by an earlier run are counted as skipped.
func (h *Handlers) OpenFinanceImport(ctx context.Context, t *jobs.Task) (any, error) {
	var p OpenFinanceImportPayload
	if err := t.Decode(&p); err != nil {
		return nil, err
	}
	link, err := h.Finance.GetLink(ctx, t.OwnerID(), p.LinkID)
	if err != nil {
		return nil, err
	}

	res := OpenFinanceImportResult{Errors: []ItemError{}}
	total := int64(len(p.Transactions))
	if err := t.Progress(ctx, 0, total); err != nil {
		return nil, err
	}
	for i, item := range p.Transactions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, imported, err := h.Finance.ImportOpenFinance(ctx, link, item.ID, item.CategoryID)
		switch {
		case err == nil && imported:
			res.Imported++
		case err == nil:
			res.Skipped++
		case finance.IsUserError(err):
			res.Errors = append(res.Errors, ItemError{ID: item.ID, Message: itemMessage(err)})
		default:
			return nil, fmt.Errorf("import %s: %w", item.ID, err)
		}
		if err := t.Progress(ctx, int64(i+1), total); err != nil {
			return nil, err
		}
	}

	h.logger.Info().Str("job_id", t.Job.ID).Str("link_id", link.ID).
		Int("imported", res.Imported).Int("skipped", res.Skipped).Int("errors", len(res.Errors)).
		Msg("open finance import finished")
	return res, nil
}
