package jobtypes

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"ledgerly/internal/finance"
	"ledgerly/internal/jobs"
	"ledgerly/internal/storage"
)

type NewCategory struct {
	Name string               `json:"name"`
	Kind finance.CategoryKind `json:"kind"`
}

type CSVImportPayload struct {
	Bucket           string `json:"bucket"`
	Path             string `json:"path"`
	OriginalFilename string `json:"original_filename"`
	AccountID        string `json:"account_id"`
	// CategoryMap maps a category name found in the file to a category id.
	CategoryMap        map[string]string `json:"category_map,omitempty"`
	CategoriesToCreate []NewCategory     `json:"categories_to_create,omitempty"`
	// SelectedIDs limits the import to these rows. Empty imports every row.
	SelectedIDs []string `json:"selected_ids,omitempty"`
}

type CSVImportResult struct {
	Imported          int         `json:"imported"`
	Skipped           int         `json:"skipped"`
	Errors            []ItemError `json:"errors"`
	CategoriesCreated int         `json:"categories_created"`
}

// CSVRow is one data line of an import file.
type CSVRow struct {
	ID          string
	Date        string
	Description string
	Amount      string
	Category    string
	AccountID   string
	// Err is set when the line could not be read as a record.
	Err error
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", time.RFC3339, "2006-01-02 15:04:05"}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date %q", finance.ErrInvalid, s)
}

// CSVImportKey is the object key of the file imported by job jobID.
func CSVImportKey(ownerID uint64, jobID, filename string) string {
	return path.Join(csvImportDir(ownerID, jobID), filename)
}

func csvImportDir(ownerID uint64, jobID string) string {
	return fmt.Sprintf("csv-imports/%d/%s", ownerID, jobID)
}

// OwnsImportFile reports whether key was stored for job jobID of ownerID.
func OwnsImportFile(ownerID uint64, jobID, key string) bool {
	if strings.Contains(key, "..") || strings.HasSuffix(key, "/") {
		return false
	}
	return path.Dir(key) == csvImportDir(ownerID, jobID)
}

// ParseCSV reads an import file. The header must name date, description and
// amount; category, account_id and id are optional. Rows without an id are
// numbered r1, r2, ... in file order. A malformed line becomes a row carrying
// Err instead of failing the file.
func ParseCSV(r io.Reader) ([]CSVRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, jobs.Failf("import file is empty")
	}
	if err != nil {
		return nil, jobs.Failf("invalid csv header: " + err.Error())
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		col[name] = i
	}
	for _, req := range []string{"date", "description", "amount"} {
		if _, ok := col[req]; !ok {
			return nil, jobs.Failf("csv header is missing column " + strconv.Quote(req))
		}
	}
	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []CSVRow
	for n := 1; ; n++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			rows = append(rows, CSVRow{
				ID:  "r" + strconv.Itoa(n),
				Err: fmt.Errorf("%w: malformed row: %v", finance.ErrInvalid, perr.Err),
			})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read import file: %w", err)
		}
		row := CSVRow{
			ID:          field(rec, "id"),
			Date:        field(rec, "date"),
			Description: field(rec, "description"),
			Amount:      field(rec, "amount"),
			Category:    field(rec, "category"),
			AccountID:   field(rec, "account_id"),
		}
		if row.ID == "" {
			row.ID = "r" + strconv.Itoa(n)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// csvImport is the state of one csv_import run.
type csvImport struct {
	h       *Handlers
	ownerID uint64
	jobID   string
	p       CSVImportPayload

	toCreate   map[string]finance.CategoryKind
	categories map[string]string
	accounts   map[string]error
	created    int
}

func (h *Handlers) CSVImport(ctx context.Context, t *jobs.Task) (any, error) {
	var p CSVImportPayload
	if err := t.Decode(&p); err != nil {
		return nil, err
	}
	if p.Bucket == "" || p.Path == "" {
		return nil, jobs.Failf("import file location missing")
	}
	if p.Bucket != h.Bucket || !OwnsImportFile(t.OwnerID(), t.Job.ID, p.Path) {
		return nil, jobs.Failf("import file does not belong to this job")
	}

	rows, err := h.readCSV(ctx, p.Bucket, p.Path)
	if err != nil {
		return nil, err
	}

	imp := &csvImport{
		h:          h,
		ownerID:    t.OwnerID(),
		jobID:      t.Job.ID,
		p:          p,
		toCreate:   make(map[string]finance.CategoryKind),
		categories: make(map[string]string),
		accounts:   make(map[string]error),
	}
	for _, c := range p.CategoriesToCreate {
		imp.toCreate[strings.ToLower(strings.TrimSpace(c.Name))] = c.Kind
	}

	selected := rows
	res := CSVImportResult{Errors: []ItemError{}}
	if len(p.SelectedIDs) > 0 {
		want := make(map[string]bool, len(p.SelectedIDs))
		for _, id := range p.SelectedIDs {
			want[id] = true
		}
		selected = selected[:0:0]
		for _, r := range rows {
			if want[r.ID] {
				selected = append(selected, r)
			} else {
				res.Skipped++
			}
		}
	}

	total := int64(len(selected))
	if err := t.Progress(ctx, 0, total); err != nil {
		return nil, err
	}
	for i, row := range selected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := imp.importRow(ctx, row)
		switch {
		case err == nil:
			res.Imported++
		case finance.IsUserError(err):
			res.Errors = append(res.Errors, ItemError{ID: row.ID, Message: itemMessage(err)})
		default:
			return nil, fmt.Errorf("import row %s: %w", row.ID, err)
		}
		if err := t.Progress(ctx, int64(i+1), total); err != nil {
			return nil, err
		}
	}
	res.CategoriesCreated = imp.created

	l := h.logger.With().Str("job_id", t.Job.ID).Logger()
	if len(res.Errors) == 0 {
		if err := h.Store.Remove(ctx, p.Bucket, p.Path); err != nil {
			l.Warn().Err(err).Str("path", p.Path).Msg("remove import file")
		}
	}
	l.Info().Int("imported", res.Imported).Int("skipped", res.Skipped).
		Int("errors", len(res.Errors)).Msg("csv import finished")
	return res, nil
}

func (h *Handlers) readCSV(ctx context.Context, bucket, key string) ([]CSVRow, error) {
	rc, err := h.Store.Get(ctx, bucket, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, jobs.Failf("import file not found")
	}
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer rc.Close()
	return ParseCSV(rc)
}

func (imp *csvImport) importRow(ctx context.Context, row CSVRow) error {
	if row.Err != nil {
		return row.Err
	}
	accountID := row.AccountID
	if accountID == "" {
		accountID = imp.p.AccountID
	}
	if accountID == "" {
		return fmt.Errorf("%w: account required", finance.ErrInvalid)
	}
	if err := imp.account(ctx, accountID); err != nil {
		return err
	}

	amount, err := finance.ParseAmount(row.Amount)
	if err != nil {
		return err
	}
	date, err := parseDate(row.Date)
	if err != nil {
		return err
	}
	var categoryID *string
	if row.Category != "" {
		id, err := imp.category(ctx, row.Category, amount)
		if err != nil {
			return err
		}
		categoryID = &id
	}

	ref := fmt.Sprintf("csv:%s:%s", imp.jobID, row.ID)
	_, _, err = imp.h.Finance.CreateTransaction(ctx, imp.ownerID, finance.NewTransaction{
		AccountID:   accountID,
		CategoryID:  categoryID,
		Description: row.Description,
		AmountCents: amount,
		Date:        date,
		Source:      "csv",
		ExternalRef: &ref,
	})
	return err
}

func (imp *csvImport) account(ctx context.Context, id string) error {
	if err, ok := imp.accounts[id]; ok {
		return err
	}
	_, err := imp.h.Finance.GetAccount(ctx, imp.ownerID, id)
	if err != nil && !finance.IsUserError(err) {
		return err
	}
	imp.accounts[id] = err
	return err
}

// category resolves a category name through the payload's map, then the
// categories the user asked to create, then the owner's existing categories.
func (imp *csvImport) category(ctx context.Context, name string, amount int64) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if id, ok := imp.categories[key]; ok {
		return id, nil
	}
	for n, id := range imp.p.CategoryMap {
		if strings.EqualFold(strings.TrimSpace(n), key) && id != "" {
			imp.categories[key] = id
			return id, nil
		}
	}

	if kind, ok := imp.toCreate[key]; ok {
		if kind == "" {
			kind = finance.KindExpense
			if amount > 0 {
				kind = finance.KindIncome
			}
		}
		c, created, err := imp.h.Finance.EnsureCategory(ctx, imp.ownerID, strings.TrimSpace(name), kind)
		if err != nil {
			return "", err
		}
		if created {
			imp.created++
		}
		imp.categories[key] = c.ID
		return c.ID, nil
	}

	c, err := imp.h.Finance.CategoryByName(ctx, imp.ownerID, name)
	if err != nil {
		return "", err
	}
	imp.categories[key] = c.ID
	return c.ID, nil
}
