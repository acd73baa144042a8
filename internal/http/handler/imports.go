package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"ledgerly/internal/auth"
	"ledgerly/internal/finance"
	"ledgerly/internal/http/respond"
	"ledgerly/internal/jobs"
	"ledgerly/internal/jobtypes"
	"ledgerly/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxUploadSize = 10 << 20

type ImportHandler struct {
	Repo     *jobs.Repo
	Enqueuer *jobs.Enqueuer
	Finance  *finance.Service
	Store    storage.ObjectStore
	Bucket   string
}

type csvOptions struct {
	CategoryMap        map[string]string      `json:"category_map"`
	CategoriesToCreate []jobtypes.NewCategory `json:"categories_to_create"`
	SelectedIDs        []string               `json:"selected_ids"`
}

func uploadName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "import.csv"
	}
	return name
}

// StartCSV stores the uploaded file and enqueues its import.
func (h *ImportHandler) StartCSV(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respond.WriteJSONError(w, http.StatusBadRequest, "BAD_UPLOAD", "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respond.WriteJSONError(w, http.StatusBadRequest, "FILE_REQUIRED", "file required")
		return
	}
	defer file.Close()

	accountID := strings.TrimSpace(r.FormValue("account_id"))
	if accountID == "" {
		respond.WriteJSONError(w, http.StatusBadRequest, "ACCOUNT_REQUIRED", "account_id required")
		return
	}
	if _, err := h.Finance.GetAccount(r.Context(), owner, accountID); err != nil {
		respond.WriteError(w, r, err)
		return
	}

	var opts csvOptions
	if raw := strings.TrimSpace(r.FormValue("options")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			respond.WriteJSONError(w, http.StatusBadRequest, "INVALID_OPTIONS", "options must be JSON")
			return
		}
	}

	jobID := uuid.NewString()
	filename := uploadName(header.Filename)
	key := jobtypes.CSVImportKey(owner, jobID, filename)
	l := log.With().Str("component", "http.imports").Str("job_id", jobID).Uint64("owner_id", owner).Logger()

	if err := h.Store.Put(r.Context(), h.Bucket, key, file, header.Size, "text/csv"); err != nil {
		l.Error().Err(err).Msg("store import file")
		respond.WriteJSONError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "could not store file")
		return
	}

	id, err := h.Enqueuer.Enqueue(r.Context(), jobs.EnqueueRequest{
		ID:      jobID,
		Type:    jobs.TypeCSVImport,
		OwnerID: owner,
		Payload: jobtypes.CSVImportPayload{
			Bucket:             h.Bucket,
			Path:               key,
			OriginalFilename:   filename,
			AccountID:          accountID,
			CategoryMap:        opts.CategoryMap,
			CategoriesToCreate: opts.CategoriesToCreate,
			SelectedIDs:        opts.SelectedIDs,
		},
	})
	if err != nil {
		if id == "" {
			if rerr := h.Store.Remove(context.Background(), h.Bucket, key); rerr != nil {
				l.Warn().Err(rerr).Msg("remove orphaned import file")
			}
		}
		writeEnqueueError(w, r, id, err)
		return
	}

	h.purgeSuperseded(r.Context(), l, owner, filename)
	writeAccepted(w, id)
}

// purgeSuperseded drops earlier finished imports of the same file name and
// their stored files. Failures are logged and ignored.
func (h *ImportHandler) purgeSuperseded(ctx context.Context, l zerolog.Logger, owner uint64, filename string) {
	old, err := h.Repo.SupersededImports(ctx, owner, filename)
	if err != nil {
		l.Warn().Err(err).Msg("list superseded imports")
		return
	}
	if len(old) == 0 {
		return
	}
	ids := make([]string, 0, len(old))
	for i := range old {
		var p jobtypes.CSVImportPayload
		err := json.Unmarshal(old[i].Payload, &p)
		if err == nil && p.Bucket == h.Bucket && jobtypes.OwnsImportFile(owner, old[i].ID, p.Path) {
			if err := h.Store.Remove(ctx, p.Bucket, p.Path); err != nil {
				l.Warn().Err(err).Str("path", p.Path).Msg("remove superseded import file")
			}
		}
		ids = append(ids, old[i].ID)
	}
	n, err := h.Repo.DeleteTerminal(ctx, owner, ids)
	if err != nil {
		l.Warn().Err(err).Msg("delete superseded imports")
		return
	}
	l.Debug().Int64("deleted", n).Msg("superseded imports purged")
}
