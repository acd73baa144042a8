// Package jobtypes holds the handlers for the job types ledgerly ships with.
package jobtypes

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ledgerly/internal/finance"
	"ledgerly/internal/jobs"
	"ledgerly/internal/storage"
)

// ItemError is one failed item of a batch job.
type ItemError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Handlers carries the collaborators shared by the built-in job types.
type Handlers struct {
	Finance *finance.Service
	Store   storage.ObjectStore
	// Bucket is the only bucket import files are read from.
	Bucket string

	logger zerolog.Logger
}

func New(fin *finance.Service, store storage.ObjectStore, bucket string) *Handlers {
	return &Handlers{
		Finance: fin,
		Store:   store,
		Bucket:  bucket,
		logger:  log.With().Str("component", "jobtypes").Logger(),
	}
}

// Register adds every built-in job type to reg.
func (h *Handlers) Register(reg *jobs.Registry) {
	reg.Register(jobs.TypeCSVImport, h.CSVImport)
	reg.Register(jobs.TypeCategoryMigration, h.CategoryMigration)
	reg.Register(jobs.TypeOpenFinanceImport, h.OpenFinanceImport)
	reg.Register(jobs.TypeChatOperation, h.ChatOperation)
}

// itemMessage is the text stored for a failed item. Only errors caused by the
// item itself are expected here; anything else fails the whole job.
func itemMessage(err error) string {
	return jobs.SanitizeError(err)
}
