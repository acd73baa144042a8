package http

import (
	"net/http"
	"strconv"

	"ledgerly/internal/auth"
	"ledgerly/internal/config"
	"ledgerly/internal/finance"
	"ledgerly/internal/http/handler"
	mw "ledgerly/internal/http/middleware"
	"ledgerly/internal/jobs"
	"ledgerly/internal/ratelimit"
	"ledgerly/internal/storage"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

// Deps are the collaborators the API is built from.
type Deps struct {
	DB       *gorm.DB
	JWT      *auth.JWT
	Jobs     *jobs.Repo
	Enqueuer *jobs.Enqueuer
	Finance  *finance.Service
	Store    storage.ObjectStore
	Shares   *auth.ShareResolver
	// JobLimiter bounds job creation per owner, ChatLimiter chat operations
	// per phone. Either may be nil.
	JobLimiter  ratelimit.Limiter
	ChatLimiter ratelimit.Limiter
}

func NewRouter(cfg config.Config, d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.AccessLog)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ah := &handler.AuthHandler{DB: d.DB, JWT: d.JWT}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)

	jobH := &handler.JobHandler{Repo: d.Jobs, Enqueuer: d.Enqueuer, Finance: d.Finance}
	importH := &handler.ImportHandler{Repo: d.Jobs, Enqueuer: d.Enqueuer, Finance: d.Finance, Store: d.Store, Bucket: cfg.S3Bucket}
	catH := &handler.CategoryHandler{Finance: d.Finance, Enqueuer: d.Enqueuer}
	ledgerH := &handler.LedgerHandler{Finance: d.Finance}
	ofH := &handler.OpenFinanceHandler{Finance: d.Finance, Enqueuer: d.Enqueuer}
	chatH := &handler.ChatHandler{
		Secret:   cfg.ChatWebhookSecret,
		Limiter:  d.ChatLimiter,
		Finance:  d.Finance,
		Repo:     d.Jobs,
		Enqueuer: d.Enqueuer,
	}
	me := &handler.MeHandler{Shares: d.Shares}

	r.Route("/chat", func(r chi.Router) {
		r.Use(chatH.RequireSecret)
		r.Post("/operations", chatH.Operation)
		r.Get("/jobs/{id}", chatH.Job)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT))

		// Acting on the caller's own identity, never a shared owner.
		r.Post("/me/shares", me.Share)
		r.Delete("/me/shares/{member}", me.Unshare)
		r.Post("/me/phones", chatH.LinkPhone)
		r.Delete("/me/phones/{phone}", chatH.UnlinkPhone)

		r.Group(func(r chi.Router) {
			r.Use(auth.ResolveOwner(d.Shares))

			r.Get("/me", me.Me)

			r.Route("/jobs", func(r chi.Router) {
				if d.JobLimiter != nil {
					r.With(mw.RateLimit(d.JobLimiter, ownerKey)).Post("/", jobH.Create)
				} else {
					r.Post("/", jobH.Create)
				}
				r.Get("/", jobH.List)
				r.Get("/{id}", jobH.Get)
				r.Post("/{id}/cancel", jobH.Cancel)
			})

			r.Post("/imports/csv/start", importH.StartCSV)

			r.Get("/categories", catH.List)
			r.Post("/categories", catH.Create)
			r.Post("/categories/{id}/migrate", catH.Migrate)

			r.Get("/accounts", ledgerH.ListAccounts)
			r.Post("/accounts", ledgerH.CreateAccount)
			r.Get("/transactions", ledgerH.ListTransactions)
			r.Post("/transactions", ledgerH.CreateTransaction)
			r.Get("/balance", ledgerH.Balance)

			r.Post("/openfinance/links", ofH.CreateLink)
			r.Post("/openfinance/links/{id}/transactions", ofH.Ingest)
			r.Get("/openfinance/links/{id}/pending", ofH.Pending)
			r.Post("/openfinance/import", ofH.Import)
		})
	})

	return r
}

func ownerKey(r *http.Request) string {
	owner, ok := auth.OwnerIDFromContext(r.Context())
	if !ok {
		return ""
	}
	return "jobs:" + strconv.FormatUint(owner, 10)
}
