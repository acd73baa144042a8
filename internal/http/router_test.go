package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"ledgerly/internal/auth"
	"ledgerly/internal/config"
	"ledgerly/internal/db"
	"ledgerly/internal/finance"
	httpx "ledgerly/internal/http"
	"ledgerly/internal/jobs"
	"ledgerly/internal/jobtypes"
	"ledgerly/internal/queue"
	"ledgerly/internal/ratelimit"
	"ledgerly/internal/storage"
	"ledgerly/internal/testdb"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

const webhookSecret = "hook-secret"

type api struct {
	t      *testing.T
	srv    *httptest.Server
	fin    *finance.Service
	repo   *jobs.Repo
	q      *queue.Memory
	store  *storage.Memory
	worker *jobs.Worker
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gdb := testdb.Open(t, db.Models()...)
	fin := finance.NewService(gdb)
	repo := jobs.NewRepo(gdb)
	q := queue.NewMemory()
	store := storage.NewMemory()
	enq := jobs.NewEnqueuer(repo, q)

	reg := jobs.NewRegistry()
	jobtypes.New(fin, store, "imports").Register(reg)
	reg.Freeze()

	cfg := config.Config{S3Bucket: "imports", ChatWebhookSecret: webhookSecret}
	h := httpx.NewRouter(cfg, httpx.Deps{
		DB:          gdb,
		JWT:         auth.NewJWT("test-secret", time.Hour),
		Jobs:        repo,
		Enqueuer:    enq,
		Finance:     fin,
		Store:       store,
		Shares:      &auth.ShareResolver{DB: gdb},
		ChatLimiter: ratelimit.NewLocal(1, time.Minute, 100),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &api{
		t:      t,
		srv:    srv,
		fin:    fin,
		repo:   repo,
		q:      q,
		store:  store,
		worker: jobs.NewWorker("w-test", repo, q, reg, jobs.WorkerOptions{Lease: time.Minute}),
	}
}

type call struct {
	method string
	path   string
	token  string
	body   any
	header map[string]string
}

func (a *api) do(c call) (*http.Response, []byte) {
	a.t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(a.t, json.NewEncoder(&body).Encode(c.body))
	}
	req, err := http.NewRequest(c.method, a.srv.URL+c.path, &body)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	return a.send(req)
}

func (a *api) send(req *http.Request) (*http.Response, []byte) {
	a.t.Helper()
	resp, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(a.t, err)
	return resp, buf.Bytes()
}

// register creates a user and returns its token and id.
func (a *api) register(email string) (string, uint64) {
	a.t.Helper()
	resp, body := a.do(call{method: http.MethodPost, path: "/auth/register", body: map[string]string{
		"email": email, "password": "correct horse",
	}})
	require.Equal(a.t, http.StatusCreated, resp.StatusCode, string(body))
	var tok struct {
		Token string `json:"token"`
	}
	require.NoError(a.t, json.Unmarshal(body, &tok))

	resp, body = a.do(call{method: http.MethodGet, path: "/me", token: tok.Token})
	require.Equal(a.t, http.StatusOK, resp.StatusCode)
	var me struct {
		UserID uint64 `json:"user_id"`
	}
	require.NoError(a.t, json.Unmarshal(body, &me))
	return tok.Token, me.UserID
}

// drain processes one entry of channel.
func (a *api) drain(channel string) {
	a.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := a.q.Receive(ctx, channel)
	require.NoError(a.t, err)
	a.worker.Process(context.Background(), d)
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}

type accepted struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	resp, body := a.do(call{method: http.MethodGet, path: "/health"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))
}

func TestAuthFlow(t *testing.T) {
	a := newAPI(t)
	a.register("ana@example.com")

	resp, _ := a.do(call{method: http.MethodPost, path: "/auth/register", body: map[string]string{
		"email": "ANA@example.com", "password": "another password",
	}})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = a.do(call{method: http.MethodPost, path: "/auth/login", body: map[string]string{
		"email": "ana@example.com", "password": "wrong password",
	}})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := a.do(call{method: http.MethodPost, path: "/auth/login", body: map[string]string{
		"email": "ana@example.com", "password": "correct horse",
	}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "token")

	resp, _ = a.do(call{method: http.MethodGet, path: "/me"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = a.do(call{method: http.MethodGet, path: "/me", token: "garbage"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJobLifecycle(t *testing.T) {
	a := newAPI(t)
	ana, _ := a.register("ana@example.com")
	bob, _ := a.register("bob@example.com")

	resp, body := a.do(call{method: http.MethodPost, path: "/jobs", token: ana, body: map[string]any{
		"type": "report.build", "payload": map[string]int{"year": 2024},
	}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	acc := decode[accepted](t, body)
	require.Equal(t, "queued", acc.Status)
	require.Equal(t, 1, a.q.Len(jobs.ChannelDefault))

	resp, body = a.do(call{method: http.MethodGet, path: "/jobs/" + acc.JobID, token: ana})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[map[string]any](t, body)
	require.Equal(t, "queued", view["status"])
	require.Equal(t, map[string]any{"processed": float64(0), "total": float64(0)}, view["progress"])
	require.NotContains(t, view, "result")

	// another user cannot see or cancel it
	resp, _ = a.do(call{method: http.MethodGet, path: "/jobs/" + acc.JobID, token: bob})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = a.do(call{method: http.MethodPost, path: "/jobs/" + acc.JobID + "/cancel", token: bob})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = a.do(call{method: http.MethodGet, path: "/jobs?status=queued", token: ana})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Jobs []map[string]any `json:"jobs"`
	}](t, body)
	require.Len(t, list.Jobs, 1)

	resp, body = a.do(call{method: http.MethodPost, path: "/jobs/" + acc.JobID + "/cancel", token: ana})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "cancelled", decode[map[string]any](t, body)["status"])

	// the stale entry is dropped by the worker
	a.drain(jobs.ChannelDefault)
	job, err := a.repo.Load(context.Background(), acc.JobID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCancelled, job.Status)

	resp, _ = a.do(call{method: http.MethodGet, path: "/jobs?status=bogus", token: ana})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateJobRejectsBadRequests(t *testing.T) {
	a := newAPI(t)
	ana, _ := a.register("ana@example.com")

	resp, _ := a.do(call{method: http.MethodPost, path: "/jobs", token: ana, body: map[string]any{"type": "Bad Type!"}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = a.do(call{method: http.MethodPost, path: "/jobs", token: ana, body: map[string]any{
		"type":    jobs.TypeCategoryMigration,
		"payload": map[string]string{"source_category_id": "nope", "target_category_id": "other"},
	}})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Zero(t, a.q.Len(jobs.ChannelDefault))

	// imports only start from an upload, never from a caller-chosen path
	resp, _ = a.do(call{method: http.MethodPost, path: "/jobs", token: ana, body: map[string]any{
		"type":    jobs.TypeCSVImport,
		"payload": map[string]string{"bucket": "imports", "path": "csv-imports/2/other-job/statement.csv"},
	}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Zero(t, a.q.Len(jobs.ChannelCSVImport))
}

func TestUnregisteredTypeFails(t *testing.T) {
	a := newAPI(t)
	ana, _ := a.register("ana@example.com")

	_, body := a.do(call{method: http.MethodPost, path: "/jobs", token: ana, body: map[string]any{"type": "unregistered_type"}})
	acc := decode[accepted](t, body)
	a.drain(jobs.ChannelDefault)

	_, body = a.do(call{method: http.MethodGet, path: "/jobs/" + acc.JobID, token: ana})
	view := decode[handlerView](t, body)
	require.Equal(t, "failed", view.Status)
	require.Contains(t, *view.Error, "unknown job type")
}

type handlerView struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Progress jobs.Progress   `json:"progress"`
	Result   json.RawMessage `json:"result"`
	Error    *string         `json:"error"`
}

func TestCategoryMigrationOverHTTP(t *testing.T) {
	ctx := context.Background()
	a := newAPI(t)
	ana, uid := a.register("ana@example.com")

	acct, err := a.fin.CreateAccount(ctx, uid, "Checking", "")
	require.NoError(t, err)
	src, err := a.fin.CreateCategory(ctx, uid, "Food", finance.KindExpense)
	require.NoError(t, err)
	dst, err := a.fin.CreateCategory(ctx, uid, "Groceries", finance.KindExpense)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _, err := a.fin.CreateTransaction(ctx, uid, finance.NewTransaction{
			AccountID: acct.ID, CategoryID: &src.ID, Description: "item " + strconv.Itoa(i), AmountCents: -100,
		})
		require.NoError(t, err)
	}

	resp, body := a.do(call{method: http.MethodPost, path: "/categories/" + src.ID + "/migrate", token: ana,
		body: map[string]string{"target_category_id": dst.ID}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	acc := decode[accepted](t, body)

	a.drain(jobs.ChannelDefault)

	_, body = a.do(call{method: http.MethodGet, path: "/jobs/" + acc.JobID, token: ana})
	view := decode[handlerView](t, body)
	require.Equal(t, "completed", view.Status)
	require.JSONEq(t, `{"migrated":3}`, string(view.Result))

	resp, _ = a.do(call{method: http.MethodPost, path: "/categories/" + src.ID + "/migrate", token: ana,
		body: map[string]string{"target_category_id": src.ID}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCSVUpload(t *testing.T) {
	ctx := context.Background()
	a := newAPI(t)
	ana, uid := a.register("ana@example.com")
	acct, err := a.fin.CreateAccount(ctx, uid, "Checking", "")
	require.NoError(t, err)

	upload := func(accountID string) (*http.Response, []byte) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "bank.csv")
		require.NoError(t, err)
		_, err = fw.Write([]byte("date,description,amount\n2024-01-02,Coffee,-3.50\n"))
		require.NoError(t, err)
		require.NoError(t, mw.WriteField("account_id", accountID))
		require.NoError(t, mw.WriteField("options", `{"selected_ids":["r1"]}`))
		require.NoError(t, mw.Close())

		req, err := http.NewRequest(http.MethodPost, a.srv.URL+"/imports/csv/start", &buf)
		require.NoError(t, err)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+ana)
		return a.send(req)
	}

	resp, _ := upload("missing")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := upload(acct.ID)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	first := decode[accepted](t, body)
	key := "csv-imports/" + strconv.FormatUint(uid, 10) + "/" + first.JobID + "/bank.csv"
	require.True(t, a.store.Exists("imports", key))
	require.Equal(t, 1, a.q.Len(jobs.ChannelCSVImport))

	a.drain(jobs.ChannelCSVImport)
	_, body = a.do(call{method: http.MethodGet, path: "/jobs/" + first.JobID, token: ana})
	view := decode[handlerView](t, body)
	require.Equal(t, "completed", view.Status)
	require.JSONEq(t, `{"imported":1,"skipped":0,"errors":[],"categories_created":0}`, string(view.Result))
	require.False(t, a.store.Exists("imports", key))

	// a new upload of the same file replaces the finished job
	resp, body = upload(acct.ID)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	second := decode[accepted](t, body)
	_, err = a.repo.Load(ctx, first.JobID)
	require.ErrorIs(t, err, jobs.ErrNotFound)
	_, err = a.repo.Load(ctx, second.JobID)
	require.NoError(t, err)
}

func TestChatBridge(t *testing.T) {
	ctx := context.Background()
	a := newAPI(t)
	ana, uid := a.register("ana@example.com")
	_, err := a.fin.CreateAccount(ctx, uid, "Checking", "")
	require.NoError(t, err)

	resp, _ := a.do(call{method: http.MethodPost, path: "/me/phones", token: ana, body: map[string]string{"phone": "+55 11 97777-0000"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	op := map[string]any{"phone": "+5511977770000", "operation": "get_balance"}
	secret := map[string]string{"X-Webhook-Secret": webhookSecret}

	resp, _ = a.do(call{method: http.MethodPost, path: "/chat/operations", body: op})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = a.do(call{method: http.MethodPost, path: "/chat/operations", body: map[string]any{
		"phone": "+5511977770000", "operation": "dance",
	}, header: secret})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := a.do(call{method: http.MethodPost, path: "/chat/operations", body: op, header: secret})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	acc := decode[accepted](t, body)

	a.drain(jobs.ChannelDefault)
	resp, body = a.do(call{method: http.MethodGet, path: "/chat/jobs/" + acc.JobID + "?phone=%2B5511977770000", header: secret})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[handlerView](t, body)
	require.Equal(t, "completed", view.Status)
	require.JSONEq(t, `{"balance":"0.00","balance_cents":0}`, string(view.Result))

	resp, _ = a.do(call{method: http.MethodPost, path: "/chat/operations", body: op, header: secret})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = a.do(call{method: http.MethodPost, path: "/chat/operations", body: map[string]any{
		"phone": "+5511900000000", "operation": "get_balance",
	}, header: secret})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSharedOwnerAccess(t *testing.T) {
	a := newAPI(t)
	ana, anaID := a.register("ana@example.com")
	bob, bobID := a.register("bob@example.com")

	_, body := a.do(call{method: http.MethodPost, path: "/jobs", token: ana, body: map[string]any{"type": "report.build"}})
	acc := decode[accepted](t, body)

	asAna := map[string]string{auth.OwnerHeader: strconv.FormatUint(anaID, 10)}
	resp, _ := a.do(call{method: http.MethodGet, path: "/jobs/" + acc.JobID, token: bob, header: asAna})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = a.do(call{method: http.MethodPost, path: "/me/shares", token: ana, body: map[string]any{"member_id": bobID}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = a.do(call{method: http.MethodGet, path: "/jobs/" + acc.JobID, token: bob, header: asAna})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, anaID, decode[map[string]any](t, body)["owner_id"])

	resp, _ = a.do(call{method: http.MethodPost, path: "/me/shares", token: ana, body: map[string]any{"member_id": bobID, "role": "admin"}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = a.do(call{method: http.MethodPost, path: "/me/shares", token: ana, body: map[string]any{"member_id": bobID, "role": "viewer"}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = a.do(call{method: http.MethodGet, path: "/jobs/" + acc.JobID, token: bob, header: asAna})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = a.do(call{method: http.MethodPost, path: "/jobs/" + acc.JobID + "/cancel", token: bob, header: asAna})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Contains(t, string(body), "READ_ONLY_SHARE")

	resp, _ = a.do(call{method: http.MethodDelete, path: "/me/shares/" + strconv.FormatUint(bobID, 10), token: ana})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = a.do(call{method: http.MethodGet, path: "/jobs/" + acc.JobID, token: bob, header: asAna})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
