package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"

	"ledgerly/internal/queue"
)

var typePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)

// ValidType reports whether typ is an acceptable job type name.
func ValidType(typ string) bool {
	return typePattern.MatchString(typ)
}

type EnqueueRequest struct {
	// ID is generated when empty. Callers that must name artifacts after the
	// job before it exists set it themselves.
	ID      string
	Type    string
	OwnerID uint64
	// Payload is stored verbatim. A json.RawMessage or []byte is used as is,
	// anything else is marshalled.
	Payload any
}

// Enqueuer is the front door: it persists the job record and only then pushes
// a reference to it on the queue.
type Enqueuer struct {
	Repo  *Repo
	Queue queue.Queue
	// Channels overrides ChannelFor per job type.
	Channels map[string]string
	NewID    func() string
}

func NewEnqueuer(repo *Repo, q queue.Queue) *Enqueuer {
	return &Enqueuer{Repo: repo, Queue: q}
}

func (e *Enqueuer) channel(typ string) string {
	if ch, ok := e.Channels[typ]; ok && ch != "" {
		return ch
	}
	return ChannelFor(typ)
}

func (e *Enqueuer) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

// Enqueue creates a queued job and pushes it. When the push fails the id is
// still returned together with ErrQueueUnavailable; the row stays queued and
// the recovery sweep pushes it later.
func (e *Enqueuer) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if !ValidType(req.Type) {
		return "", fmt.Errorf("%w: bad type %q", ErrInvalidRequest, req.Type)
	}
	if req.OwnerID == 0 {
		return "", fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}
	payload, err := encodePayload(req.Payload)
	if err != nil {
		return "", err
	}

	id := req.ID
	if id == "" {
		id = e.newID()
	}
	job := &Job{
		ID:      id,
		OwnerID: req.OwnerID,
		Type:    req.Type,
		Channel: e.channel(req.Type),
		Payload: payload,
	}
	if err := e.Repo.Create(ctx, job); err != nil {
		return "", err
	}

	if err := e.Queue.Push(ctx, job.Channel, queue.NewEntry(job.ID)); err != nil {
		log.Error().Str("component", "jobs.enqueue").
			Str("job_id", job.ID).Str("channel", job.Channel).Err(err).
			Msg("push failed, job left queued for sweep")
		return job.ID, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	log.Debug().Str("component", "jobs.enqueue").
		Str("job_id", job.ID).Str("type", job.Type).Uint64("owner_id", job.OwnerID).
		Msg("job enqueued")
	return job.ID, nil
}

// Requeue pushes another entry for an existing job.
func (e *Enqueuer) Requeue(ctx context.Context, job *Job) error {
	ch := job.Channel
	if ch == "" {
		ch = e.channel(job.Type)
	}
	if err := e.Queue.Push(ctx, ch, queue.NewEntry(job.ID)); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

func encodePayload(v any) (datatypes.JSON, error) {
	var raw []byte
	switch t := v.(type) {
	case nil:
		return datatypes.JSON("{}"), nil
	case json.RawMessage:
		raw = t
	case []byte:
		raw = t
	case datatypes.JSON:
		raw = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: payload: %v", ErrInvalidRequest, err)
		}
		raw = b
	}
	if len(raw) == 0 {
		return datatypes.JSON("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidRequest)
	}
	return datatypes.JSON(raw), nil
}
