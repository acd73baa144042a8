// Package queue carries job references between the front door and workers.
// Entries hold only a job id; the job record is the source of truth.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned only after Close. Consumers stop on it and retry any
// other Receive error.
var ErrClosed = errors.New("queue closed")

type Entry struct {
	JobID      string `json:"job_id"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

func NewEntry(jobID string) Entry {
	return Entry{JobID: jobID, EnqueuedAt: time.Now().UnixNano()}
}

func (e Entry) encode() ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(b []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("decode queue entry: %w", err)
	}
	if e.JobID == "" {
		return Entry{}, errors.New("decode queue entry: missing job_id")
	}
	return e, nil
}

// Delivery is one received entry. It stays invisible to other consumers until
// it is acked (consumed) or nacked (returned for redelivery).
type Delivery struct {
	Channel string
	Entry   Entry

	ack  func(ctx context.Context) error
	nack func(ctx context.Context) error
}

func NewDelivery(channel string, e Entry, ack, nack func(ctx context.Context) error) *Delivery {
	return &Delivery{Channel: channel, Entry: e, ack: ack, nack: nack}
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

func (d *Delivery) Nack(ctx context.Context) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(ctx)
}

type Queue interface {
	Push(ctx context.Context, channel string, e Entry) error
	// Receive blocks until an entry is available on channel or ctx is done.
	Receive(ctx context.Context, channel string) (*Delivery, error)
	Close() error
}

// Reclaimer is implemented by transports that need an explicit visibility
// timeout sweep to redeliver entries held by a crashed consumer.
type Reclaimer interface {
	Reclaim(ctx context.Context, channel string, olderThan time.Duration) (int, error)
}
