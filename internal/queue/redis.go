package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis is a list-backed queue. Receive atomically moves an entry from the
// pending list into a processing list (BLMOVE); Ack removes it, and Reclaim
// pushes back entries held longer than the visibility timeout.
type Redis struct {
	client *redis.Client
	prefix string
	block  time.Duration
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "ledgerly:queue:"
	}
	return &Redis{client: client, prefix: prefix, block: 5 * time.Second}
}

func (q *Redis) pendingKey(ch string) string    { return q.prefix + ch }
func (q *Redis) processingKey(ch string) string { return q.prefix + ch + ":processing" }
func (q *Redis) inflightKey(ch string) string   { return q.prefix + ch + ":inflight" }

func (q *Redis) Push(ctx context.Context, channel string, e Entry) error {
	raw, err := e.encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.pendingKey(channel), raw).Err(); err != nil {
		return fmt.Errorf("redis push: %w", err)
	}
	return nil
}

func (q *Redis) Receive(ctx context.Context, channel string) (*Delivery, error) {
	for {
		raw, err := q.client.BLMove(ctx, q.pendingKey(channel), q.processingKey(channel), "RIGHT", "LEFT", q.block).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("redis receive: %w", err)
		}

		if err := q.client.ZAdd(ctx, q.inflightKey(channel), redis.Z{
			Score:  float64(time.Now().UnixMilli()),
			Member: raw,
		}).Err(); err != nil {
			log.Warn().Str("component", "queue.redis").Err(err).Msg("record inflight entry")
		}

		e, err := decodeEntry([]byte(raw))
		if err != nil {
			log.Error().Str("component", "queue.redis").Str("raw", raw).Err(err).Msg("dropping malformed entry")
			_ = q.settle(ctx, channel, raw, false)
			continue
		}

		return NewDelivery(channel, e,
			func(ctx context.Context) error { return q.settle(ctx, channel, raw, false) },
			func(ctx context.Context) error { return q.settle(ctx, channel, raw, true) },
		), nil
	}
}

func (q *Redis) settle(ctx context.Context, channel, raw string, requeue bool) error {
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processingKey(channel), 1, raw)
		p.ZRem(ctx, q.inflightKey(channel), raw)
		if requeue {
			p.RPush(ctx, q.pendingKey(channel), raw)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis settle: %w", err)
	}
	return nil
}

// Reclaim returns entries that have been in processing longer than olderThan
// to the pending list. Entries found in processing without an inflight
// timestamp (consumer died between the two writes) are stamped now and picked
// up by a later pass.
func (q *Redis) Reclaim(ctx context.Context, channel string, olderThan time.Duration) (int, error) {
	processing, err := q.client.LRange(ctx, q.processingKey(channel), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis reclaim: %w", err)
	}
	now := time.Now()
	for _, raw := range processing {
		if err := q.client.ZAddNX(ctx, q.inflightKey(channel), redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: raw,
		}).Err(); err != nil {
			return 0, fmt.Errorf("redis reclaim: %w", err)
		}
	}

	cutoff := strconv.FormatInt(now.Add(-olderThan).UnixMilli(), 10)
	stale, err := q.client.ZRangeByScore(ctx, q.inflightKey(channel), &redis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis reclaim: %w", err)
	}

	n := 0
	for _, raw := range stale {
		removed, err := q.client.LRem(ctx, q.processingKey(channel), 1, raw).Result()
		if err != nil {
			return n, fmt.Errorf("redis reclaim: %w", err)
		}
		if err := q.client.ZRem(ctx, q.inflightKey(channel), raw).Err(); err != nil {
			return n, fmt.Errorf("redis reclaim: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.RPush(ctx, q.pendingKey(channel), raw).Err(); err != nil {
			return n, fmt.Errorf("redis reclaim: %w", err)
		}
		n++
	}
	return n, nil
}

func (q *Redis) Close() error {
	return q.client.Close()
}
