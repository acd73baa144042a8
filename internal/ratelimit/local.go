package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type window struct {
	count int64
	start time.Time
}

// Local keeps counters in a bounded LRU whose entries expire with their
// window, so memory stays flat no matter how many keys are seen.
type Local struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache *expirable.LRU[string, *window]
}

func NewLocal(limit int, win time.Duration, maxKeys int) *Local {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &Local{
		limit:  limit,
		window: win,
		now:    time.Now,
		cache:  expirable.NewLRU[string, *window](maxKeys, nil, win),
	}
}

func (l *Local) Allow(ctx context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.cache.Get(key)
	if !ok || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.cache.Add(key, w)
	}
	w.count++
	return decide(w.count, l.limit, w.start.Add(l.window).Sub(now)), nil
}
