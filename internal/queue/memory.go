package queue

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	entry Entry
	taken time.Time
}

// Memory is an in-process queue. Receivers wait on a broadcast channel that
// is replaced on every push, so idle consumers do not poll.
type Memory struct {
	mu       sync.Mutex
	lists    map[string][]Entry
	inflight map[string]map[uint64]memEntry
	seq      uint64
	signal   chan struct{}
	closed   bool
}

func NewMemory() *Memory {
	return &Memory{
		lists:    make(map[string][]Entry),
		inflight: make(map[string]map[uint64]memEntry),
		signal:   make(chan struct{}),
	}
}

func (m *Memory) Push(ctx context.Context, channel string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.lists[channel] = append(m.lists[channel], e)
	m.wake()
	return nil
}

func (m *Memory) wake() {
	close(m.signal)
	m.signal = make(chan struct{})
}

func (m *Memory) Receive(ctx context.Context, channel string) (*Delivery, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		if list := m.lists[channel]; len(list) > 0 {
			e := list[0]
			m.lists[channel] = list[1:]
			m.seq++
			id := m.seq
			if m.inflight[channel] == nil {
				m.inflight[channel] = make(map[uint64]memEntry)
			}
			m.inflight[channel][id] = memEntry{entry: e, taken: time.Now()}
			m.mu.Unlock()
			return NewDelivery(channel, e,
				func(context.Context) error { m.settle(channel, id, false); return nil },
				func(context.Context) error { m.settle(channel, id, true); return nil },
			), nil
		}
		sig := m.signal
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-sig:
		}
	}
}

func (m *Memory) settle(channel string, id uint64, requeue bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	me, ok := m.inflight[channel][id]
	if !ok {
		return
	}
	delete(m.inflight[channel], id)
	if requeue && !m.closed {
		m.lists[channel] = append([]Entry{me.entry}, m.lists[channel]...)
		m.wake()
	}
}

func (m *Memory) Reclaim(ctx context.Context, channel string, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for id, me := range m.inflight[channel] {
		if me.taken.Before(cutoff) {
			delete(m.inflight[channel], id)
			m.lists[channel] = append(m.lists[channel], me.entry)
			n++
		}
	}
	if n > 0 {
		m.wake()
	}
	return n, nil
}

// Len returns the number of entries waiting on channel.
func (m *Memory) Len(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lists[channel])
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.wake()
	}
	return nil
}
