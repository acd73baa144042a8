package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// Memory is an ObjectStore for tests and single-process development.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func memKey(bucket, key string) string { return bucket + "/" + key }

func (m *Memory) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[memKey(bucket, key)] = b
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	b, ok := m.objects[memKey(bucket, key)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *Memory) Remove(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	delete(m.objects, memKey(bucket, key))
	m.mu.Unlock()
	return nil
}

func (m *Memory) Exists(bucket, key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[memKey(bucket, key)]
	return ok
}
