package idempotency

import (
	"context"
	"sync"
)

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]Record
}

func newMemoryKeys() *memoryKeys {
	return &memoryKeys{keys: make(map[string]Record)}
}

func (k *memoryKeys) get(_ context.Context, key string) (*Record, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	rec, ok := k.keys[key]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Body = append([]byte(nil), rec.Body...)
	return &rec, nil
}

func (k *memoryKeys) reserve(_ context.Context, key, requestHash, _, _ string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.keys[key]; ok {
		return false, nil
	}
	k.keys[key] = Record{Key: key, RequestHash: requestHash, InProgress: true}
	return true, nil
}

func (k *memoryKeys) finalize(_ context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	rec, ok := k.keys[key]
	if !ok || rec.RequestHash != requestHash {
		return nil, ErrNotFound
	}
	rec.InProgress = false
	rec.Status = status
	rec.Body = append([]byte(nil), body...)
	rec.ContentType = contentType
	k.keys[key] = rec
	out := rec
	return &out, nil
}
