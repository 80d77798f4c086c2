package kvstore

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Fake is an in-memory KV implementing KV, used by tests across the
// coordinator that would otherwise need a live Redis instance. Mirrors
// the teacher's InMemoryMetadataService: a mutex-guarded map standing in
// for the external store.
type Fake struct {
	mu     sync.Mutex
	values map[string]string
	expiry map[string]time.Time
}

// NewFake returns an empty in-memory KV.
func NewFake() *Fake {
	return &Fake{
		values: make(map[string]string),
		expiry: make(map[string]time.Time),
	}
}

func (f *Fake) expired(key string) bool {
	exp, ok := f.expiry[key]
	return ok && time.Now().After(exp)
}

func (f *Fake) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.values[key]; exists && !f.expired(key) {
		return false, nil
	}

	f.values[key] = value
	if ttl > 0 {
		f.expiry[key] = time.Now().Add(ttl)
	} else {
		delete(f.expiry, key)
	}
	return true, nil
}

func (f *Fake) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.expired(key) {
		delete(f.values, key)
		delete(f.expiry, key)
		return "", false, nil
	}

	val, ok := f.values[key]
	return val, ok, nil
}

func (f *Fake) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.values[key] = value
	delete(f.expiry, key)
	return nil
}

func (f *Fake) Expire(_ context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.values[key]; !ok {
		return nil
	}
	f.expiry[key] = time.Now().Add(ttl)
	return nil
}

func (f *Fake) KeysByPrefix(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.values {
		if f.expired(k) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

var _ KV = (*Fake)(nil)
