/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

type cachedStore struct {
	store      Store
	configHash string
	createdAt  time.Time
}

// StoreCache caches one Store per resource so repeated reconciles reuse SDK
// clients and their connections. Entries are dropped when the provider
// config changes or the TTL elapses.
type StoreCache struct {
	mu     sync.Mutex
	stores map[string]*cachedStore
	ttl    time.Duration
}

// NewStoreCache creates a cache whose entries expire after ttl.
func NewStoreCache(ttl time.Duration) *StoreCache {
	return &StoreCache{
		stores: make(map[string]*cachedStore),
		ttl:    ttl,
	}
}

// HashConfig fingerprints a provider configuration for cache invalidation.
func HashConfig(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached store for key when its config hash still matches
// and the entry is fresh, otherwise builds a new one and caches it.
func (c *StoreCache) Get(key, configHash string, build func() (Store, error)) (Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.stores[key]; ok {
		if entry.configHash == configHash && time.Since(entry.createdAt) < c.ttl {
			return entry.store, nil
		}
		c.closeLocked(key)
	}

	store, err := build()
	if err != nil {
		return nil, err
	}
	c.stores[key] = &cachedStore{
		store:      store,
		configHash: configHash,
		createdAt:  time.Now(),
	}
	return store, nil
}

// Invalidate drops the cached store for key, closing it when it holds a
// connection.
func (c *StoreCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(key)
}

func (c *StoreCache) closeLocked(key string) {
	entry, ok := c.stores[key]
	if !ok {
		return
	}
	if closer, ok := entry.store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	delete(c.stores, key)
}

// Len returns the number of cached stores.
func (c *StoreCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stores)
}
