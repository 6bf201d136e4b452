// Copyright 2024 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// PubKeyCacheOption configures a PubKeyCache.
type PubKeyCacheOption struct {
	Size int
	TTL  time.Duration
}

// PubKeyCache remembers server public keys, keyed by the server's base URI,
// for a bounded time.
type PubKeyCache struct {
	cache *expirable.LRU[string, ed25519.PublicKey]
}

// KeyFetcher is implemented by LogClient and MonitorClient.
type KeyFetcher interface {
	BaseURI() string
	GetPubKey(ctx context.Context) (ed25519.PublicKey, error)
}

// NewPubKeyCache returns an empty cache.
func NewPubKeyCache(opt PubKeyCacheOption) *PubKeyCache {
	return &PubKeyCache{cache: expirable.NewLRU[string, ed25519.PublicKey](opt.Size, nil, opt.TTL)}
}

// Get returns the cached key for the server behind f, fetching it on a miss.
// Failed fetches are not cached.
func (c *PubKeyCache) Get(ctx context.Context, f KeyFetcher) (ed25519.PublicKey, error) {
	uri := f.BaseURI()
	if key, ok := c.cache.Get(uri); ok {
		return key, nil
	}
	key, err := f.GetPubKey(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Add(uri, key)
	return key, nil
}

// Invalidate drops the key of the server at uri.
func (c *PubKeyCache) Invalidate(uri string) {
	c.cache.Remove(uri)
}

// Purge drops all keys.
func (c *PubKeyCache) Purge() {
	c.cache.Purge()
}
