// Package cache implements rag.CacheProvider over Valkey (Redis-compatible)
// and an in-memory test double, grounded on the Get/Set/TTL patterns in
// the faqstore Valkey-backed store.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/studyforge/notebook-api/internal/domain/rag"
)

// Valkey is the production rag.CacheProvider.
type Valkey struct {
	client valkey.Client
}

// NewValkey constructs a Valkey-backed cache.
func NewValkey(client valkey.Client) *Valkey {
	return &Valkey{client: client}
}

var _ rag.CacheProvider = (*Valkey)(nil)

// Get writes the cached value into dest. A missing/expired key or a
// deserialization failure both return ok=false, never an error.
func (c *Valkey) Get(ctx context.Context, key string, dest any) (bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	payload, err := resp.ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(payload), dest); err != nil {
		return false, nil
	}
	return true, nil
}

// Set write-through's value under key with a TTL. On a provider error it
// returns the error to the caller, who is expected (per contract) not to
// depend on the write having succeeded.
func (c *Valkey) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	builder := c.client.B().Set().Key(key).Value(string(payload))
	var cmd valkey.Completed
	if ttl > 0 {
		if ttl < time.Second {
			ttl = time.Second
		}
		cmd = builder.Ex(ttl).Build()
	} else {
		cmd = builder.Build()
	}
	return c.client.Do(ctx, cmd).Error()
}

func (c *Valkey) Delete(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(key).Build()).Error()
}

func (c *Valkey) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Do(ctx, c.client.B().Exists().Key(key).Build()).ToInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear deletes every key matching prefix+"*" via a non-blocking SCAN.
func (c *Valkey) Clear(ctx context.Context, prefix string) error {
	var cursor uint64
	pattern := prefix + "*"
	for {
		resp := c.client.Do(ctx, c.client.B().Scan().Cursor(cursor).Match(pattern).Count(200).Build())
		entry, err := resp.AsScanEntry()
		if err != nil {
			return err
		}
		if len(entry.Elements) > 0 {
			del := c.client.B().Del().Key(entry.Elements...).Build()
			if err := c.client.Do(ctx, del).Error(); err != nil {
				return err
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

func (c *Valkey) HealthCheck(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}
