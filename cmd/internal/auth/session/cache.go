package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"passport/cmd/internal/cache"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

const (
	sessionKeyPrefix = "session:"
	accountKeyPrefix = "session:account:"
)

// Cache stores authenticated sessions keyed by id and keeps an explicit
// account -> session-ids set so a whole account can be evicted at once.
type Cache struct {
	store cache.Store
	ttl   time.Duration
	enc   cbor.EncMode
	dec   cbor.DecMode
}

// NewCache wraps a cache backend. ttl applies to both entries and index sets.
func NewCache(store cache.Store, ttl time.Duration) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("session: nil cache store")
	}
	if ttl <= 0 {
		return nil, ErrConfig
	}
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return &Cache{store: store, ttl: ttl, enc: enc, dec: dec}, nil
}

func sessionKey(id uuid.UUID) string        { return sessionKeyPrefix + id.String() }
func accountKey(accountID uuid.UUID) string { return accountKeyPrefix + accountID.String() }

// Get returns the cached session. Undecodable entries are treated as misses.
func (c *Cache) Get(ctx context.Context, id uuid.UUID) (Session, bool, error) {
	raw, err := c.store.Get(ctx, sessionKey(id))
	if errors.Is(err, cache.ErrMiss) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	var sess Session
	if err := c.dec.Unmarshal(raw, &sess); err != nil {
		return Session{}, false, nil
	}
	return sess, true, nil
}

// Put caches the session and records it in the account index.
func (c *Cache) Put(ctx context.Context, sess Session) error {
	raw, err := c.enc.Marshal(sess)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, sessionKey(sess.ID), raw, c.ttl); err != nil {
		return err
	}
	return c.store.AddToSet(ctx, accountKey(sess.AccountID), sess.ID.String(), c.ttl)
}

// Evict removes individual session entries.
func (c *Cache) Evict(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	return c.store.Delete(ctx, keys...)
}

// EvictAccount removes every indexed session of the account, then the index itself.
func (c *Cache) EvictAccount(ctx context.Context, accountID uuid.UUID) error {
	idx := accountKey(accountID)
	members, err := c.store.SetMembers(ctx, idx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, sessionKeyPrefix+m)
	}
	keys = append(keys, idx)
	return c.store.Delete(ctx, keys...)
}
