package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RevokeSession expires id and every session descending from it.
//
// The forest is walked breadth first with one Children query per layer; the
// visited set tolerates cycles. All collected ids are then expired in a single
// statement. It returns false when nothing was expired, either because the
// session does not exist or because the whole subtree was already dead.
func (s *Service) RevokeSession(ctx context.Context, now time.Time, id uuid.UUID) (bool, error) {
	visited := map[uuid.UUID]struct{}{id: {}}
	closure := []uuid.UUID{id}
	layer := []uuid.UUID{id}

	for len(layer) > 0 {
		children, err := s.store.Children(ctx, layer)
		if err != nil {
			return false, err
		}
		layer = layer[:0:0]
		for _, c := range children {
			if _, seen := visited[c.ID]; seen {
				continue
			}
			visited[c.ID] = struct{}{}
			closure = append(closure, c.ID)
			layer = append(layer, c.ID)
		}
	}

	expired, err := s.store.ExpireSessions(ctx, now, closure)
	if err != nil {
		return false, err
	}
	if len(expired) == 0 {
		return false, nil
	}

	s.evictRefs(ctx, expired)
	s.metrics.SessionsRevoked(len(expired))
	s.log.Info("session.revoke", "session_id", id, "expired", len(expired))
	return true, nil
}

// RevokeAllSessionsForAccount expires every live session of the account and returns how many.
func (s *Service) RevokeAllSessionsForAccount(ctx context.Context, now time.Time, accountID uuid.UUID) (int, error) {
	expired, err := s.store.ExpireAccount(ctx, now, accountID)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	s.evictRefs(ctx, expired)
	if err := s.cache.EvictAccount(ctx, accountID); err != nil {
		s.log.Warn("session.cache.evict.fail", "err", err, "account_id", accountID)
	}
	s.metrics.SessionsRevoked(len(expired))
	s.log.Info("session.revoke_all", "account_id", accountID, "expired", len(expired))
	return len(expired), nil
}

// evictRefs drops the cache entries of refs and the cache group of each affected account.
// Cache failures are logged; the store is authoritative and entries expire on their own.
func (s *Service) evictRefs(ctx context.Context, refs []Ref) {
	ids := make([]uuid.UUID, 0, len(refs))
	accounts := make(map[uuid.UUID]struct{})
	for _, r := range refs {
		ids = append(ids, r.ID)
		accounts[r.AccountID] = struct{}{}
	}
	if err := s.cache.Evict(ctx, ids...); err != nil {
		s.log.Warn("session.cache.evict.fail", "err", err, "sessions", len(ids))
	}
	for acc := range accounts {
		if err := s.cache.EvictAccount(ctx, acc); err != nil {
			s.log.Warn("session.cache.evict.fail", "err", err, "account_id", acc)
		}
	}
}
