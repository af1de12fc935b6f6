package session

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and single-node development.
//
// It counts Children calls so tests can assert one query per BFS layer.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]Session
	keys     map[uuid.UUID]APIKey

	childQueries int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]Session),
		keys:     make(map[uuid.UUID]APIKey),
	}
}

// ChildQueries returns how many times Children has been called.
func (s *MemoryStore) ChildQueries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.childQueries
}

func (s *MemoryStore) Create(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(sess)
}

func (s *MemoryStore) insertLocked(sess Session) error {
	if sess.ChallengeID != nil {
		for _, existing := range s.sessions {
			if existing.ChallengeID != nil && *existing.ChallengeID == *sess.ChallengeID {
				return ErrChallengeConsumed
			}
		}
	}
	sess.Account = nil
	sess.Client = nil
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (s *MemoryStore) GetByChallenge(_ context.Context, challengeID uuid.UUID) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ChallengeID != nil && *sess.ChallengeID == challengeID {
			return sess, nil
		}
	}
	return Session{}, ErrSessionNotFound
}

func (s *MemoryStore) ListByAccount(_ context.Context, accountID uuid.UUID, includeExpired bool, now time.Time) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Session
	for _, sess := range s.sessions {
		if sess.AccountID != accountID {
			continue
		}
		if !includeExpired && sess.Expired(now) {
			continue
		}
		out = append(out, sess)
	}
	slices.SortFunc(out, func(a, b Session) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SetLastGranted(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.LastGrantedAt = &at
	s.sessions[id] = sess
	return nil
}

func (s *MemoryStore) Children(_ context.Context, parents []uuid.UUID) ([]Ref, error) {
	if len(parents) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.childQueries++

	var out []Ref
	for _, sess := range s.sessions {
		if sess.ParentSessionID != nil && slices.Contains(parents, *sess.ParentSessionID) {
			out = append(out, refOf(sess))
		}
	}
	return out, nil
}

func (s *MemoryStore) ExpireSessions(_ context.Context, now time.Time, ids []uuid.UUID) ([]Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Ref
	for _, id := range ids {
		sess, ok := s.sessions[id]
		if !ok || sess.Expired(now) {
			continue
		}
		at := now
		sess.ExpiredAt = &at
		s.sessions[id] = sess
		out = append(out, refOf(sess))
	}
	return out, nil
}

func (s *MemoryStore) ExpireAccount(_ context.Context, now time.Time, accountID uuid.UUID) ([]Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Ref
	for id, sess := range s.sessions {
		if sess.AccountID != accountID || sess.Expired(now) {
			continue
		}
		at := now
		sess.ExpiredAt = &at
		s.sessions[id] = sess
		out = append(out, refOf(sess))
	}
	return out, nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	backing := make(map[uuid.UUID]bool, len(s.keys))
	for _, k := range s.keys {
		backing[k.SessionID] = true
	}
	n := 0
	for id, sess := range s.sessions {
		if sess.ExpiredAt == nil || !sess.ExpiredAt.Before(cutoff) || backing[id] {
			continue
		}
		delete(s.sessions, id)
		n++
	}
	return n, nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key APIKey, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertLocked(sess); err != nil {
		return err
	}
	s.keys[key.ID] = key
	return nil
}

func (s *MemoryStore) GetAPIKey(_ context.Context, id uuid.UUID) (APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return APIKey{}, ErrAPIKeyNotFound
	}
	return k, nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context, accountID uuid.UUID) ([]APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []APIKey
	for _, k := range s.keys {
		if k.AccountID == accountID {
			out = append(out, k)
		}
	}
	slices.SortFunc(out, func(a, b APIKey) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// RotateAPIKey holds the store mutex for the whole rotation, which stands in for the row lock.
// On failure both maps are restored from a snapshot.
func (s *MemoryStore) RotateAPIKey(ctx context.Context, now time.Time, keyID uuid.UUID, next func(old Session) Session, hook RotateHook) (APIKey, Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[keyID]
	if !ok {
		return APIKey{}, Session{}, ErrAPIKeyNotFound
	}
	old, ok := s.sessions[key.SessionID]
	if !ok {
		return APIKey{}, Session{}, RotationError{KeyID: keyID.String(), Step: "load session", Err: ErrSessionNotFound}
	}

	sessions := maps.Clone(s.sessions)
	keys := maps.Clone(s.keys)
	rollback := func(step string, err error) (APIKey, Session, error) {
		s.sessions = sessions
		s.keys = keys
		return APIKey{}, Session{}, RotationError{KeyID: keyID.String(), Step: step, Err: err}
	}

	expired := old
	at := now
	expired.ExpiredAt = &at
	s.sessions[old.ID] = expired

	fresh := next(old)
	if err := s.insertLocked(fresh); err != nil {
		return rollback("insert session", err)
	}

	key.SessionID = fresh.ID
	key.UpdatedAt = now
	s.keys[key.ID] = key

	for id, sess := range s.sessions {
		if sess.ParentSessionID != nil && *sess.ParentSessionID == old.ID {
			parent := fresh.ID
			sess.ParentSessionID = &parent
			s.sessions[id] = sess
		}
	}
	delete(s.sessions, old.ID)

	if hook != nil {
		if err := hook(ctx, old, fresh); err != nil {
			return rollback("hook", err)
		}
	}
	return key, fresh, nil
}

func (s *MemoryStore) DeleteAPIKey(_ context.Context, keyID uuid.UUID) (APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[keyID]
	if !ok {
		return APIKey{}, ErrAPIKeyNotFound
	}
	delete(s.keys, keyID)
	for id, sess := range s.sessions {
		if sess.ParentSessionID != nil && *sess.ParentSessionID == key.SessionID {
			sess.ParentSessionID = nil
			s.sessions[id] = sess
		}
	}
	delete(s.sessions, key.SessionID)
	return key, nil
}

func refOf(sess Session) Ref {
	return Ref{ID: sess.ID, AccountID: sess.AccountID, ExpiredAt: sess.ExpiredAt}
}
