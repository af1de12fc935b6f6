package challenge

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Login is a past successful login as seen by the risk engine.
type Login struct {
	AccountID   uuid.UUID
	ChallengeID *uuid.UUID
	DeviceID    string
	At          time.Time
}

// MemoryStore is an in-process Store for tests and development.
// Logins stand in for the session table the Postgres store joins against.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[uuid.UUID]Challenge
	logins     []Login
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{challenges: make(map[uuid.UUID]Challenge)}
}

// RecordLogin adds a past login to the history.
func (s *MemoryStore) RecordLogin(l Login) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins = append(s.logins, l)
}

func clone(c Challenge) Challenge {
	c.BlacklistFactors = slices.Clone(c.BlacklistFactors)
	c.Audiences = slices.Clone(c.Audiences)
	c.Scopes = slices.Clone(c.Scopes)
	return c
}

func (s *MemoryStore) Create(_ context.Context, c Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[c.ID] = clone(c)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return Challenge{}, ErrNotFound
	}
	return clone(c), nil
}

func (s *MemoryStore) FindOpen(_ context.Context, now time.Time, accountID uuid.UUID, rc RequestContext) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Challenge
	for _, c := range s.challenges {
		if !c.Matches(accountID, rc.IPAddress, rc.UserAgent, rc.DeviceID) || c.Completed() || c.Expired(now) {
			continue
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) {
			best = &c
		}
	}
	if best == nil {
		return Challenge{}, ErrNotFound
	}
	return clone(*best), nil
}

func (s *MemoryStore) RecordSuccess(_ context.Context, id, factorID uuid.UUID, weight int) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return Challenge{}, ErrNotFound
	}
	c = clone(c)
	if err := c.Advance(factorID, weight); err != nil {
		return Challenge{}, err
	}
	s.challenges[id] = c
	return clone(c), nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, id uuid.UUID) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return Challenge{}, ErrNotFound
	}
	c.Fail()
	s.challenges[id] = c
	return clone(c), nil
}

func (s *MemoryStore) LoadHistory(_ context.Context, now time.Time, accountID uuid.UUID, rc RequestContext) (History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var h History
	var mine []Login
	for _, l := range s.logins {
		if l.AccountID == accountID {
			mine = append(mine, l)
		}
	}
	slices.SortFunc(mine, func(a, b Login) int { return b.At.Compare(a.At) })

	if len(mine) > 0 {
		at := mine[0].At
		h.LastLoginAt = &at
	}
	linked := 0
	for _, l := range mine {
		if l.ChallengeID == nil {
			continue
		}
		if linked++; linked > 10 {
			break
		}
		if c, ok := s.challenges[*l.ChallengeID]; ok {
			h.RecentIPs = append(h.RecentIPs, c.IPAddress)
		}
	}
	for _, l := range mine {
		if rc.DeviceID != "" && l.DeviceID == rc.DeviceID && l.At.After(now.Add(-30*24*time.Hour)) {
			h.DeviceUsedRecently = true
		}
	}

	for _, c := range s.challenges {
		if c.AccountID != accountID {
			continue
		}
		if rc.UserAgent != "" && c.UserAgent == rc.UserAgent {
			h.UserAgentSeen = true
		}
		if c.FailedAttempts > 0 && c.CreatedAt.After(now.Add(-time.Hour)) {
			h.FailedLastHour++
		}
	}
	return h, nil
}
