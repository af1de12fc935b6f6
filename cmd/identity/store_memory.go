package identity

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]Account
	factors  map[uuid.UUID]Factor
	clients  map[uuid.UUID]Client
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]Account),
		factors:  make(map[uuid.UUID]Factor),
		clients:  make(map[uuid.UUID]Client),
	}
}

// PutAccount inserts or replaces an account.
func (s *MemoryStore) PutAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

// PutFactor inserts or replaces a factor.
func (s *MemoryStore) PutFactor(f Factor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factors[f.ID] = f
}

func (s *MemoryStore) GetAccount(_ context.Context, id uuid.UUID) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, NotFoundError{Op: "identity.GetAccount", Resource: "account"}
	}
	return a, nil
}

func (s *MemoryStore) FindAccount(_ context.Context, identifier string) (Account, error) {
	const op = "identity.FindAccount"
	if NormalizeName(identifier) == "" {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing identifier"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	email := LooksLikeEmail(identifier)
	for _, a := range s.accounts {
		if email {
			if a.Email != nil && NormalizeEmail(*a.Email) == NormalizeEmail(identifier) {
				return a, nil
			}
			continue
		}
		if NormalizeName(a.Name) == NormalizeName(identifier) {
			return a, nil
		}
	}
	return Account{}, NotFoundError{Op: op, Resource: "account"}
}

func (s *MemoryStore) ListFactors(_ context.Context, accountID uuid.UUID) ([]Factor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Factor
	for _, f := range s.factors {
		if f.AccountID == accountID {
			out = append(out, f)
		}
	}
	sortFactors(out)
	return out, nil
}

func (s *MemoryStore) GetFactor(_ context.Context, accountID, factorID uuid.UUID) (Factor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.factors[factorID]
	if !ok || f.AccountID != accountID {
		return Factor{}, NotFoundError{Op: "identity.GetFactor", Resource: "factor"}
	}
	return f, nil
}

func (s *MemoryStore) UpsertClient(_ context.Context, now time.Time, in ClientInput) (Client, error) {
	const op = "identity.UpsertClient"
	if in.DeviceID == "" {
		return Client{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing device_id"}
	}
	if in.Platform == "" {
		in.Platform = PlatformUnknown
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[in.AccountID]; !ok {
		return Client{}, NotFoundError{Op: op, Resource: "account"}
	}
	for id, c := range s.clients {
		if c.AccountID == in.AccountID && c.DeviceID == in.DeviceID {
			c.DeviceName = in.DeviceName
			c.Platform = in.Platform
			c.UpdatedAt = now
			s.clients[id] = c
			return c, nil
		}
	}
	c := Client{
		ID:         uuid.New(),
		AccountID:  in.AccountID,
		Platform:   in.Platform,
		DeviceID:   in.DeviceID,
		DeviceName: in.DeviceName,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.clients[c.ID] = c
	return c, nil
}

func (s *MemoryStore) GetClient(_ context.Context, id uuid.UUID) (Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return Client{}, NotFoundError{Op: "identity.GetClient", Resource: "client"}
	}
	return c, nil
}

func sortFactors(fs []Factor) {
	slices.SortFunc(fs, func(a, b Factor) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
}
