package app

import (
	"context"

	"passport/cmd/identity"
	"passport/cmd/internal/auth/challenge"
	"passport/cmd/internal/auth/session"
)

// memoryStores builds the DB-less store set. Sessions created through the
// session store are also recorded as logins in the challenge store, which is
// what the Postgres history query gets by joining the sessions table.
func memoryStores() (identity.Store, challenge.Store, session.Store) {
	challenges := challenge.NewMemoryStore()
	return identity.NewMemoryStore(), challenges, loginRecorder{Store: session.NewMemoryStore(), logins: challenges}
}

type loginRecorder struct {
	session.Store
	logins *challenge.MemoryStore
}

func (r loginRecorder) Create(ctx context.Context, s session.Session) error {
	if err := r.Store.Create(ctx, s); err != nil {
		return err
	}
	l := challenge.Login{AccountID: s.AccountID, ChallengeID: s.ChallengeID, At: s.CreatedAt}
	if s.LastGrantedAt != nil {
		l.At = *s.LastGrantedAt
	}
	if s.ChallengeID != nil {
		if c, err := r.logins.Get(ctx, *s.ChallengeID); err == nil {
			l.DeviceID = c.DeviceID
		}
	}
	r.logins.RecordLogin(l)
	return nil
}
