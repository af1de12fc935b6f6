package challenge

import (
	"context"
	"testing"
	"time"

	"passport/cmd/identity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreRisk(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time { at := now.Add(-d); return &at }

	tests := []struct {
		name string
		in   Signals
		want int
	}{
		{
			name: "nothing known saturates",
			in:   Signals{Now: now},
			want: MaxRiskScore,
		},
		{
			name: "unknown ip and ua first login",
			in:   Signals{Now: now, IPAddress: "198.51.100.7", UserAgent: "Mozilla/5.0"},
			want: 8 + 4 + 7,
		},
		{
			name: "bot user agent",
			in:   Signals{Now: now, IPAddress: "198.51.100.7", UserAgent: "Googlebot/2.1", IPSeenRecently: true, LastLoginAt: ago(time.Hour)},
			want: 4 + 8,
		},
		{
			name: "ip moved since last login",
			in: Signals{Now: now, IPAddress: "198.51.100.7", LastIP: "203.0.113.1", UserAgent: "ua",
				UserAgentSeen: true, LastLoginAt: ago(200 * time.Hour)},
			want: 8 + 6 + 6,
		},
		{
			name: "only the highest inactivity tier counts",
			in:   Signals{Now: now, IPAddress: "ip", IPSeenRecently: true, UserAgent: "ua", UserAgentSeen: true, LastLoginAt: ago(800 * time.Hour)},
			want: 9,
		},
		{
			name: "failed attempts are capped",
			in:   Signals{Now: now, IPAddress: "ip", IPSeenRecently: true, UserAgent: "ua", UserAgentSeen: true, LastLoginAt: ago(25 * time.Hour), FailedLastHour: 9},
			want: 3 + 10,
		},
		{
			name: "trusted setup floors at zero",
			in: Signals{Now: now, IPAddress: "ip", IPSeenRecently: true, UserAgent: "ua", UserAgentSeen: true, LastLoginAt: ago(time.Hour),
				EnabledFactors: 3, TimedCodeEnabled: true, PinCodeEnabled: true, DeviceUsedRecently: true},
			want: 0,
		},
		{
			name: "clamped to max",
			in:   Signals{Now: now, IPAddress: "ip", LastIP: "other", UserAgent: "spider", LastLoginAt: ago(1000 * time.Hour), FailedLastHour: 5},
			want: MaxRiskScore,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScoreRisk(tt.in))
		})
	}
}

func TestRequiredSteps(t *testing.T) {
	assert.Equal(t, 0, RequiredSteps(0, 20), "no usable factors means no steps")
	assert.Equal(t, 0, RequiredSteps(-1, 5))
	assert.Equal(t, 1, RequiredSteps(3, 0), "at least one step")
	assert.Equal(t, 2, RequiredSteps(2, 16))
	assert.Equal(t, 2, RequiredSteps(3, 10), "1.5 rounds half away from zero")
	assert.Equal(t, 1, RequiredSteps(3, 9))
	assert.Equal(t, 3, RequiredSteps(3, 20))
}

func TestRiskEngine_Scenarios(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	enabled := now.Add(-time.Hour)

	ids := identity.NewMemoryStore()
	account := identity.Account{ID: uuid.New(), Name: "ada", CreatedAt: now}
	ids.PutAccount(account)
	for _, typ := range []identity.FactorType{identity.FactorPassword, identity.FactorEmailCode, identity.FactorPinCode} {
		ids.PutFactor(identity.Factor{ID: uuid.New(), AccountID: account.ID, Type: typ, Trustworthy: 1, EnabledAt: &enabled})
	}

	bare := identity.Account{ID: uuid.New(), Name: "bob", CreatedAt: now}
	ids.PutAccount(bare)
	ids.PutFactor(identity.Factor{ID: uuid.New(), AccountID: bare.ID, Type: identity.FactorPinCode, Trustworthy: 1, EnabledAt: &enabled})

	engine := NewRiskEngine(ids, NewMemoryStore())
	rc := RequestContext{IPAddress: "198.51.100.7", UserAgent: "Mozilla/5.0", DeviceID: "laptop"}

	s, maxSteps, err := engine.Signals(ctx, now, rc, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, maxSteps)
	assert.Equal(t, 3, s.EnabledFactors)
	assert.GreaterOrEqual(t, ScoreRisk(s), 15)

	steps, err := engine.DetectChallengeRisk(ctx, now, rc, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, steps, "both factors are required")

	steps, err = engine.DetectChallengeRisk(ctx, now, rc, bare.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, steps, "PIN alone cannot satisfy a challenge")
}

func TestRiskEngine_KnownContextLowersSteps(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	enabled := now.Add(-time.Hour)

	ids := identity.NewMemoryStore()
	account := identity.Account{ID: uuid.New(), Name: "ada", CreatedAt: now}
	ids.PutAccount(account)
	for _, typ := range []identity.FactorType{identity.FactorPassword, identity.FactorTimedCode, identity.FactorEmailCode} {
		ids.PutFactor(identity.Factor{ID: uuid.New(), AccountID: account.ID, Type: typ, Trustworthy: 1, EnabledAt: &enabled})
	}

	store := NewMemoryStore()
	rc := RequestContext{IPAddress: "198.51.100.7", UserAgent: "Mozilla/5.0", DeviceID: "laptop"}
	past := Challenge{
		ID: uuid.New(), AccountID: account.ID, StepTotal: 1, IPAddress: rc.IPAddress, UserAgent: rc.UserAgent,
		DeviceID: rc.DeviceID, ExpiredAt: now.Add(-23 * time.Hour), CreatedAt: now.Add(-24 * time.Hour),
	}
	require.NoError(t, store.Create(ctx, past))
	store.RecordLogin(Login{AccountID: account.ID, ChallengeID: &past.ID, DeviceID: rc.DeviceID, At: now.Add(-2 * time.Hour)})

	engine := NewRiskEngine(ids, store)
	s, maxSteps, err := engine.Signals(ctx, now, rc, account.ID)
	require.NoError(t, err)
	assert.True(t, s.IPSeenRecently)
	assert.True(t, s.UserAgentSeen)
	assert.True(t, s.DeviceUsedRecently)
	assert.Equal(t, rc.IPAddress, s.LastIP)
	assert.Equal(t, 0, ScoreRisk(s))

	steps, err := engine.DetectChallengeRisk(ctx, now, rc, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, steps)
	assert.Equal(t, 3, maxSteps)
}
