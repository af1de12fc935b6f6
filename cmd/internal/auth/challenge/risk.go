package challenge

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"passport/cmd/identity"

	"github.com/google/uuid"
)

// MaxRiskScore is the upper bound of ScoreRisk.
const MaxRiskScore = 20

// Signals are the inputs of the risk score for one login attempt.
type Signals struct {
	IPAddress string
	UserAgent string

	// IPSeenRecently is true when IPAddress appears among the challenges linked
	// to the account's last ten sessions.
	IPSeenRecently bool
	// LastIP is the IP of the most recent login, empty if unknown.
	LastIP string

	UserAgentSeen bool

	// LastLoginAt is nil when the account never logged in.
	LastLoginAt *time.Time
	Now         time.Time

	FailedLastHour int

	EnabledFactors     int
	TimedCodeEnabled   bool
	PinCodeEnabled     bool
	DeviceUsedRecently bool
}

var botMarkers = []string{"bot", "crawler", "spider"}

// ScoreRisk turns signals into a score in [0, MaxRiskScore].
func ScoreRisk(s Signals) int {
	score := 0

	if s.IPAddress == "" {
		score += 10
	} else {
		if !s.IPSeenRecently {
			score += 8
		}
		if s.LastIP != "" && s.LastIP != s.IPAddress {
			score += 6
		}
	}

	if s.UserAgent == "" {
		score += 5
	} else if !s.UserAgentSeen {
		score += 4
		ua := strings.ToLower(s.UserAgent)
		for _, m := range botMarkers {
			if strings.Contains(ua, m) {
				score += 8
				break
			}
		}
	}

	if s.LastLoginAt == nil {
		score += 7
	} else {
		switch hours := s.Now.Sub(*s.LastLoginAt).Hours(); {
		case hours > 720:
			score += 9
		case hours > 168:
			score += 6
		case hours > 24:
			score += 3
		}
	}

	score += min(s.FailedLastHour*2, 10)

	switch {
	case s.EnabledFactors >= 2:
		score -= 3
	case s.EnabledFactors == 1:
		score -= 1
	}
	if s.TimedCodeEnabled {
		score -= 2
	}
	if s.PinCodeEnabled {
		score--
	}
	if s.DeviceUsedRecently {
		score--
	}

	return min(max(score, 0), MaxRiskScore)
}

// RequiredSteps scales score onto [1, maxSteps], rounding half away from zero.
// An account without usable factors (maxSteps <= 0) gets zero steps, which
// callers must treat as "cannot challenge".
func RequiredSteps(maxSteps, score int) int {
	if maxSteps <= 0 {
		return 0
	}
	steps := int(math.Round(float64(maxSteps) * float64(score) / MaxRiskScore))
	return min(max(steps, 1), maxSteps)
}

// RequestContext describes the login attempt being scored.
type RequestContext struct {
	IPAddress string
	UserAgent string
	DeviceID  string
}

// History is what the store knows about an account's past logins.
type History struct {
	// RecentIPs are the IPs of challenges linked to the last ten sessions, newest first.
	RecentIPs          []string
	UserAgentSeen      bool
	LastLoginAt        *time.Time
	FailedLastHour     int
	DeviceUsedRecently bool
}

// HistorySource loads login history for risk scoring.
type HistorySource interface {
	LoadHistory(ctx context.Context, now time.Time, accountID uuid.UUID, rc RequestContext) (History, error)
}

// RiskEngine computes required steps from an account's factors and history.
type RiskEngine struct {
	identities identity.Store
	history    HistorySource
}

// NewRiskEngine constructs a RiskEngine.
func NewRiskEngine(identities identity.Store, history HistorySource) *RiskEngine {
	return &RiskEngine{identities: identities, history: history}
}

// Signals gathers the risk inputs for a login attempt and the account's step ceiling
// (its enabled, non-PIN factors).
func (e *RiskEngine) Signals(ctx context.Context, now time.Time, rc RequestContext, accountID uuid.UUID) (Signals, int, error) {
	factors, err := e.identities.ListFactors(ctx, accountID)
	if err != nil {
		return Signals{}, 0, fmt.Errorf("list factors: %w", err)
	}
	hist, err := e.history.LoadHistory(ctx, now, accountID, rc)
	if err != nil {
		return Signals{}, 0, fmt.Errorf("load history: %w", err)
	}

	s := Signals{
		IPAddress:          rc.IPAddress,
		UserAgent:          rc.UserAgent,
		UserAgentSeen:      hist.UserAgentSeen,
		LastLoginAt:        hist.LastLoginAt,
		Now:                now,
		FailedLastHour:     hist.FailedLastHour,
		DeviceUsedRecently: hist.DeviceUsedRecently,
	}
	for i, ip := range hist.RecentIPs {
		if i == 0 {
			s.LastIP = ip
		}
		if ip == rc.IPAddress {
			s.IPSeenRecently = true
		}
	}

	maxSteps := 0
	for _, f := range identity.EnabledFactors(factors, now) {
		s.EnabledFactors++
		switch f.Type {
		case identity.FactorTimedCode:
			s.TimedCodeEnabled = true
		case identity.FactorPinCode:
			s.PinCodeEnabled = true
		}
		if f.Type != identity.FactorPinCode {
			maxSteps++
		}
	}
	return s, maxSteps, nil
}

// DetectChallengeRisk returns the number of steps a login from rc must complete.
func (e *RiskEngine) DetectChallengeRisk(ctx context.Context, now time.Time, rc RequestContext, accountID uuid.UUID) (int, error) {
	s, maxSteps, err := e.Signals(ctx, now, rc, accountID)
	if err != nil {
		return 0, err
	}
	return RequiredSteps(maxSteps, ScoreRisk(s)), nil
}
