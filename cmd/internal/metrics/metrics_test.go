package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.AuthResult("ok")
		m.CacheLookup("hit")
		m.SessionsRevoked(3)
		m.ChallengeSteps(2)
		m.FactorAttempt("password", "ok")
		m.APIKeyRotation("ok")
	})
}

func TestMetrics_RecordAndExpose(t *testing.T) {
	t.Parallel()

	m := New()
	m.AuthResult("ok")
	m.AuthResult("ok")
	m.CacheLookup("miss")
	m.SessionsRevoked(4)

	assert.InDelta(t, 2, testutil.ToFloat64(m.authResults.WithLabelValues("ok")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.sessionsRevoked), 0)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.True(t, strings.Contains(string(body), "passport_session_cache_lookups_total"))
}
