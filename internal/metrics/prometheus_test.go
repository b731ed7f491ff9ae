package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m Metrics) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)
	return w.Body.String()
}

func TestNewPrometheusMetrics(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
	}{
		{name: "Default namespace", namespace: "pbac"},
		{name: "Custom namespace", namespace: "hr_ops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewPrometheusMetrics(tt.namespace)
			require.NotNil(t, m)
			m.RecordCacheHit()
			assert.Contains(t, scrape(t, m), tt.namespace+"_cache_hits_total 1")
		})
	}
}

func TestPrometheusMetrics_Decisions(t *testing.T) {
	m := NewPrometheusMetrics("pbac_test")

	m.RecordDecision("allow", 2*time.Millisecond)
	m.RecordDecision("deny", time.Millisecond)
	m.RecordDecision("allow", 3*time.Millisecond)
	m.RecordDecisionError()

	body := scrape(t, m)
	assert.Contains(t, body, `pbac_test_authz_decisions_total{result="allow"} 2`)
	assert.Contains(t, body, `pbac_test_authz_decisions_total{result="deny"} 1`)
	assert.Contains(t, body, "pbac_test_authz_errors_total 1")

	allow, deny := m.Decisions()
	assert.Equal(t, uint64(2), allow)
	assert.Equal(t, uint64(1), deny)
}

func TestPrometheusMetrics_Mutations(t *testing.T) {
	m := NewPrometheusMetrics("pbac_test")

	m.RecordMutation("activate", ResultFor(nil))
	m.RecordMutation("add_rule", ResultFor(errors.New("immutable")))

	body := scrape(t, m)
	assert.Contains(t, body, `pbac_test_policy_mutations_total{op="activate",result="ok"} 1`)
	assert.Contains(t, body, `pbac_test_policy_mutations_total{op="add_rule",result="error"} 1`)
}

func TestPrometheusMetrics_SessionsAndHTTP(t *testing.T) {
	m := NewPrometheusMetrics("pbac_test")

	m.RecordLogin("ok")
	m.RecordSessionResolve("expired")
	m.RecordHTTPRequest("/v1/policies", 201, 10*time.Millisecond)
	m.RecordRateLimited("/v1/auth/login")
	m.UpdateHubStats(10, 2, 3)

	body := scrape(t, m)
	assert.Contains(t, body, `pbac_test_session_logins_total{result="ok"} 1`)
	assert.Contains(t, body, `pbac_test_session_resolves_total{result="expired"} 1`)
	assert.Contains(t, body, `pbac_test_http_requests_total{code="201",route="/v1/policies"} 1`)
	assert.Contains(t, body, `pbac_test_http_rate_limited_total{route="/v1/auth/login"} 1`)
	assert.Contains(t, body, "pbac_test_notify_dropped_events 2")
	assert.Contains(t, body, "pbac_test_notify_subscribers 3")
}

func TestNoOpMetrics(t *testing.T) {
	var m Metrics = NewNoOpMetrics()
	m.RecordDecision("allow", time.Millisecond)
	m.RecordMutation("create", "ok")
	assert.Contains(t, scrape(t, m), "NoOp metrics")
}
