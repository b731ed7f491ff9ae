// Package metrics provides observability for the access control core
package metrics

import (
	"net/http"
	"time"
)

// Metrics provides observability for decisions, policy writes and sessions
type Metrics interface {
	// Authorization metrics
	RecordDecision(result string, duration time.Duration)
	RecordDecisionError()
	RecordCacheHit()
	RecordCacheMiss()

	// Policy store metrics
	RecordMutation(op string, result string)

	// Identity metrics
	RecordLogin(result string)
	RecordSessionResolve(result string)

	// HTTP metrics
	RecordHTTPRequest(route string, status int, duration time.Duration)
	RecordRateLimited(route string)

	// Notification hub metrics
	UpdateHubStats(published, dropped uint64, subscribers int)

	// HTTP handler for Prometheus scraping
	HTTPHandler() http.Handler
}

// NoOpMetrics provides a no-op implementation for testing/disabled monitoring
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new no-op metrics instance
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (n *NoOpMetrics) RecordDecision(result string, duration time.Duration)               {}
func (n *NoOpMetrics) RecordDecisionError()                                               {}
func (n *NoOpMetrics) RecordCacheHit()                                                    {}
func (n *NoOpMetrics) RecordCacheMiss()                                                   {}
func (n *NoOpMetrics) RecordMutation(op string, result string)                            {}
func (n *NoOpMetrics) RecordLogin(result string)                                          {}
func (n *NoOpMetrics) RecordSessionResolve(result string)                                 {}
func (n *NoOpMetrics) RecordHTTPRequest(route string, status int, duration time.Duration) {}
func (n *NoOpMetrics) RecordRateLimited(route string)                                     {}
func (n *NoOpMetrics) UpdateHubStats(published, dropped uint64, subscribers int)          {}

// HTTPHandler returns a no-op handler
func (n *NoOpMetrics) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("# NoOp metrics - monitoring disabled\n"))
	})
}

// ResultFor labels an operation outcome as ok or error
func ResultFor(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
