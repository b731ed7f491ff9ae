// Package engine provides the decision engine for policy-based access control
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hrdesk/pbac/internal/cache"
	"github.com/hrdesk/pbac/internal/metrics"
	"github.com/hrdesk/pbac/internal/notify"
	"github.com/hrdesk/pbac/pkg/types"
)

// ErrNoIdentity is returned when Authorize is called without an identity
var ErrNoIdentity = errors.New("engine: identity is required")

// Request is the input a condition is evaluated against
type Request struct {
	Identity *types.Identity
	Action   string
	Resource string
	Context  types.AuthContext
}

// RuleSource returns the rules of every active policy bound to the user or
// to the role. roleID is nil for roleless users.
type RuleSource interface {
	ActiveRulesFor(ctx context.Context, userID uuid.UUID, roleID *uuid.UUID) ([]types.CandidateRule, error)
}

// ConditionEvaluator decides whether a rule's conditions hold for a request
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, conditions *types.Conditions, req Request) (bool, error)
}

// alwaysTrue accepts every rule
type alwaysTrue struct{}

func (alwaysTrue) Evaluate(context.Context, *types.Conditions, Request) (bool, error) {
	return true, nil
}

// Config configures the decision engine
type Config struct {
	// CacheTTL is how long candidate rules are cached per subject. Zero
	// disables the cache.
	CacheTTL time.Duration `yaml:"ttl"`
	// CacheSize is the maximum number of cached subjects
	CacheSize int `yaml:"size"`
	// PublishDecisions emits an authz.decision event for every decision
	PublishDecisions bool `yaml:"publish_decisions"`
}

// DefaultConfig returns a default engine configuration
func DefaultConfig() Config {
	return Config{
		CacheSize:        10000,
		PublishDecisions: true,
	}
}

// Engine evaluates authorization requests against active policies
type Engine struct {
	rules     RuleSource
	evaluator ConditionEvaluator
	publisher notify.Publisher
	metrics   metrics.Metrics
	logger    *zap.Logger
	cache     *cache.LRU[[]types.CandidateRule]
	config    Config
}

// New creates a decision engine. evaluator, publisher, m and logger may be
// nil.
func New(cfg Config, rules RuleSource, evaluator ConditionEvaluator, publisher notify.Publisher, m metrics.Metrics, logger *zap.Logger) (*Engine, error) {
	if rules == nil {
		return nil, fmt.Errorf("engine: rule source is required")
	}
	if evaluator == nil {
		evaluator = alwaysTrue{}
	}
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		rules:     rules,
		evaluator: evaluator,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		config:    cfg,
	}
	if cfg.CacheTTL > 0 {
		e.cache = cache.NewLRU[[]types.CandidateRule](cfg.CacheSize, cfg.CacheTTL)
	}
	return e, nil
}

// Authorize decides whether identity may perform action on resource.
// A matching deny wins over any allow; with no matching rule the request is
// denied by default. Storage failures are returned as errors and never
// reported as a deny.
func (e *Engine) Authorize(ctx context.Context, identity *types.Identity, action, resource string, authCtx types.AuthContext) (types.Decision, error) {
	start := time.Now()
	if identity == nil {
		return types.Decision{}, ErrNoIdentity
	}

	candidates, err := e.candidates(ctx, identity)
	if err != nil {
		e.metrics.RecordDecisionError()
		e.logger.Error("Failed to load candidate rules",
			zap.String("user_id", identity.User.ID.String()),
			zap.Error(err),
		)
		return types.Decision{}, err
	}

	req := Request{Identity: identity, Action: action, Resource: resource, Context: authCtx}
	decision := e.evaluate(ctx, req, candidates)

	result := "deny"
	if decision.Allowed {
		result = "allow"
	}
	e.metrics.RecordDecision(result, time.Since(start))

	if e.config.PublishDecisions {
		e.publish(identity, action, resource, decision)
	}
	return decision, nil
}

func (e *Engine) evaluate(ctx context.Context, req Request, candidates []types.CandidateRule) types.Decision {
	var allowedBy *types.Policy

	for i := range candidates {
		c := &candidates[i]
		if !c.Rule.Covers(req.Action, req.Resource) {
			continue
		}

		ok, err := e.evaluator.Evaluate(ctx, c.Rule.Conditions, req)
		if err != nil {
			e.logger.Warn("Rule condition failed to evaluate",
				zap.String("rule_id", c.Rule.ID.String()),
				zap.String("policy", c.Policy.Label()),
				zap.String("effect", string(c.Rule.Effect)),
				zap.Error(err),
			)
			// A deny that cannot be evaluated still denies; an allow does not grant.
			if c.Rule.Effect != types.EffectDeny {
				continue
			}
			ok = true
		}
		if !ok {
			continue
		}

		switch c.Rule.Effect {
		case types.EffectDeny:
			id := c.Policy.ID
			return types.Decision{
				Allowed:  false,
				Reason:   "denied by policy " + c.Policy.Label(),
				PolicyID: &id,
			}
		case types.EffectAllow:
			allowedBy = &c.Policy
		}
	}

	if allowedBy != nil {
		id := allowedBy.ID
		return types.Decision{
			Allowed:  true,
			Reason:   "allowed by policy " + allowedBy.Label(),
			PolicyID: &id,
		}
	}
	return types.Decision{Allowed: false, Reason: types.ReasonDefaultDeny}
}

func (e *Engine) candidates(ctx context.Context, identity *types.Identity) ([]types.CandidateRule, error) {
	roleID := identity.RoleID()
	if e.cache == nil {
		return e.rules.ActiveRulesFor(ctx, identity.User.ID, roleID)
	}

	key := identity.User.ID.String()
	if roleID != nil {
		key += ":" + roleID.String()
	}
	if rules, ok := e.cache.Get(key); ok {
		e.metrics.RecordCacheHit()
		return rules, nil
	}
	e.metrics.RecordCacheMiss()

	rules, err := e.rules.ActiveRulesFor(ctx, identity.User.ID, roleID)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, rules)
	return rules, nil
}

func (e *Engine) publish(identity *types.Identity, action, resource string, d types.Decision) {
	payload := map[string]interface{}{
		"user_id":  identity.User.ID.String(),
		"username": identity.User.Username,
		"action":   action,
		"resource": resource,
		"allowed":  d.Allowed,
		"reason":   d.Reason,
	}
	if d.PolicyID != nil {
		payload["policy_id"] = d.PolicyID.String()
	}

	verdict := "denied"
	if d.Allowed {
		verdict = "allowed"
	}
	e.publisher.Publish(notify.Event{
		Type:    notify.EventDecision,
		Message: fmt.Sprintf("%s %s %s on %s: %s", identity.User.Username, verdict, action, resource, d.Reason),
		Payload: payload,
	})
}

// InvalidateOnMutations clears the candidate cache whenever a policy
// mutation event arrives on the hub, until ctx is done. It is a no-op when
// the cache is disabled.
func (e *Engine) InvalidateOnMutations(ctx context.Context, hub *notify.Hub) {
	if e.cache == nil || hub == nil {
		return
	}
	hub.Handle(ctx, "engine-cache", func(ev notify.Event) {
		if ev.Type.IsPolicyMutation() {
			e.ClearCache()
		}
	})
}

// ClearCache drops every cached candidate set
func (e *Engine) ClearCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

// GetCacheStats returns cache statistics, or nil when caching is disabled
func (e *Engine) GetCacheStats() *cache.Stats {
	if e.cache == nil {
		return nil
	}
	stats := e.cache.Stats()
	return &stats
}
