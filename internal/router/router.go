package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
	"github.com/nextlevelbuilder/relaygate/internal/session"
)

// Strategy selects how the router falls through after explicit assignments.
type Strategy string

const (
	// StrategyAuto enables content-pattern and registry-based selection.
	StrategyAuto Strategy = "auto"
	// StrategyStatic goes straight to the default agent when nothing is
	// explicitly assigned.
	StrategyStatic Strategy = "static"
)

// priorityTierMax is the session/agent priority at or below which the
// registry-based urgent-tier pick applies.
const priorityTierMax = 3

// Decision is the chosen destination agent plus why it was chosen. Attached
// to queue items for observability.
type Decision struct {
	AgentName string `json:"agentName"`
	WorkerURL string `json:"workerUrl,omitempty"`
	Reason    string `json:"reason"`
	Priority  int    `json:"priority,omitempty"`
}

// Config tunes the router.
type Config struct {
	Strategy        Strategy
	DefaultAgent    string
	ContentPatterns []ContentPattern
}

// Router evaluates routing strategies in strict precedence:
// session assignment, agent directive, content pattern (auto), registry
// urgent-tier pick (auto), configured default.
type Router struct {
	cfg      Config
	matchers []contentMatcher
	registry *RegistryClient
}

// New builds a Router. registry may be nil when no registry is configured.
func New(cfg Config, registry *RegistryClient) *Router {
	if cfg.DefaultAgent == "" {
		cfg.DefaultAgent = "main"
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyAuto
	}
	return &Router{
		cfg:      cfg,
		matchers: compileMatchers(cfg.ContentPatterns),
		registry: registry,
	}
}

// Route picks the destination agent for msg. It always returns a decision;
// every failure path falls through to the configured default agent.
func (r *Router) Route(ctx context.Context, msg bus.InboundMessage, sess *session.Session) Decision {
	// 1. Explicit session assignment wins unconditionally.
	if sess.AssignedAgent != "" {
		return Decision{
			AgentName: sess.AssignedAgent,
			Reason:    "session has assigned agent",
			Priority:  sess.Priority,
		}
	}

	// 2. First active "agent:<name>" directive, in list order.
	if name := sess.ActiveAgentDirective(); name != "" {
		return Decision{
			AgentName: name,
			Reason:    fmt.Sprintf("agent directive matched: %s", name),
			Priority:  sess.Priority,
		}
	}

	if r.cfg.Strategy == StrategyAuto {
		// 3. First configured content pattern matching the message.
		lowered := strings.ToLower(msg.Text)
		for _, m := range r.matchers {
			if m.matches(lowered) {
				return Decision{
					AgentName: m.agent,
					Reason:    fmt.Sprintf("content pattern matched: %s", m.raw),
					Priority:  sess.Priority,
				}
			}
		}

		// 4. Urgent sessions go to the most capable registered agent.
		if sess.Priority <= priorityTierMax && r.registry != nil {
			if best, ok := r.pickUrgent(ctx); ok {
				return Decision{
					AgentName: best.Name,
					WorkerURL: best.URL,
					Reason:    fmt.Sprintf("registry pick for priority %d session", sess.Priority),
					Priority:  sess.Priority,
				}
			}
		}
	}

	// 5. Configured default.
	return Decision{
		AgentName: r.cfg.DefaultAgent,
		Reason:    "default agent",
		Priority:  sess.Priority,
	}
}

// pickUrgent returns the registered agent with the numerically lowest
// priority, provided at least one sits in the urgent tier.
func (r *Router) pickUrgent(ctx context.Context) (Agent, bool) {
	agents := r.registry.AvailableAgents(ctx)
	var best Agent
	found := false
	for _, a := range agents {
		if a.Priority > priorityTierMax {
			continue
		}
		if !found || a.Priority < best.Priority {
			best = a
			found = true
		}
	}
	return best, found
}
