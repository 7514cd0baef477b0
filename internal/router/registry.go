// Package router picks a destination agent for every admitted message by
// evaluating an ordered list of strategies, and maintains a TTL-cached view
// of the subagent registry.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	registryCacheTTL     = 30 * time.Second
	registryFetchTimeout = 5 * time.Second
)

// Agent is one entry in the subagent registry.
type Agent struct {
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	Priority     int      `json:"priority"` // lower = more capable/urgent tier
	Capabilities []string `json:"capabilities,omitempty"`
}

// RegistryClient is a cache-aside reader of the subagent registry. Fetch
// failures are fail-soft: the last good cache (or an empty list) is
// returned, never an error — routing must not break when the registry is
// down.
type RegistryClient struct {
	endpoint string
	client   *http.Client

	mu        sync.Mutex
	cached    []Agent
	fetchedAt time.Time
	now       func() time.Time
}

// NewRegistryClient points at the registry endpoint. An empty endpoint
// disables fetching entirely (AvailableAgents returns nil).
func NewRegistryClient(endpoint string) *RegistryClient {
	return &RegistryClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: registryFetchTimeout},
		now:      time.Now,
	}
}

// AvailableAgents returns the cached agent list, refreshing it when the TTL
// has lapsed. Never returns an error.
func (c *RegistryClient) AvailableAgents(ctx context.Context) []Agent {
	if c.endpoint == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fetchedAt.IsZero() || c.now().Sub(c.fetchedAt) > registryCacheTTL {
		agents, err := c.fetch(ctx)
		if err != nil {
			slog.Warn("registry fetch failed, serving stale cache", "endpoint", c.endpoint, "error", err)
			// Reset the clock so a flapping registry isn't hammered every call.
			c.fetchedAt = c.now()
			return c.cached
		}
		c.cached = agents
		c.fetchedAt = c.now()
	}
	return c.cached
}

func (c *RegistryClient) fetch(ctx context.Context) ([]Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, registryFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned %s", resp.Status)
	}

	var agents []Agent
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		return nil, fmt.Errorf("decode registry response: %w", err)
	}
	return agents, nil
}
