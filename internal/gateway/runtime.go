package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/relaygate/internal/config"
	"github.com/nextlevelbuilder/relaygate/internal/queue"
	"github.com/nextlevelbuilder/relaygate/internal/scheduler"
)

// RuntimeClient calls the agent runtime over HTTP. The control plane knows
// nothing about the runtime's internals — it posts work and reads back
// {text, metadata}.
type RuntimeClient struct {
	endpoint string
	client   *http.Client
}

// NewRuntimeClient builds the client. An empty endpoint yields a client
// that acknowledges work without doing any — useful for wiring tests, loud
// in the logs so it is never mistaken for a configured deployment.
func NewRuntimeClient(cfg config.RuntimeConfig) *RuntimeClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if cfg.Endpoint == "" {
		slog.Warn("no runtime endpoint configured; messages will be acknowledged, not processed")
	}
	return &RuntimeClient{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type runtimeRequest struct {
	ItemID    string            `json:"item_id"`
	SessionID string            `json:"session_id"`
	Message   string            `json:"message"`
	Agent     string            `json:"agent,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type runtimeResponse struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Notify   bool              `json:"notify,omitempty"`
}

func (c *RuntimeClient) call(ctx context.Context, url string, req runtimeRequest) (*runtimeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("runtime call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("runtime returned %s", resp.Status)
	}
	var out runtimeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode runtime response: %w", err)
	}
	return &out, nil
}

// ProcessFunc returns the queue manager's handler. Routed items with a
// worker URL go straight to that worker; everything else goes to the
// configured runtime endpoint.
func (c *RuntimeClient) ProcessFunc() queue.ProcessFunc {
	return func(ctx context.Context, item *queue.Item) (*queue.Response, error) {
		url := c.endpoint
		agent := ""
		if item.Routing != nil {
			agent = item.Routing.AgentName
			if item.Routing.WorkerURL != "" {
				url = item.Routing.WorkerURL
			}
		}
		if url == "" {
			return &queue.Response{
				Text:     "Message received.",
				Metadata: map[string]string{"runtime": "unconfigured"},
			}, nil
		}
		out, err := c.call(ctx, url, runtimeRequest{
			ItemID:    item.ID,
			SessionID: item.Session.ID,
			Message:   item.Message.Text,
			Agent:     agent,
			Metadata:  item.Message.Metadata,
		})
		if err != nil {
			return nil, err
		}
		return &queue.Response{Text: out.Text, Metadata: out.Metadata}, nil
	}
}

// RunFunc returns the scheduler's handler: synthetic messages share the
// same runtime as queued ones, bypassing the queue.
func (c *RuntimeClient) RunFunc() scheduler.RunFunc {
	return func(ctx context.Context, message, sessionID string, meta map[string]string) (scheduler.RunResult, error) {
		if c.endpoint == "" {
			return scheduler.RunResult{Text: scheduler.HeartbeatOK}, nil
		}
		out, err := c.call(ctx, c.endpoint, runtimeRequest{
			SessionID: sessionID,
			Message:   message,
			Metadata:  meta,
		})
		if err != nil {
			return scheduler.RunResult{}, err
		}
		return scheduler.RunResult{Text: out.Text, Notify: out.Notify}, nil
	}
}
