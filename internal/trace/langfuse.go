// Package trace ships per-turn observability traces to a Langfuse-compatible
// ingestion backend. Records are buffered in memory and delivered in one
// batch per flush; the backend finalizes traces server-side, so retiring a
// turn never needs an explicit close.
package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbertolini/voicetwin/internal/config"
)

const ingestionPath = "/api/public/ingestion"

type event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Body      map[string]any `json:"body"`
}

// Client buffers trace events and posts them to the ingestion endpoint.
// A client built from unconfigured settings is disabled: every operation is a
// no-op and Flush never touches the network. One client instance is shared by
// all sessions; it is safe for concurrent use.
type Client struct {
	cfg   config.LangfuseSettings
	httpc *http.Client
	now   func() time.Time

	mu      sync.Mutex
	pending []event
}

func NewClient(cfg config.LangfuseSettings) *Client {
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		now:   time.Now,
	}
}

// Enabled reports whether events will actually be delivered.
func (c *Client) Enabled() bool { return c.cfg.Enabled() }

// Trace opens a new backend trace correlated by session ID.
func (c *Client) Trace(name, sessionID string) *Trace {
	t := &Trace{client: c, id: uuid.NewString()}
	c.enqueue("trace-create", map[string]any{
		"id":        t.id,
		"name":      name,
		"sessionId": sessionID,
	})
	return t
}

// Flush posts all buffered events in one batch and clears the buffer. The
// buffer is cleared even on delivery failure; a turn trace is best-effort
// telemetry, not durable state.
func (c *Client) Flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if !c.Enabled() || len(batch) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string]any{"batch": batch})
	if err != nil {
		return fmt.Errorf("encode trace batch: %w", err)
	}
	url := strings.TrimRight(c.cfg.Host, "/") + ingestionPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build ingestion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.PublicKey, c.cfg.SecretKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("post trace batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("trace ingestion rejected: %s", resp.Status)
	}
	return nil
}

func (c *Client) enqueue(eventType string, body map[string]any) {
	if !c.Enabled() {
		return
	}
	ts := c.now().UTC().Format(time.RFC3339Nano)
	if body["startTime"] == nil && (eventType == "generation-create" || eventType == "span-create") {
		body["startTime"] = ts
	}
	c.mu.Lock()
	c.pending = append(c.pending, event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: ts,
		Body:      body,
	})
	c.mu.Unlock()
}

// Trace is one backend trace, holding nested stage records for a single
// conversational turn.
type Trace struct {
	client *Client
	id     string
}

// ID is the backend trace identifier, used for log correlation.
func (t *Trace) ID() string { return t.id }

// Generation opens a model-generation record nested under the trace.
func (t *Trace) Generation(name, model string, input any) *Generation {
	g := &Generation{client: t.client, id: uuid.NewString(), traceID: t.id}
	t.client.enqueue("generation-create", map[string]any{
		"id":      g.id,
		"traceId": t.id,
		"name":    name,
		"model":   model,
		"input":   input,
	})
	return g
}

// Span opens a plain span record nested under the trace.
func (t *Trace) Span(name string, metadata map[string]string) *Span {
	s := &Span{client: t.client, id: uuid.NewString(), traceID: t.id}
	t.client.enqueue("span-create", map[string]any{
		"id":       s.id,
		"traceId":  t.id,
		"name":     name,
		"metadata": metadata,
	})
	return s
}

// Generation records one LLM stage execution.
type Generation struct {
	client  *Client
	id      string
	traceID string

	mu             sync.Mutex
	level          string
	completionSeen bool
	ended          bool
}

// MarkCompletionStart stamps the time the first output delta arrived.
// Subsequent calls are ignored.
func (g *Generation) MarkCompletionStart() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.completionSeen {
		return
	}
	g.completionSeen = true
	g.client.enqueue("generation-update", map[string]any{
		"id":                  g.id,
		"traceId":             g.traceID,
		"completionStartTime": g.client.now().UTC().Format(time.RFC3339Nano),
	})
}

// SetError marks the record at error severity.
func (g *Generation) SetError() {
	g.mu.Lock()
	g.level = "ERROR"
	g.mu.Unlock()
}

// End closes the record with whatever output was produced, partial or not.
func (g *Generation) End(output string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ended {
		return
	}
	g.ended = true
	body := map[string]any{
		"id":      g.id,
		"traceId": g.traceID,
		"output":  output,
		"endTime": g.client.now().UTC().Format(time.RFC3339Nano),
	}
	if g.level != "" {
		body["level"] = g.level
	}
	g.client.enqueue("generation-update", body)
}

// Span records one non-generation stage execution.
type Span struct {
	client  *Client
	id      string
	traceID string

	mu    sync.Mutex
	level string
	ended bool
}

// SetError marks the record at error severity.
func (s *Span) SetError() {
	s.mu.Lock()
	s.level = "ERROR"
	s.mu.Unlock()
}

// End closes the span.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	body := map[string]any{
		"id":      s.id,
		"traceId": s.traceID,
		"endTime": s.client.now().UTC().Format(time.RFC3339Nano),
	}
	if s.level != "" {
		body["level"] = s.level
	}
	s.client.enqueue("span-update", body)
}
