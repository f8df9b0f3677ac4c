// Package oracle is the external scoring client. It talks to an
// OpenAI-compatible chat completions endpoint (a local Ollama instance in
// the default deployment) and returns a structured threat score. Every
// failure mode (transport, status, parse) is an error the scorer degrades
// on; the oracle is advisory, never load-bearing.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/archiegate/guardian/internal/model"
)

// Config holds oracle connection parameters.
type Config struct {
	APIURL    string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Result is the oracle's verdict on one event.
type Result struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

const scoreSystemPrompt = `You are a host security analyst. You receive one sensor event plus recent context from the same host and must rate how threatening the event is.

Score 0-100: 0 = certainly benign, 100 = certainly malicious.

Return ONLY valid JSON, no markdown fences, no commentary:
{"score":<0-100>,"rationale":"<one line explanation>"}`

// Client scores events against a chat completions endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates an oracle client with validated defaults.
func New(cfg Config) *Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Score asks the oracle to rate one event given recent context events.
// Honors ctx cancellation; the configured timeout bounds the call either way.
func (c *Client) Score(ctx context.Context, ev model.Event, recent []model.Event) (Result, error) {
	user, err := buildPrompt(ev, recent)
	if err != nil {
		return Result{}, fmt.Errorf("oracle: build prompt: %w", err)
	}

	body, _ := json.Marshal(map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": scoreSystemPrompt},
			{"role": "user", "content": user},
		},
		"max_tokens":  c.cfg.MaxTokens,
		"temperature": 0,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("oracle: create request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("oracle: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("oracle: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &completion); err != nil || len(completion.Choices) == 0 {
		return Result{}, fmt.Errorf("oracle: empty response")
	}

	return parseResult(completion.Choices[0].Message.Content)
}

// buildPrompt renders the event and up to five recent context events as JSON.
func buildPrompt(ev model.Event, recent []model.Event) (string, error) {
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	payload := map[string]any{
		"event":          ev,
		"recent_context": recent,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseResult extracts {score, rationale} from the model output.
func parseResult(raw string) (Result, error) {
	raw = cleanJSON(raw)

	var r Result
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Result{}, fmt.Errorf("oracle: cannot parse response: %s", truncate(raw, 200))
	}
	if r.Score < 0 {
		r.Score = 0
	}
	if r.Score > 100 {
		r.Score = 100
	}
	return r, nil
}

// cleanJSON strips markdown fences some models wrap around JSON anyway.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
