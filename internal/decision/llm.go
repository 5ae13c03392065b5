package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"log/slog"
)

const (
	apiURL     = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"
	model      = "claude-haiku-4-5-20251001"

	// Published per-Mtok pricing for the model above. Spend metering is
	// approximate and intentionally rounds up via these rates.
	usdPerMInputTok  = 1.00
	usdPerMOutputTok = 5.00
)

// Client wraps the Anthropic Messages API for agent cognition calls and
// meters cumulative spend per simulated day.
type Client struct {
	apiKey     string
	httpClient *http.Client

	mu        sync.Mutex
	callCount int
	resetAt   time.Time
	maxPerMin int

	spendDay int64
	spendUSD float64
}

// NewClient creates an API client. Returns nil when apiKey is empty,
// which disables model-backed decisions.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxPerMin: 20,
	}
}

// Enabled reports whether the client can make calls.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// DaySpend returns the accumulated spend in USD for the given day.
func (c *Client) DaySpend(day int64) float64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spendDay != day {
		return 0
	}
	return c.spendUSD
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type apiResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends one prompt and returns the response text. The day is
// used to bucket spend metering.
func (c *Client) Complete(ctx context.Context, day int64, system, userPrompt string, maxTokens int) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("model client not configured")
	}

	c.mu.Lock()
	now := time.Now()
	if now.After(c.resetAt) {
		c.callCount = 0
		c.resetAt = now.Add(time.Minute)
	}
	if c.callCount >= c.maxPerMin {
		c.mu.Unlock()
		return "", fmt.Errorf("rate limit exceeded (%d calls/min)", c.maxPerMin)
	}
	c.callCount++
	c.mu.Unlock()

	req := apiRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    system,
		Messages: []chatMessage{
			{Role: "user", Content: userPrompt},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("API call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("empty response")
	}

	cost := float64(parsed.Usage.InputTokens)/1e6*usdPerMInputTok +
		float64(parsed.Usage.OutputTokens)/1e6*usdPerMOutputTok

	c.mu.Lock()
	if c.spendDay != day {
		c.spendDay = day
		c.spendUSD = 0
	}
	c.spendUSD += cost
	c.mu.Unlock()

	slog.Debug("model call",
		"input_tokens", parsed.Usage.InputTokens,
		"output_tokens", parsed.Usage.OutputTokens,
		"cost_usd", cost,
	)

	return parsed.Content[0].Text, nil
}
