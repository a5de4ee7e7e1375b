package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emotionsim/engine/internal/entropy"
)

const (
	apiURL     = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"
)

// Client wraps the Anthropic Messages API in streaming mode, generalized
// from the teacher's single blocking Complete call to per-token
// streaming plus a parsed final Response.
type Client struct {
	apiKey     string
	httpClient *http.Client
	jitter     *entropy.Client

	mu        sync.Mutex
	callCount int
	resetAt   time.Time
	maxPerMin int
}

// NewClient creates an Anthropic streaming client. jitter may be nil; it
// is consulted only for retry backoff, never for anything that must be
// part of the reproducible sequence.
func NewClient(apiKey string, jitter *entropy.Client) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		jitter:     jitter,
		maxPerMin:  20,
	}
}

// Enabled reports whether the client has a usable API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
	Stream      bool      `json:"stream"`
}

type sseEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

const maxRetries = 2

// Stream implements Oracle by issuing a streaming Messages API request
// and forwarding each text delta as a Token, then parsing the
// accumulated text into a Response.
func (c *Client) Stream(ctx context.Context, modelID, system, user string, temperature float64) (<-chan Token, <-chan Result) {
	tokens := make(chan Token, 32)
	results := make(chan Result, 1)

	go func() {
		defer close(tokens)
		defer close(results)

		if !c.Enabled() {
			results <- Result{Err: fmt.Errorf("llm client not configured")}
			return
		}
		if err := c.reserveSlot(); err != nil {
			results <- Result{Err: err}
			return
		}

		var lastErr error
		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				c.backoff(ctx, attempt)
			}

			var text strings.Builder
			err := c.doStream(ctx, modelID, system, user, temperature, func(tok string) {
				text.WriteString(tok)
				select {
				case tokens <- Token{Text: tok}:
				case <-ctx.Done():
				}
			})
			if err == nil {
				resp, perr := ParseResponse(text.String())
				if perr != nil {
					results <- Result{Err: fmt.Errorf("parse model output: %w", perr)}
					return
				}
				results <- Result{Response: resp}
				return
			}
			lastErr = err
			if ctx.Err() != nil {
				break
			}
		}
		results <- Result{Err: fmt.Errorf("llm call failed after retries: %w", lastErr)}
	}()

	return tokens, results
}

func (c *Client) reserveSlot() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.After(c.resetAt) {
		c.callCount = 0
		c.resetAt = now.Add(time.Minute)
	}
	if c.callCount >= c.maxPerMin {
		return fmt.Errorf("rate limit exceeded (%d calls/min)", c.maxPerMin)
	}
	c.callCount++
	return nil
}

// backoff sleeps a jittered delay before a retry. The jitter source is
// intentionally non-seeded: retry timing is explicitly outside the
// reproducible sequence (spec.md section 4.7 reproducibility note).
func (c *Client) backoff(ctx context.Context, attempt int) {
	base := time.Duration(attempt) * 250 * time.Millisecond
	jitterFrac := entropy.FloatFromSource(c.jitter)
	delay := base + time.Duration(jitterFrac*float64(250*time.Millisecond))

	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

func (c *Client) doStream(ctx context.Context, modelID, system, user string, temperature float64, onToken func(string)) error {
	reqBody := streamRequest{
		Model:       modelID,
		MaxTokens:   2048,
		System:      system,
		Temperature: temperature,
		Messages:    []message{{Role: "user", Content: user}},
		Stream:      true,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("API call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev sseEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			slog.Debug("llm stream: skipping malformed event", "error", err)
			continue
		}
		if ev.Type == "content_block_delta" && ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
			onToken(ev.Delta.Text)
		}
	}
	return scanner.Err()
}
