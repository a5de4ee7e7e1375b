// Package entropy supplies the jitter used for the LLM oracle's
// retry/backoff delays (internal/llm.Client). It is never consulted for
// anything that must stay part of a run's seeded, reproducible sequence
// — that randomness always comes from the run's own math/rand.Rand.
package entropy

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	randomOrgEndpoint = "https://api.random.org/json-rpc/4/invoke"
	batchSize         = 100
	decimalPlaces     = 6
	refillBelow       = 10
	requestTimeout    = 15 * time.Second
)

// Client draws true random floats from random.org, buffering a batch at
// a time behind a mutex. A nil *Client is valid and always falls through
// to crypto/rand — callers never need to check for nil themselves.
type Client struct {
	apiKey string
	http   *http.Client

	mu     sync.Mutex
	buffer []float64
}

// NewClient builds a random.org-backed Client, or nil if apiKey is empty
// (the caller then runs on crypto/rand alone via FloatFromSource).
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{apiKey: apiKey, http: &http.Client{Timeout: requestTimeout}}
}

// Enabled reports whether c has a usable API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Float draws one value in [0, 1) from the buffer, topping it up from
// random.org first if it's running low. Any failure reaching the API
// degrades to a single crypto/rand draw rather than blocking the caller.
func (c *Client) Float() float64 {
	if c == nil {
		return fallbackFloat()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buffer) < refillBelow {
		c.buffer = append(c.buffer, fetchBatch(c.http, c.apiKey)...)
	}
	if len(c.buffer) == 0 {
		return fallbackFloat()
	}

	v := c.buffer[0]
	c.buffer = c.buffer[1:]
	return v
}

// FloatFromSource draws from c if it's configured, otherwise from
// crypto/rand directly. c may be nil.
func FloatFromSource(c *Client) float64 {
	if c.Enabled() {
		return c.Float()
	}
	return fallbackFloat()
}

// rpcRequest is a JSON-RPC 2.0 call to random.org's generateDecimalFractions
// method.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  struct {
		APIKey        string `json:"apiKey"`
		N             int    `json:"n"`
		DecimalPlaces int    `json:"decimalPlaces"`
	} `json:"params"`
	ID int `json:"id"`
}

type rpcResponse struct {
	Result struct {
		Random struct {
			Data []float64 `json:"data"`
		} `json:"random"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// fetchBatch requests one batch of true random fractions from random.org.
// Any error along the way is logged at debug level and returns nil — the
// caller falls back to crypto/rand, so a random.org outage never surfaces
// as a hard failure.
func fetchBatch(httpClient *http.Client, apiKey string) []float64 {
	req := rpcRequest{JSONRPC: "2.0", Method: "generateDecimalFractions", ID: 1}
	req.Params.APIKey = apiKey
	req.Params.N = batchSize
	req.Params.DecimalPlaces = decimalPlaces

	body, err := json.Marshal(req)
	if err != nil {
		slog.Debug("entropy: encode random.org request failed", "error", err)
		return nil
	}

	resp, err := httpClient.Post(randomOrgEndpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Debug("entropy: random.org request failed", "error", err)
		return nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Debug("entropy: read random.org response failed", "error", err)
		return nil
	}

	var rpc rpcResponse
	if err := json.Unmarshal(raw, &rpc); err != nil {
		slog.Debug("entropy: decode random.org response failed", "error", err)
		return nil
	}
	if rpc.Error != nil {
		slog.Debug("entropy: random.org returned an error", "message", rpc.Error.Message)
		return nil
	}

	slog.Debug("entropy: refilled pool from random.org", "count", len(rpc.Result.Random.Data))
	return rpc.Result.Random.Data
}

// fallbackFloat draws a uniform float64 in [0, 1) from crypto/rand using
// the top 53 bits of a random uint64, the same construction math/rand
// uses internally for Float64.
func fallbackFloat() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0.5
	}
	n := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(n) / float64(1<<53)
}
