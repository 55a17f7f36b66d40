package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Error kinds the pipeline distinguishes. Anything else coming out of
// Analyze is a generic transient failure subject to the normal retry
// schedule.
var (
	// ErrRateLimited means the service asked us to back off; recovery is
	// time-bounded, so the caller applies a single long cooldown instead of
	// exponential retries.
	ErrRateLimited = errors.New("analyzer: rate limited")

	// ErrQuotaExceeded means the account is out of quota. Retrying cannot
	// succeed; the session surfaces this as a session-level condition.
	ErrQuotaExceeded = errors.New("analyzer: quota exceeded")
)

// Result is the structured output of one analyze call.
type Result struct {
	Scores      map[string]float64 `json:"scores"`
	Overall     float64            `json:"overall"`
	Description string             `json:"description"`
}

// Client calls the remote photo-scoring service. The scoring model itself is
// opaque; this client only shapes requests and classifies failures.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// New creates a Client for the scoring service at baseURL.
func New(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

type analyzeRequest struct {
	Filename string `json:"filename"`
	Model    string `json:"model,omitempty"`
	Image    string `json:"image"` // base64-encoded bytes
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze submits image bytes for scoring and returns the structured result.
// Failure kinds: ErrRateLimited (HTTP 429), ErrQuotaExceeded (HTTP 402 or an
// error code containing "quota"), anything else is transient.
func (c *Client) Analyze(ctx context.Context, data []byte, filename string) (Result, error) {
	body, err := json.Marshal(analyzeRequest{
		Filename: filename,
		Model:    c.model,
		Image:    base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("analyze %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, classifyStatus(resp, filename)
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decode analyze response for %s: %w", filename, err)
	}
	return res, nil
}

// classifyStatus maps a non-200 response onto the pipeline's error taxonomy.
func classifyStatus(resp *http.Response, filename string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body errorResponse
	_ = json.Unmarshal(raw, &body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, filename)
	case resp.StatusCode == http.StatusPaymentRequired,
		bytes.Contains([]byte(body.Error.Code), []byte("quota")):
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, body.Error.Message)
	}

	msg := body.Error.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("analyze %s: %s (HTTP %d)", filename, msg, resp.StatusCode)
}
