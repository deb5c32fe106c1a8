package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/databowl/backend/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.5-flash"

	// Upper bound on a generateContent body we are willing to buffer
	maxResponseBytes = 4 << 20
)

// ClientConfig holds Gemini API client settings
type ClientConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerMinute int
}

// Client handles communication with the Gemini generateContent API
type Client struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	rateLimiter *rate.Limiter
	logger      *zap.SugaredLogger
}

// NewClient creates a new Gemini API client
func NewClient(cfg ClientConfig, logger *zap.SugaredLogger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		httpClient: &http.Client{
			// Backstop only; callers bound each attempt with a context deadline
			Timeout: 2 * time.Minute,
		},
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       model,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burstFor(rpm)),
		logger:      logger,
	}
}

func burstFor(rpm int) int {
	burst := rpm / 6
	if burst < 1 {
		return 1
	}
	return burst
}

// Model returns the model name requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// Generate sends one image and prompt to the model and returns its raw text.
// Non-2xx answers are returned as *domain.UpstreamError.
func (c *Client) Generate(ctx context.Context, image []byte, mimeType, prompt string) (string, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("rate limiter error: %w", err)
		}
		// Wait refuses up front when the next token arrives after the deadline
		c.logger.Warnw("[Gemini] Local request budget exhausted", "error", err)
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamThrottled, err)
	}

	payload, err := json.Marshal(buildRequest(image, mimeType, prompt))
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))

	c.logger.Debugw("[Gemini] generateContent", "model", c.model, "imageBytes", len(image), "mimeType", mimeType)

	resp, err := c.doRequest(ctx, endpoint, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		upstreamErr := toUpstreamError(resp.StatusCode, err)
		c.logger.Warnw("[Gemini] API error", "status", upstreamErr.StatusCode, "message", upstreamErr.Message)
		return "", upstreamErr
	}

	body, err := readLimitedBody(resp.Body, maxResponseBytes)
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", domain.ErrInferenceAPIFailure, err)
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return genResp.text()
}

// doRequest executes an HTTP POST request with proper headers and error handling
func (c *Client) doRequest(ctx context.Context, endpoint string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "DataBowl/1.0")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInferenceAPIFailure, err)
	}
	return resp, nil
}

// toUpstreamError keeps the status and message decoded by googleapi.
func toUpstreamError(status int, err error) *domain.UpstreamError {
	upstreamErr := &domain.UpstreamError{StatusCode: status, Err: err}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code != 0 {
			upstreamErr.StatusCode = apiErr.Code
		}
		upstreamErr.Message = apiErr.Message
		if upstreamErr.Message == "" && apiErr.Body != "" {
			upstreamErr.Message = domain.Truncate(apiErr.Body, 200)
		}
	}
	return upstreamErr
}

// readLimitedBody reads at most limit bytes from r
func readLimitedBody(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}
