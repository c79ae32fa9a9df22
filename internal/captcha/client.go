// Package captcha implements the HTTP client for the remote captcha
// solving service.
package captcha

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d3xf/scenic/api/schemas"
	"github.com/d3xf/scenic/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const authErrorCode = "CODE-0001"

// solveRequest is the wire payload posted to the solver API.
type solveRequest struct {
	Cmd         string                 `json:"cmd"`
	CaptchaType string                 `json:"captchaType"`
	URL         string                 `json:"url,omitempty"`
	SiteKey     string                 `json:"siteKey,omitempty"`
	CSSSelector string                 `json:"cssSelector,omitempty"`
	CoreName    string                 `json:"coreName,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// apiEnvelope is the solver API response. A populated Error field means the
// request failed even when the HTTP status was 200.
type apiEnvelope struct {
	Solution struct {
		Token string `json:"token"`
	} `json:"solution"`
	Error       string `json:"error"`
	Code        string `json:"code"`
	TimeElapsed int64  `json:"timeElapsed"`
}

// Client talks to the solver API with rate limiting and retries for
// transient failures.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	cfg        config.SolverConfig
}

var _ schemas.CaptchaSolver = (*Client)(nil)

// NewClient initializes the client. The configuration must already be
// validated; an empty endpoint means the solver is disabled and the caller
// should not construct a client at all.
func NewClient(cfg config.SolverConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("solver endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("solver API key is required")
	}

	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		logger:  logger.Named("captcha"),
		cfg:     cfg,
	}, nil
}

// Solve submits the challenge and returns the solution token. Transient
// failures are retried with exponential backoff; auth errors abort
// immediately.
func (c *Client) Solve(ctx context.Context, req schemas.CaptchaRequest) (string, error) {
	payload := solveRequest{
		Cmd:         "captcha.solve",
		CaptchaType: string(req.Kind),
		URL:         req.WebsiteURL,
		SiteKey:     req.WebsiteKey,
		CSSSelector: req.CSSSelector,
		CoreName:    req.CoreName,
		Data:        req.Data,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal solve request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitialDelay
	b.MaxInterval = c.cfg.RetryMaxDelay
	b.RandomizationFactor = 0.25
	b.Multiplier = 2
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)

	var token string
	attempt := 0
	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		result, err := c.doRequest(ctx, body)
		if err != nil {
			if !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			c.logger.Warn("Transient solver error, will retry.",
				zap.String("captcha_type", string(req.Kind)),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		token = result
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return "", fmt.Errorf("captcha solve failed after %d attempt(s): %w", attempt, err)
	}

	c.logger.Debug("Captcha solved.",
		zap.String("captcha_type", string(req.Kind)),
		zap.Int("attempts", attempt),
		zap.Int("token_length", len(token)))
	return token, nil
}

func (c *Client) doRequest(ctx context.Context, body []byte) (string, error) {
	if c.cfg.Debug {
		// The key travels in the query string, never log the full URL.
		c.logger.Debug("Solver request.",
			zap.String("endpoint", c.endpoint),
			zap.ByteString("payload", body))
	}

	url := fmt.Sprintf("%s?key=%s", c.endpoint, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return "", &TimeoutError{Message: err.Error()}
		}
		return "", fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read solver response: %w", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("malformed solver response (status %d): %w", resp.StatusCode, err)
	}

	if envelope.Error != "" {
		code := envelope.Code
		if code == "" {
			code = "UNKNOWN"
		}
		switch {
		case code == authErrorCode:
			return "", &AuthError{Code: code, Message: envelope.Error}
		case strings.Contains(strings.ToLower(envelope.Error), "timeout"):
			return "", &TimeoutError{Message: envelope.Error}
		default:
			return "", &RequestError{Code: code, Message: envelope.Error}
		}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &RequestError{
			Code:    fmt.Sprintf("HTTP-%d", resp.StatusCode),
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}

	if envelope.Solution.Token == "" {
		return "", &RequestError{Code: "UNKNOWN", Message: "no token in solver response"}
	}

	if c.cfg.Debug {
		c.logger.Debug("Solver response.",
			zap.Int("status", resp.StatusCode),
			zap.Int64("time_elapsed_ms", envelope.TimeElapsed))
	}
	return envelope.Solution.Token, nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
