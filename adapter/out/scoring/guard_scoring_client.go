// Package scoring is the HTTP adapter for the remote risk scoring service.
package scoring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"phishguard/core/domain"
	"phishguard/core/port/out"
	"phishguard/pkg/httputil"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const (
	pathCombined = "/api/analyze_combined"
	pathURL      = "/api/analyze_url"
	pathHealth   = "/api/health"

	opCombined = "analyze_combined"
	opURL      = "analyze_url"
	opHealth   = "health"

	maxResponseBytes = 4 << 20
)

// Config configures the scoring client.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// breaker
	MaxRequests  uint32
	Interval     time.Duration
	OpenTimeout  time.Duration
	TripFailures uint32
}

// Client calls the scoring service. It never retries.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

var _ out.ScoringPort = (*Client)(nil)

// NewClient creates a scoring client. httpClient may be nil.
func NewClient(cfg *Config, httpClient *http.Client, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	if httpClient == nil {
		httpClient = httputil.NewOptimizedClient(httputil.ScoringClientConfig(cfg.Timeout))
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 3
	}
	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.TripFailures == 0 {
		cfg.TripFailures = 5
	}

	log = log.With().Str("component", "scoring_client").Logger()
	trip := cfg.TripFailures

	cbSettings := gobreaker.Settings{
		Name:        "scoring-api",
		MaxRequests: cfg.MaxRequests, // Half-open 상태에서 허용할 요청 수
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout, // Open 상태 유지 시간
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
		// InvalidResponse means the service answered; it does not trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || domain.FailureKindOf(err) == domain.FailureInvalidResponse
		},
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    httpClient,
		cb:      gobreaker.NewCircuitBreaker(cbSettings),
		log:     log,
	}
}

// Wire format of the scoring service.

type combinedRequest struct {
	EmailText string   `json:"email_text"`
	URLs      []string `json:"urls"`
}

type urlRequest struct {
	URL string `json:"url"`
}

type signalResponse struct {
	RiskScore    *float64 `json:"risk_score"`
	IsPhishing   bool     `json:"is_phishing"`
	Explanations []string `json:"explanations"`
	Error        string   `json:"error"`
}

type urlAnalysis struct {
	URL      string          `json:"url"`
	Analysis *signalResponse `json:"analysis"`
}

type combinedResponse struct {
	EmailAnalysis *signalResponse `json:"email_analysis"`
	URLAnalyses   []urlAnalysis   `json:"url_analyses"`
	Error         string          `json:"error"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ScoreText scores text together with its URLs.
func (c *Client) ScoreText(ctx context.Context, text string, urls []string) (*domain.ScoreResult, error) {
	if urls == nil {
		urls = []string{}
	}
	var resp combinedResponse
	if err := c.call(ctx, opCombined, http.MethodPost, pathCombined, combinedRequest{EmailText: text, URLs: urls}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &domain.ScoringError{Kind: domain.FailureServiceError, Op: opCombined, Err: errors.New(resp.Error)}
	}

	result := &domain.ScoreResult{}
	if text != "" {
		if resp.EmailAnalysis == nil {
			return nil, invalid(opCombined, "missing email_analysis")
		}
		v, err := toVerdict(resp.EmailAnalysis)
		if err != nil {
			return nil, invalid(opCombined, "email_analysis: "+err.Error())
		}
		result.Text = v
	}
	for i, ua := range resp.URLAnalyses {
		if ua.Analysis == nil {
			return nil, invalid(opCombined, fmt.Sprintf("url_analyses[%d]: missing analysis", i))
		}
		v, err := toVerdict(ua.Analysis)
		if err != nil {
			return nil, invalid(opCombined, fmt.Sprintf("url_analyses[%d]: %v", i, err))
		}
		u := ua.URL
		if u == "" && i < len(urls) {
			u = urls[i]
		}
		result.URLs = append(result.URLs, domain.URLVerdict{URL: u, Verdict: *v})
	}
	return result, nil
}

// ScoreURL scores one URL.
func (c *Client) ScoreURL(ctx context.Context, url string) (*domain.SignalVerdict, error) {
	var resp signalResponse
	if err := c.call(ctx, opURL, http.MethodPost, pathURL, urlRequest{URL: url}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &domain.ScoringError{Kind: domain.FailureServiceError, Op: opURL, Err: errors.New(resp.Error)}
	}
	v, err := toVerdict(&resp)
	if err != nil {
		return nil, invalid(opURL, err.Error())
	}
	return v, nil
}

// Health checks the service's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var resp map[string]any
	return c.call(ctx, opHealth, http.MethodGet, pathHealth, nil, &resp)
}

func (c *Client) call(ctx context.Context, op, method, path string, body, dst any) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.do(ctx, op, method, path, body, dst)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &domain.ScoringError{Kind: domain.FailureServiceUnreachable, Op: op, Err: err}
	}
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, body, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &domain.ScoringError{Kind: domain.FailureServiceUnreachable, Op: op, Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &domain.ScoringError{Kind: domain.FailureServiceUnreachable, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("op", op).Dur("elapsed", time.Since(start)).Msg("scoring request failed")
		return &domain.ScoringError{Kind: domain.FailureServiceUnreachable, Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &domain.ScoringError{Kind: domain.FailureServiceUnreachable, Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er errorResponse
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return &domain.ScoringError{Kind: domain.FailureServiceError, Op: op, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return &domain.ScoringError{Kind: domain.FailureInvalidResponse, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

func toVerdict(r *signalResponse) (*domain.SignalVerdict, error) {
	if r.RiskScore == nil {
		return nil, errors.New("missing risk_score")
	}
	return &domain.SignalVerdict{
		RiskScore:    *r.RiskScore,
		IsPhishing:   r.IsPhishing,
		Explanations: r.Explanations,
	}, nil
}

func invalid(op, msg string) error {
	return &domain.ScoringError{Kind: domain.FailureInvalidResponse, Op: op, Err: errors.New(msg)}
}
