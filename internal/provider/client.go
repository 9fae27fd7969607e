package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RatePerSecond caps outbound calls across the process; 0 disables the cap.
	RatePerSecond float64
	RateBurst     int
}

type httpClient struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient builds the typed provider client. Responses are schema-validated
// before they are returned; validation failure is reported as ErrInvalidResponse.
func NewClient(cfg Config, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 45 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &httpClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		log:     logger,
	}
}

func (c *httpClient) headers() map[string]string {
	h := map[string]string{}
	if c.cfg.APIKey != "" {
		h["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	return h
}

func (c *httpClient) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *httpClient) GenerateStrategies(ctx context.Context, rawText string, criteria json.RawMessage, requestID string) (*GenerateResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body := map[string]any{
		"raw_text":        rawText,
		"parsed_criteria": criteria,
		"request_id":      requestID,
	}
	raw, _, err := SendJSON(ctx, c.http, c.endpoint("/strategies/generate"), body, c.headers(), c.log)
	if err != nil {
		return nil, err
	}
	if err := validateJSONAgainstSchema(generateResponseSchema(), raw); err != nil {
		c.log.Error("provider.generate.invalid_response", "request_id", requestID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	var res GenerateResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}
	c.log.Info("provider.generate.ok", "request_id", requestID, "strategies", len(res.Strategies))
	return &res, nil
}

func (c *httpClient) ExecuteStrategies(ctx context.Context, searchID string, strategies []Strategy) (*ExecuteResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body := map[string]any{
		"project_id": searchID,
		"strategies": strategies,
	}
	raw, _, err := SendJSON(ctx, c.http, c.endpoint("/strategies/execute"), body, c.headers(), c.log)
	if err != nil {
		return nil, err
	}
	if err := validateJSONAgainstSchema(executeResponseSchema(), raw); err != nil {
		c.log.Error("provider.execute.invalid_response", "search_id", searchID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	var res ExecuteResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode execute response: %w", err)
	}
	c.log.Info("provider.execute.ok", "search_id", searchID, "task_id", res.TaskID, "launched", res.StrategiesLaunched)
	return &res, nil
}

func (c *httpClient) PollResults(ctx context.Context, taskID string) (*PollResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	raw, _, err := GetJSON(ctx, c.http, c.endpoint("/strategies/results/"+taskID), c.headers(), c.log)
	if err != nil {
		return nil, err
	}
	if err := validateJSONAgainstSchema(pollResponseSchema(), raw); err != nil {
		c.log.Error("provider.poll.invalid_response", "task_id", taskID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	res, err := decodePollResult(raw)
	if err != nil {
		return nil, err
	}
	c.log.Info("provider.poll.ok",
		"task_id", taskID,
		"status", res.Status,
		"candidates", len(res.Candidates),
		"strategies_completed", res.StrategiesCompleted,
		"strategies_total", res.StrategiesTotal,
	)
	return res, nil
}

// decodePollResult normalizes the two list spellings the provider uses
// ("candidates" on newer deployments, "results" on older ones) and keeps the
// original JSON of each profile for the raw column.
func decodePollResult(raw []byte) (*PollResult, error) {
	var env struct {
		Status              string            `json:"status"`
		Candidates          []json.RawMessage `json:"candidates"`
		Results             []json.RawMessage `json:"results"`
		StrategiesCompleted int               `json:"strategies_completed"`
		StrategiesTotal     int               `json:"strategies_total"`
		Error               string            `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	list := env.Candidates
	if len(list) == 0 && len(env.Results) > 0 {
		list = env.Results
	}
	res := &PollResult{
		Status:              env.Status,
		Candidates:          make([]Profile, 0, len(list)),
		StrategiesCompleted: env.StrategiesCompleted,
		StrategiesTotal:     env.StrategiesTotal,
		Error:               env.Error,
	}
	for _, item := range list {
		var p Profile
		if err := json.Unmarshal(item, &p); err != nil {
			return nil, fmt.Errorf("decode poll candidate: %w", err)
		}
		p.Raw = item
		res.Candidates = append(res.Candidates, p)
	}
	return res, nil
}
