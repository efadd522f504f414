package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.openai.com"
	defaultModel   = "omni-moderation-latest"
	defaultTimeout = 10 * time.Second

	moderationsPath = "/v1/moderations"
)

// OpenAIClientConfig bundles configuration required to instantiate an OpenAIClient.
type OpenAIClientConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// OpenAIClient classifies text through the OpenAI moderation endpoint.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOpenAIClient constructs a classifier with validated configuration.
func NewOpenAIClient(cfg OpenAIClientConfig) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("moderation: api key is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type moderationRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []moderationResult `json:"results"`
}

type moderationResult struct {
	Flagged    bool            `json:"flagged"`
	Categories map[string]bool `json:"categories"`
}

// Classify submits text to the moderation endpoint and reduces the per-category
// flags to a single verdict: any flagged category blocks the text. Transport
// failures, non-2xx responses, and malformed payloads surface as ErrUnavailable.
func (c *OpenAIClient) Classify(ctx context.Context, text string) (Verdict, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(moderationRequest{Model: c.model, Input: text})
	if err != nil {
		return VerdictAllow, fmt.Errorf("%w: encode request: %v", ErrUnavailable, err)
	}

	request, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+moderationsPath, bytes.NewReader(body))
	if err != nil {
		return VerdictAllow, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+c.apiKey)

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("moderation request failed", zap.Error(err))
		return VerdictAllow, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn("moderation request rejected", zap.Int("status", response.StatusCode))
		return VerdictAllow, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, response.StatusCode)
	}

	var decoded moderationResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return VerdictAllow, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(decoded.Results) == 0 {
		return VerdictAllow, fmt.Errorf("%w: response carried no results", ErrUnavailable)
	}

	result := decoded.Results[0]
	flagged := result.Flagged
	for _, categoryFlagged := range result.Categories {
		flagged = flagged || categoryFlagged
	}

	if flagged {
		return VerdictBlock, nil
	}
	return VerdictAllow, nil
}
