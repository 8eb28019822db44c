package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ordexlabs/ordex/pkg/config"
	"github.com/ordexlabs/ordex/pkg/httpclient"
)

// OpenAIClient speaks the OpenAI chat-completions wire format. It covers
// both api.openai.com and Azure OpenAI deployments; the two differ only in
// endpoint shape and auth header.
type OpenAIClient struct {
	config     *config.LLMConfig
	httpClient *httpclient.Client
}

// NewClient builds the chat client for the configured provider.
func NewClient(cfg *config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case config.LLMProviderOpenAI, config.LLMProviderAzureOpenAI:
		return NewOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

func NewOpenAIClient(cfg *config.LLMConfig) *OpenAIClient {
	return &OpenAIClient{
		config:     cfg,
		httpClient: newHTTPClient(cfg),
	}
}

func newHTTPClient(cfg *config.LLMConfig) *httpclient.Client {
	return httpclient.New(
		httpclient.WithAttemptTimeout(time.Duration(cfg.Timeout)*time.Second),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)
}

func (c *OpenAIClient) Model() string {
	return c.config.Model
}

func (c *OpenAIClient) endpoint() string {
	base := strings.TrimSuffix(c.config.BaseURL, "/")
	if c.config.Provider == config.LLMProviderAzureOpenAI {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			base, url.PathEscape(c.config.Deployment), url.QueryEscape(c.config.APIVersion))
	}
	return base + "/chat/completions"
}

// Chat sends a chat-completions request and decodes the reply. Transient
// failures are retried by the underlying client; bad-request class
// failures come back as *httpclient.BadRequestError so callers can treat
// the prompt as unanswerable instead of failing the location.
func (c *OpenAIClient) Chat(ctx context.Context, request Request) (*Response, error) {
	if request.Model == "" {
		request.Model = c.config.Model
	}
	if request.MaxTokens == nil && c.config.MaxTokens > 0 {
		maxTokens := c.config.MaxTokens
		request.MaxTokens = &maxTokens
	}
	if request.Temperature == 0 && c.config.Temperature != nil {
		request.Temperature = *c.config.Temperature
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint(), bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}

	req.Header.Set("Content-Type", "application/json")

	if c.config.Provider == config.LLMProviderAzureOpenAI {
		req.Header.Set("api-key", c.config.APIKey)
	} else if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	// The retrying client hands back the last response alongside the error
	// for non-2xx statuses; the body is still readable on the fail-fast path.
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil && httpclient.IsClientStatus(resp.StatusCode) {
			body, _ := io.ReadAll(resp.Body)
			return nil, &httpclient.BadRequestError{
				StatusCode: resp.StatusCode,
				Body:       errorBodyText(resp.StatusCode, body),
			}
		}
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("chat request failed: no response received")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response Response
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if response.Error != nil {
		return nil, fmt.Errorf("API error: %w", response.Error)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	return &response, nil
}

// parseErrorResponse extracts structured error details from an API error
// body, if present.
func parseErrorResponse(body []byte) *APIError {
	if len(body) == 0 {
		return nil
	}
	var errorResp struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		return &errorResp.Error
	}
	return nil
}

func errorBodyText(statusCode int, body []byte) string {
	if apiErr := parseErrorResponse(body); apiErr != nil {
		return fmt.Sprintf("API request failed with status %d: %s (type: %s)",
			statusCode, apiErr.Message, apiErr.Type)
	}
	return fmt.Sprintf("API request failed with status %d: %s", statusCode, string(body))
}
