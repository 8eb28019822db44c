package config

import (
	"fmt"
	"os"
)

// LLMProvider identifies the chat-completions provider type.
type LLMProvider string

const (
	LLMProviderOpenAI      LLMProvider = "openai"
	LLMProviderAzureOpenAI LLMProvider = "azure_openai"
)

// LLMConfig configures the LLM provider used for extraction calls.
type LLMConfig struct {
	// Provider type (openai, azure_openai).
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=LLM provider,enum=openai,enum=azure_openai,default=openai"`

	// Model identifier (e.g. "gpt-4").
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Model identifier,default=gpt-4"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key for authentication (use ${ENV_VAR})"`

	// BaseURL overrides the default API endpoint. Required for Azure
	// deployments (the resource endpoint).
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Custom base URL for the API endpoint"`

	// APIVersion selects the Azure API version. Ignored for plain OpenAI.
	APIVersion string `yaml:"api_version,omitempty" json:"api_version,omitempty" jsonschema:"title=API Version,description=Azure OpenAI API version"`

	// Deployment names the Azure deployment. Defaults to Model.
	Deployment string `yaml:"deployment,omitempty" json:"deployment,omitempty" jsonschema:"title=Deployment,description=Azure OpenAI deployment name"`

	// Temperature for generation. Extraction runs want 0.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,description=Sampling temperature,minimum=0,maximum=2,default=0"`

	// MaxTokens limits response length. Zero omits the field.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,description=Maximum tokens to generate,minimum=0"`

	// Timeout is the base per-request timeout in seconds. It doubles on
	// each retry.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Base request timeout in seconds,minimum=1,default=60"`

	// MaxRetries bounds retry attempts for transient errors.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"title=Max Retries,description=Retry attempts for transient errors,minimum=0,default=5"`

	// RetryDelay is the backoff base delay in seconds.
	RetryDelay int `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty" jsonschema:"title=Retry Delay,description=Backoff base delay in seconds,minimum=1,default=2"`

	// RateLimit caps tokens submitted per minute across the service.
	RateLimit int `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty" jsonschema:"title=Rate Limit,description=Token budget per minute,minimum=1,default=4000"`

	// RateWindow is the sliding usage window in seconds. Slightly above a
	// minute so provider-side accounting lag does not cause overshoot.
	RateWindow int `yaml:"rate_window,omitempty" json:"rate_window,omitempty" jsonschema:"title=Rate Window,description=Sliding usage window in seconds,minimum=1,default=65"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = detectProviderFromEnv()
	}

	if c.Model == "" {
		c.Model = "gpt-4"
	}

	if c.APIKey == "" {
		c.APIKey = apiKeyFromEnv(c.Provider)
	}

	switch c.Provider {
	case LLMProviderOpenAI:
		if c.BaseURL == "" {
			c.BaseURL = "https://api.openai.com/v1"
		}
	case LLMProviderAzureOpenAI:
		if c.BaseURL == "" {
			c.BaseURL = os.Getenv("AZURE_OPENAI_ENDPOINT")
		}
		if c.APIVersion == "" {
			c.APIVersion = "2024-02-01"
		}
		if c.Deployment == "" {
			c.Deployment = c.Model
		}
	}

	if c.Temperature == nil {
		c.Temperature = Float64Ptr(0)
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
	if c.RateLimit == 0 {
		c.RateLimit = 4000
	}
	if c.RateWindow == 0 {
		c.RateWindow = 65
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case LLMProviderOpenAI, LLMProviderAzureOpenAI:
	default:
		return fmt.Errorf("invalid provider %q (valid: openai, azure_openai)", c.Provider)
	}

	if c.APIKey == "" {
		return fmt.Errorf("api_key is required for provider %q", c.Provider)
	}

	if c.Provider == LLMProviderAzureOpenAI && c.BaseURL == "" {
		return fmt.Errorf("base_url (or AZURE_OPENAI_ENDPOINT) is required for azure_openai")
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	return nil
}

func detectProviderFromEnv() LLMProvider {
	if os.Getenv("AZURE_OPENAI_API_KEY") != "" || os.Getenv("AZURE_OPENAI_ENDPOINT") != "" {
		return LLMProviderAzureOpenAI
	}
	return LLMProviderOpenAI
}

func apiKeyFromEnv(provider LLMProvider) string {
	switch provider {
	case LLMProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case LLMProviderAzureOpenAI:
		return os.Getenv("AZURE_OPENAI_API_KEY")
	default:
		return ""
	}
}
