package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/eduardocaminha/radreport/pkg/model"
	"github.com/eduardocaminha/radreport/pkg/utils"
)

const (
	defaultModelName    = "claude-sonnet-4-5-20250929"
	defaultBaseURL      = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
	defaultMaxTokens    = 4096
	defaultHTTPTimeout  = 90 * time.Second
	envAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	envAnthropicBaseURL = "ANTHROPIC_BASE_URL"
	envAnthropicModel   = "ANTHROPIC_MODEL"
)

type apiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicMessageRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Stream      bool               `json:"stream"`
}

type anthropicUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func newAPIClient(cfg model.GeneratorConfig) (*apiClient, error) {
	apiKey := strings.TrimSpace(cfg.AuthToken)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv(envAnthropicAPIKey))
	}
	if apiKey == "" {
		return nil, utils.WrapIfNotNil(errors.New("auth token is required (set WithAuthToken or ANTHROPIC_API_KEY)"))
	}

	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		baseURL = strings.TrimSpace(os.Getenv(envAnthropicBaseURL))
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &apiClient{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}, nil
}

// openMessageStream issues the request with stream enabled and returns the
// response body for SSE consumption. The caller owns closing it.
func (c *apiClient) openMessageStream(ctx context.Context, request anthropicMessageRequest) (io.ReadCloser, error) {
	request.Stream = true
	requestBits, err := json.Marshal(request)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	httpRequest, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/v1/messages",
		bytes.NewReader(requestBits),
	)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	httpRequest.Header.Set("content-type", "application/json")
	httpRequest.Header.Set("accept", "text/event-stream")
	httpRequest.Header.Set("x-api-key", c.apiKey)
	httpRequest.Header.Set("anthropic-version", anthropicVersion)

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		defer httpResponse.Body.Close()
		responseBits, readErr := io.ReadAll(httpResponse.Body)
		if readErr != nil {
			return nil, utils.WrapIfNotNil(readErr)
		}

		apiErr := anthropicErrorResponse{}
		message := strings.TrimSpace(string(responseBits))
		if unmarshalErr := json.Unmarshal(responseBits, &apiErr); unmarshalErr == nil {
			candidate := strings.TrimSpace(apiErr.Error.Message)
			if candidate != "" {
				message = candidate
			}
		}
		if message == "" {
			message = "unknown anthropic error"
		}
		return nil, utils.WrapIfNotNil(fmt.Errorf("anthropic API error (%d): %s", httpResponse.StatusCode, message))
	}

	return httpResponse.Body, nil
}

func resolveModelName(cfg model.GeneratorConfig) string {
	if cfg.Model != nil {
		name := strings.TrimSpace(*cfg.Model)
		if name != "" {
			return name
		}
	}

	fromEnv := strings.TrimSpace(os.Getenv(envAnthropicModel))
	if fromEnv != "" {
		return fromEnv
	}
	return defaultModelName
}

func resolveMaxTokens(cfg model.GeneratorConfig) int {
	if cfg.MaxTokens != nil && *cfg.MaxTokens > 0 {
		return *cfg.MaxTokens
	}
	return defaultMaxTokens
}
