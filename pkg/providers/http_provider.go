package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ericvicenti/botical-sub003/pkg/config"
	"github.com/ericvicenti/botical-sub003/pkg/logger"
)

const (
	maxRetries        = 3
	defaultRetryDelay = 30 * time.Second
)

// HTTPProvider speaks the OpenAI-compatible chat completions protocol.
type HTTPProvider struct {
	apiKey       string
	apiBase      string
	userAgent    string
	defaultModel string
	httpClient   *http.Client
}

func NewHTTPProvider(apiKey, apiBase, userAgent string) *HTTPProvider {
	return &HTTPProvider{
		apiKey:    apiKey,
		apiBase:   apiBase,
		userAgent: userAgent,
		// No client timeout: long generations are bounded by ctx instead.
		httpClient: &http.Client{Timeout: 0},
	}
}

func (p *HTTPProvider) GetDefaultModel() string {
	return p.defaultModel
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
}

func (p *HTTPProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	if p.apiBase == "" {
		return nil, fmt.Errorf("API base not configured")
	}

	reqBody := chatRequest{Model: model, Messages: messages}
	if len(tools) > 0 {
		reqBody.Tools = tools
		reqBody.ToolChoice = "auto"
	}
	if v, ok := options["max_tokens"].(int); ok {
		reqBody.MaxTokens = v
	}
	if v, ok := options["temperature"].(float64); ok {
		reqBody.Temperature = &v
	}
	if v, ok := options["top_p"].(float64); ok {
		reqBody.TopP = &v
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastBody []byte
	for attempt := 0; attempt <= maxRetries; attempt++ {
		status, retryAfter, body, err := p.post(ctx, payload)
		if err != nil {
			return nil, err
		}
		lastBody = body

		switch {
		case status == http.StatusOK:
			return parseResponse(body)
		case status == http.StatusTooManyRequests && attempt < maxRetries:
			delay := parseRetryDelay(retryAfter, body)
			logger.WarnCF("provider", "Rate limited, retrying", map[string]interface{}{
				"delay":   delay.String(),
				"attempt": attempt + 1,
				"model":   model,
			})
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		default:
			return nil, fmt.Errorf("API error (%d): %s", status, string(body))
		}
	}

	return nil, fmt.Errorf("API error after %d retries: %s", maxRetries, string(lastBody))
}

// post sends one chat completion attempt and returns the status, the
// Retry-After header, and the body.
func (p *HTTPProvider) post(ctx context.Context, payload []byte) (int, string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, resp.Header.Get("Retry-After"), body, nil
}

type apiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function *struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type apiChoice struct {
	Message struct {
		Content          string        `json:"content"`
		ReasoningContent string        `json:"reasoning_content"`
		ToolCalls        []apiToolCall `json:"tool_calls"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

func parseResponse(body []byte) (*LLMResponse, error) {
	var apiResp struct {
		Choices []apiChoice `json:"choices"`
		Usage   *UsageInfo  `json:"usage"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return &LLMResponse{FinishReason: "stop", Usage: apiResp.Usage}, nil
	}

	choice := apiResp.Choices[0]
	toolCalls := make([]ToolCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function == nil {
			continue
		}
		arguments := make(map[string]interface{})
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &arguments); err != nil {
				// Keep malformed arguments so the tool layer can reject
				// them with a validation failure instead of losing them.
				arguments["raw"] = tc.Function.Arguments
			}
		}
		toolCalls = append(toolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: arguments})
	}

	content := stripThinkTags(choice.Message.Content)
	if content == "" && choice.Message.ReasoningContent != "" {
		content = stripThinkTags(choice.Message.ReasoningContent)
	}

	return &LLMResponse{
		Content:          content,
		ReasoningContent: choice.Message.ReasoningContent,
		ToolCalls:        toolCalls,
		FinishReason:     choice.FinishReason,
		Usage:            apiResp.Usage,
	}, nil
}

// stripThinkTags removes <think>...</think> blocks. Some reasoning models
// embed their chain-of-thought inline in the content field rather than in
// a separate reasoning_content field.
func stripThinkTags(s string) string {
	const openTag = "<think>"
	const closeTag = "</think>"

	var kept strings.Builder
	for {
		start := strings.Index(s, openTag)
		if start == -1 {
			kept.WriteString(s)
			break
		}
		kept.WriteString(s[:start])
		end := strings.Index(s[start:], closeTag)
		if end == -1 {
			// Unclosed tag: drop the remainder rather than leak partial reasoning.
			break
		}
		s = s[start+end+len(closeTag):]
	}
	// An orphaned close tag means the open tag was split into another field;
	// everything before it is leaked reasoning.
	out := kept.String()
	if idx := strings.Index(out, closeTag); idx != -1 {
		out = out[idx+len(closeTag):]
	}
	return strings.TrimSpace(out)
}

// parseRetryDelay extracts the retry delay from a Retry-After header or a
// Google-style error body, defaulting to 30 seconds.
func parseRetryDelay(retryAfter string, body []byte) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && retryAfter != "" {
		return time.Duration(secs) * time.Second
	}

	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		for _, d := range errResp.Error.Details {
			if d.RetryDelay == "" {
				continue
			}
			if dur, err := time.ParseDuration(d.RetryDelay); err == nil {
				return dur
			}
		}
	}

	return defaultRetryDelay
}

// matchProviderByModel finds the provider for a model name by pattern.
// Patterns ending with "/" are prefix matches and win over substring
// matches. With no match, the provider marked Fallback is used, then any
// provider with a bare api_base and no patterns.
func matchProviderByModel(model string, providers config.ProvidersConfig) (string, *config.ProviderConfig) {
	lowerModel := strings.ToLower(model)

	for name, p := range providers {
		if p.APIKey == "" && p.APIBase == "" {
			continue
		}
		for _, pattern := range p.ModelPatterns {
			if strings.HasSuffix(pattern, "/") && strings.HasPrefix(model, pattern) {
				return name, p
			}
		}
	}

	for name, p := range providers {
		if p.APIKey == "" {
			continue
		}
		for _, pattern := range p.ModelPatterns {
			if !strings.HasSuffix(pattern, "/") && strings.Contains(lowerModel, strings.ToLower(pattern)) {
				return name, p
			}
		}
	}

	for name, p := range providers {
		if p.Fallback && p.APIKey != "" {
			return name, p
		}
	}

	for name, p := range providers {
		if p.APIBase != "" && len(p.ModelPatterns) == 0 {
			return name, p
		}
	}

	return "", nil
}

// resolveAPIKey falls back to a conventional environment variable
// (e.g. OPENROUTER_API_KEY for provider "openrouter") when the config
// carries no key.
func resolveAPIKey(providerName string, pcfg *config.ProviderConfig) string {
	if pcfg.APIKey != "" {
		return pcfg.APIKey
	}
	envName := strings.ToUpper(strings.ReplaceAll(providerName, "-", "_")) + "_API_KEY"
	return os.Getenv(envName)
}

// CreateProviderForModel builds a provider for the given model, using the
// explicit provider name when set, otherwise matching by model patterns.
func CreateProviderForModel(model, providerName string, cfg *config.Config) (LLMProvider, error) {
	var name string
	var pcfg *config.ProviderConfig

	if providerName != "" {
		name = strings.ToLower(providerName)
		pcfg = cfg.GetProviderConfig(name)
		if pcfg == nil {
			return nil, fmt.Errorf("unknown provider: %s", providerName)
		}
	} else {
		name, pcfg = matchProviderByModel(model, cfg.Providers)
		if pcfg == nil {
			return nil, fmt.Errorf("no provider configured for model: %s", model)
		}
	}

	apiKey := resolveAPIKey(name, pcfg)
	if apiKey == "" && pcfg.APIBase == "" {
		return nil, fmt.Errorf("no API key configured for provider %s (model: %s)", name, model)
	}
	if pcfg.APIBase == "" {
		return nil, fmt.Errorf("no API base configured for provider %s (model: %s)", name, model)
	}

	p := NewHTTPProvider(apiKey, pcfg.APIBase, pcfg.UserAgent)
	p.defaultModel = cfg.Defaults.Model
	return p, nil
}

// CreateProvider builds the provider for the configured defaults.
func CreateProvider(cfg *config.Config) (LLMProvider, error) {
	return CreateProviderForModel(cfg.Defaults.Model, cfg.Defaults.Provider, cfg)
}
