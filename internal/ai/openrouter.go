package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenRouterProvider talks to https://openrouter.ai/api/v1/chat/completions.
// Adapted from the teacher's internal/ai/openrouter.go: streaming is
// dropped (the pipeline only ever needs the final message), and Chat grew a
// response_format descriptor plus usage/cost plumbing required by spec.md
// §4.6.
type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
}

type openRouterMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterResponseFormat struct {
	Type       string                 `json:"type"`
	JSONSchema openRouterJSONSchemaSD `json:"json_schema"`
}

type openRouterJSONSchemaSD struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type openRouterChatReq struct {
	Model          string                    `json:"model"`
	Messages       []openRouterMsg           `json:"messages"`
	Stream         bool                      `json:"stream"`
	Temperature    float64                   `json:"temperature,omitempty"`
	MaxTokens      int                       `json:"max_tokens,omitempty"`
	ResponseFormat *openRouterResponseFormat `json:"response_format,omitempty"`
}

type openRouterUsage struct {
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalTokens      int      `json:"total_tokens"`
	Cost             *float64 `json:"cost"`
}

type openRouterChatResp struct {
	ID      string `json:"id"`
	Choices []struct {
		Message openRouterMsg `json:"message"`
	} `json:"choices"`
	Usage openRouterUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatResult, error) {
	if p.Client == nil {
		return ChatResult{}, errors.New("openrouter: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return ChatResult{}, errors.New("openrouter: api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return ChatResult{}, errors.New("openrouter: model is required")
	}

	out := make([]openRouterMsg, 0, len(messages))
	for _, m := range messages {
		out = append(out, openRouterMsg{Role: m.Role, Content: m.Content})
	}

	reqBody := openRouterChatReq{
		Model:       model,
		Stream:      false,
		Messages:    out,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.Schema != nil {
		reqBody.ResponseFormat = &openRouterResponseFormat{
			Type: "json_schema",
			JSONSchema: openRouterJSONSchemaSD{
				Name:   opts.Schema.Name,
				Strict: opts.Schema.Strict,
				Schema: opts.Schema.Schema,
			},
		}
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return ChatResult{}, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return ChatResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.Header.Set("X-Title", p.AppName)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return ChatResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return ChatResult{}, fmt.Errorf("openrouter: %s", msg)
	}

	var decoded openRouterChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ChatResult{}, err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return ChatResult{}, errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return ChatResult{}, errors.New("openrouter: empty response")
	}

	usage := Usage{
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
		TotalTokens:      decoded.Usage.TotalTokens,
	}
	if decoded.Usage.Cost != nil {
		usage.Cost = *decoded.Usage.Cost
		usage.CostKnown = true
	}

	return ChatResult{
		Content:    decoded.Choices[0].Message.Content,
		Usage:      usage,
		ResponseID: decoded.ID,
	}, nil
}

// FetchGenerationCost implements CostLookupProvider: OpenRouter's
// "generation details" endpoint reports the true cost when it was absent
// from the chat-completion response itself (spec.md §4.6).
func (p *OpenRouterProvider) FetchGenerationCost(ctx context.Context, responseID string) (float64, bool, error) {
	if responseID == "" {
		return 0, false, nil
	}
	url := fmt.Sprintf("%s/generation?id=%s", strings.TrimRight(p.BaseURL, "/"), responseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, false, fmt.Errorf("openrouter: generation lookup status %d", resp.StatusCode)
	}

	var decoded struct {
		Data struct {
			TotalCost float64 `json:"total_cost"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, false, err
	}
	return decoded.Data.TotalCost, true, nil
}
