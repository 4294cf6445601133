// Package llmclient implements the LLM Client (C3, spec.md §4.6): it owns
// the request/response contract (system+user messages, temperature,
// max_tokens, the structured-output schema and its fallback, JSON parsing
// with fenced-code stripping, and the delayed cost lookup) on top of the
// transport-level internal/ai.Provider.
package llmclient

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/nimbusbuild/orchestrator/internal/ai"
	"github.com/nimbusbuild/orchestrator/internal/apperr"
	"github.com/nimbusbuild/orchestrator/internal/job"
)

const (
	temperature = 0.7
	maxTokens   = 8192

	basePrompt = "You are Nimbus Build, a code generation engine. Given a user " +
		"prompt, respond with a single JSON object of the shape " +
		`{"files":[{"path":"relative/path","content":"file contents"}]}` +
		". Do not include any explanation outside the JSON object."
)

// schemaRejectionPattern matches a provider error indicating it does not
// support the response_format/json_schema descriptor (spec.md §4.6, §8).
var schemaRejectionPattern = regexp.MustCompile(`(?i)response_format|structured output|json_schema|schema`)

var fileTreeSchema = &ai.JSONSchema{
	Name:   "file_tree",
	Strict: true,
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"files": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"path":    map[string]any{"type": "string"},
						"content": map[string]any{"type": "string"},
					},
					"required":             []string{"path", "content"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"files"},
		"additionalProperties": false,
	},
}

// Client wraps a single ai.Provider with the LLM Client contract.
type Client struct {
	provider     ai.Provider
	defaultModel string
	costDelay    time.Duration
}

func New(provider ai.Provider, defaultModel string, costLookupDelay time.Duration) *Client {
	return &Client{provider: provider, defaultModel: defaultModel, costDelay: costLookupDelay}
}

// Result is what GenerateProject returns on success.
type Result struct {
	Files        []job.GeneratedFile
	Usage        ai.Usage
	LLMLatencyMS int64
}

type fileTreeDoc struct {
	Files []job.GeneratedFile `json:"files"`
}

// GenerateProject implements spec.md §4.6 end to end: one system message
// (base prompt + framework rules) and one user message (the raw prompt),
// schema-first with a single no-schema retry, JSON parsing with fence
// stripping, and cost resolution.
func (c *Client) GenerateProject(ctx context.Context, prompt, model, frameworkPromptRules string) (Result, error) {
	if model == "" {
		model = c.defaultModel
	}

	system := basePrompt
	if frameworkPromptRules != "" {
		system = basePrompt + "\n\n" + frameworkPromptRules
	}
	messages := []ai.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}

	start := time.Now()
	res, err := c.provider.Chat(ctx, messages, ai.ChatOptions{
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Schema:      fileTreeSchema,
	})
	if err != nil && schemaRejectionPattern.MatchString(err.Error()) {
		res, err = c.provider.Chat(ctx, messages, ai.ChatOptions{
			Temperature: temperature,
			MaxTokens:   maxTokens,
			Schema:      nil,
		})
	}
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return Result{}, apperr.Wrap(apperr.LLMFailure, err, "llm request failed")
	}

	files, err := parseFileTree(res.Content)
	if err != nil {
		return Result{}, err
	}

	usage := res.Usage
	if !usage.CostKnown {
		usage.Cost = c.lookupCost(ctx, res.ResponseID)
	}

	return Result{Files: files, Usage: usage, LLMLatencyMS: latency}, nil
}

// lookupCost implements the secondary "generation details" fallback: wait
// costDelay, then ask the provider if it supports CostLookupProvider.
// Errors are swallowed and zero is reported, per spec.md §4.6.
func (c *Client) lookupCost(ctx context.Context, responseID string) float64 {
	lookup, ok := c.provider.(ai.CostLookupProvider)
	if !ok || responseID == "" {
		return 0
	}
	timer := time.NewTimer(c.costDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0
	case <-timer.C:
	}
	cost, found, err := lookup.FetchGenerationCost(ctx, responseID)
	if err != nil || !found {
		return 0
	}
	return cost
}

// parseFileTree implements spec.md §4.6 "Parsing": trim, strip optional
// triple-backtick fences, decode, and validate every element has string
// path/content (enforced structurally by json.Unmarshal into
// []job.GeneratedFile, which rejects non-string path/content values).
func parseFileTree(raw string) ([]job.GeneratedFile, error) {
	content := stripFences(strings.TrimSpace(raw))

	var doc fileTreeDoc
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		tail := content
		if len(tail) > 500 {
			tail = tail[:500]
		}
		return nil, apperr.Newf(apperr.LLMFailure, "could not parse LLM response as JSON: %s", tail)
	}
	if len(doc.Files) == 0 {
		tail := content
		if len(tail) > 500 {
			tail = tail[:500]
		}
		return nil, apperr.Newf(apperr.LLMFailure, "LLM response had no files: %s", tail)
	}
	for _, f := range doc.Files {
		if f.Path == "" {
			return nil, apperr.New(apperr.LLMFailure, "LLM response contained a file with an empty path")
		}
	}
	return doc.Files, nil
}

var fencePattern = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

func stripFences(s string) string {
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}
