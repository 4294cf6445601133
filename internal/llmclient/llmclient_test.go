package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimbusbuild/orchestrator/internal/ai"
	"github.com/nimbusbuild/orchestrator/internal/apperr"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	calls       int
	rejectFirst bool
	content     string
	usage       ai.Usage
	responseID  string
	costLookups int
	cost        float64
}

func (p *fakeProvider) Chat(ctx context.Context, messages []ai.Message, opts ai.ChatOptions) (ai.ChatResult, error) {
	p.calls++
	if p.rejectFirst && opts.Schema != nil {
		return ai.ChatResult{}, errors.New("400 response_format not supported for this model")
	}
	return ai.ChatResult{Content: p.content, Usage: p.usage, ResponseID: p.responseID}, nil
}

func (p *fakeProvider) FetchGenerationCost(ctx context.Context, responseID string) (float64, bool, error) {
	p.costLookups++
	return p.cost, true, nil
}

func TestGenerateProject_HappyPath(t *testing.T) {
	p := &fakeProvider{content: `{"files":[{"path":"index.html","content":"<html></html>"}]}`,
		usage: ai.Usage{PromptTokens: 5, CompletionTokens: 10, TotalTokens: 15, Cost: 0.002, CostKnown: true}}
	c := New(p, "openrouter/auto", time.Millisecond)

	res, err := c.GenerateProject(context.Background(), "build a landing page", "", "")
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	require.Equal(t, "index.html", res.Files[0].Path)
	require.Equal(t, 1, p.calls)
	require.Equal(t, 0, p.costLookups, "cost already known, no secondary lookup expected")
}

func TestGenerateProject_RetriesOnceWhenSchemaRejected(t *testing.T) {
	p := &fakeProvider{
		rejectFirst: true,
		content:     `{"files":[{"path":"index.html","content":"hi"}]}`,
		responseID:  "gen_123",
		cost:        0.01,
	}
	c := New(p, "openrouter/auto", time.Millisecond)

	res, err := c.GenerateProject(context.Background(), "build something", "", "")
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	require.Equal(t, 2, p.calls, "expected exactly one retry without the schema descriptor")
	require.Equal(t, 1, p.costLookups, "cost unknown, expects the secondary lookup")
	require.Equal(t, 0.01, res.Usage.Cost)
}

func TestGenerateProject_FencedJSONParsesLikeBareJSON(t *testing.T) {
	p := &fakeProvider{content: "```json\n{\"files\":[{\"path\":\"a.js\",\"content\":\"1\"}]}\n```"}
	c := New(p, "openrouter/auto", time.Millisecond)

	res, err := c.GenerateProject(context.Background(), "prompt", "", "")
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	require.Equal(t, "a.js", res.Files[0].Path)
}

func TestGenerateProject_UnparseableJSONCarriesTail(t *testing.T) {
	p := &fakeProvider{content: "not json at all"}
	c := New(p, "openrouter/auto", time.Millisecond)

	_, err := c.GenerateProject(context.Background(), "prompt", "", "")
	require.Error(t, err)
	require.Equal(t, apperr.LLMFailure, apperr.KindOf(err))
	require.Contains(t, err.Error(), "not json at all")
}

func TestGenerateProject_NonSchemaErrorDoesNotRetry(t *testing.T) {
	p := &fakeProviderAlwaysErr{}
	c := New(p, "openrouter/auto", time.Millisecond)

	_, err := c.GenerateProject(context.Background(), "prompt", "", "")
	require.Error(t, err)
	require.Equal(t, 1, p.calls)
}

type fakeProviderAlwaysErr struct{ calls int }

func (p *fakeProviderAlwaysErr) Chat(ctx context.Context, messages []ai.Message, opts ai.ChatOptions) (ai.ChatResult, error) {
	p.calls++
	return ai.ChatResult{}, errors.New("network timeout")
}
