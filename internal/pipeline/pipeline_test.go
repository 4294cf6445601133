package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nimbusbuild/orchestrator/internal/ai"
	"github.com/nimbusbuild/orchestrator/internal/archive"
	"github.com/nimbusbuild/orchestrator/internal/deploy"
	"github.com/nimbusbuild/orchestrator/internal/framework"
	"github.com/nimbusbuild/orchestrator/internal/job"
	"github.com/nimbusbuild/orchestrator/internal/llmclient"
	"github.com/nimbusbuild/orchestrator/internal/sandbox"
	"github.com/nimbusbuild/orchestrator/internal/store"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a minimal ai.Provider test double, grounded on the
// teacher's recordingProvider (internal/chat/service_test.go).
type fakeProvider struct {
	content string
}

func (p *fakeProvider) Chat(_ context.Context, _ []ai.Message, _ ai.ChatOptions) (ai.ChatResult, error) {
	return ai.ChatResult{
		Content: p.content,
		Usage:   ai.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30, Cost: 0.01, CostKnown: true},
	}, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []job.Event
}

func (r *recordingEvents) Publish(_ context.Context, _ string, ev job.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e["type"].(string)
	}
	return out
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := store.OpenTestDB()
	require.NoError(t, err)
	s, err := store.NewGormStore(db)
	require.NoError(t, err)
	return s
}

const staticFileTreeJSON = `{"files":[{"path":"index.html","content":"<h1>hi</h1>\n"},{"path":"styles.css","content":"body{}\n"},{"path":"script.js","content":"console.log(1)\n"}]}`

func newPipelineForTest(t *testing.T, provisioner *sandbox.FakeProvisioner) (*Pipeline, store.Store, *recordingEvents) {
	t.Helper()
	s := newTestStore(t)
	events := &recordingEvents{}
	llm := llmclient.New(&fakeProvider{content: staticFileTreeJSON}, "test-model", time.Millisecond)
	sbDrv := sandbox.NewDriver(provisioner, sandbox.Config{
		InstallTimeout:    time.Second,
		BuildTimeout:      time.Second,
		HeartbeatInterval: time.Hour, // never fire during a fast test
		LogTailInterval:   time.Hour,
		MaxLogTailChars:   4000,
		MaxLogTailLines:   200,
	})
	return &Pipeline{
		Store:      s,
		Archive:    archive.NewMemoryArchive(),
		LLM:        llm,
		Frameworks: framework.NewRegistry(),
		SandboxDrv: sbDrv,
		DeployDrv:  deploy.NewDriver(),
		Events:     events,
		Config:     Config{JobRetention: 24 * time.Hour},
	}, s, events
}

func createPendingJob(t *testing.T, s store.Store, id, prompt string) {
	t.Helper()
	require.NoError(t, s.CreateJob(context.Background(), &job.Job{
		ID: id, Prompt: prompt, Model: "test-model", Status: job.StatusPending, CreatedAt: time.Now(),
	}))
}

func TestPipeline_HappyStaticSite(t *testing.T) {
	provisioner := sandbox.NewFakeProvisioner()
	p, s, events := newPipelineForTest(t, provisioner)

	createPendingJob(t, s, "job_happy001", "build a coffee shop landing page")

	provisioner.New(context.Background(), "job_happy001") // pre-create; the pipeline's own New call for this job id returns the same sandbox
	sb := provisioner.Last()
	sb.ExecFunc = func(cmd []string) (sandbox.ExecResult, error) {
		joined := strings.Join(cmd, " ")
		if strings.Contains(joined, "wrangler deploy") {
			_ = sb.WriteFile(context.Background(), "/root/app/.nimbus/deploy.log", []byte("Deployed to https://job-happy001.workers.dev\n"))
		}
		return sandbox.ExecResult{ExitCode: 0}, nil
	}

	err := p.Run(context.Background(), "job_happy001")
	require.NoError(t, err)

	got, err := s.GetJob(context.Background(), "job_happy001")
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, got.Status)
	require.Equal(t, 3, got.FileCount)
	require.NotNil(t, got.DeployedURL)
	require.Equal(t, "https://job-happy001.workers.dev", *got.DeployedURL)
	require.NotNil(t, got.ExpiresAt)

	ts := events.types()
	require.Contains(t, ts, string(job.EventGenerating))
	require.Contains(t, ts, string(job.EventGenerated))
	require.Contains(t, ts, string(job.EventScaffolding))
	require.Contains(t, ts, string(job.EventWriting))
	require.Contains(t, ts, string(job.EventBuilding))
	require.Contains(t, ts, string(job.EventDeploying))
	require.Contains(t, ts, string(job.EventDeployed))
	require.Equal(t, string(job.EventComplete), ts[len(ts)-1])
}

func TestPipeline_BuildFailureEndsWithErrorEvent(t *testing.T) {
	provisioner := sandbox.NewFakeProvisioner()
	p, s, events := newPipelineForTest(t, provisioner)

	// This LLM response includes a package.json with a build script so the
	// driver's build stage actually runs (and here, fails).
	const withPkg = `{"files":[{"path":"package.json","content":"{\"scripts\":{\"build\":\"vite build\"}}"},{"path":"index.html","content":"<h1/>"}]}`
	p.LLM = llmclient.New(&fakeProvider{content: withPkg}, "test-model", time.Millisecond)

	createPendingJob(t, s, "job_fail0001", "build a dashboard")

	provisioner.New(context.Background(), "job_fail0001")
	sb := provisioner.Last()
	sb.ExecFunc = func(cmd []string) (sandbox.ExecResult, error) {
		joined := strings.Join(cmd, " ")
		if strings.Contains(joined, "bun run build") {
			_ = sb.WriteFile(context.Background(), "/root/app/.nimbus/build.log", []byte("error: something broke\n"))
			return sandbox.ExecResult{ExitCode: 1}, nil
		}
		return sandbox.ExecResult{ExitCode: 0}, nil
	}

	err := p.Run(context.Background(), "job_fail0001")
	require.NoError(t, err)

	got, err := s.GetJob(context.Background(), "job_fail0001")
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	require.Nil(t, got.DeployLogKey)

	ts := events.types()
	require.Equal(t, string(job.EventError), ts[len(ts)-1])
	require.True(t, sb.Destroyed())
}

func TestPipeline_ExplicitNimbusConfigOverridesDetection(t *testing.T) {
	provisioner := sandbox.NewFakeProvisioner()
	p, s, _ := newPipelineForTest(t, provisioner)

	// package.json carries an astro signature, but the embedded
	// nimbus.config.json explicitly names next/workers; spec.md §4.2 says
	// the explicit config must win regardless of the detection hint.
	const withExplicitConfig = `{"files":[` +
		`{"path":"package.json","content":"{\"dependencies\":{\"astro\":\"4.0.0\"},\"scripts\":{\"build\":\"next build\"}}"},` +
		`{"path":"nimbus.config.json","content":"{\"framework\":\"next\",\"target\":\"workers\"}"}` +
		`]}`
	p.LLM = llmclient.New(&fakeProvider{content: withExplicitConfig}, "test-model", time.Millisecond)

	createPendingJob(t, s, "job_explicit1", "build a blog")

	provisioner.New(context.Background(), "job_explicit1")
	sb := provisioner.Last()
	sb.ExecFunc = func(cmd []string) (sandbox.ExecResult, error) {
		joined := strings.Join(cmd, " ")
		switch {
		case strings.Contains(joined, "next build"):
			_ = sb.WriteFile(context.Background(), "/root/app/.next/standalone", []byte("ok"))
		case strings.Contains(joined, "opennextjs-cloudflare build"):
			_ = sb.WriteFile(context.Background(), "/root/app/.open-next/worker.js", []byte("export default {}"))
			_ = sb.WriteFile(context.Background(), "/root/app/.open-next/assets", []byte("ok"))
		case strings.Contains(joined, "wrangler deploy"):
			_ = sb.WriteFile(context.Background(), "/root/app/.nimbus/deploy.log", []byte("Deployed to https://job-explicit1.workers.dev\n"))
		}
		return sandbox.ExecResult{ExitCode: 0}, nil
	}

	err := p.Run(context.Background(), "job_explicit1")
	require.NoError(t, err)

	got, err := s.GetJob(context.Background(), "job_explicit1")
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, got.Status)

	execLog := strings.Join(sb.ExecLog(), "\n")
	require.Contains(t, execLog, "next build", "explicit next/workers config must drive the Next-on-workers build path, not the astro detector")
	require.Contains(t, execLog, "opennextjs-cloudflare build")
}

func TestPipeline_SandboxAlwaysDestroyed(t *testing.T) {
	provisioner := sandbox.NewFakeProvisioner()
	p, s, _ := newPipelineForTest(t, provisioner)
	createPendingJob(t, s, "job_destroy01", "build a landing page")

	err := p.Run(context.Background(), "job_destroy01")
	require.NoError(t, err)

	require.True(t, provisioner.Last().Destroyed())
}
