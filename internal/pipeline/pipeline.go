// Package pipeline implements the Job Pipeline (C7, spec.md §4.1): the
// single forward sequence — generate, build, deploy, archive, finalize —
// that a worker runs for one job, emitting progress events and mutating
// the Job Store throughout. It holds no state between calls; SPEC_FULL.md
// §2 runs one pipeline.Run per message consumed off the build queue.
package pipeline

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/nimbusbuild/orchestrator/internal/apperr"
	"github.com/nimbusbuild/orchestrator/internal/archive"
	"github.com/nimbusbuild/orchestrator/internal/deploy"
	"github.com/nimbusbuild/orchestrator/internal/framework"
	"github.com/nimbusbuild/orchestrator/internal/job"
	"github.com/nimbusbuild/orchestrator/internal/llmclient"
	"github.com/nimbusbuild/orchestrator/internal/sandbox"
	"github.com/nimbusbuild/orchestrator/internal/store"
)

// EventPublisher is the sink the pipeline emits job.Event frames to.
// internal/queue.EventBus implements this in production; tests use an
// in-memory recorder.
type EventPublisher interface {
	Publish(ctx context.Context, jobID string, ev job.Event) error
}

// Config carries the pipeline's own knobs, lifted from internal/config.Config.
type Config struct {
	JobRetention        time.Duration
	CloudflareAPIToken  string
	CloudflareAccountID string
}

// Pipeline wires together every collaborator the job pipeline needs.
type Pipeline struct {
	Store      store.Store
	Archive    archive.Archive
	LLM        *llmclient.Client
	Frameworks *framework.Registry
	SandboxDrv *sandbox.Driver
	DeployDrv  *deploy.Driver
	Events     EventPublisher
	Config     Config
}

// Run executes spec.md §4.1 stages 2-8 for an already-created (status
// pending) job. It returns an error only when the job row itself cannot be
// read or transitioned — every failure from the generate/build/deploy/
// archive stages is caught here, per spec.md §4.1 "Failure semantics", and
// turned into a recorded `failed` job plus a terminal `error` event rather
// than a Go error returned to the caller.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	j, err := p.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	startedAt := time.Now()
	if err := p.Store.MarkRunning(ctx, jobID, startedAt); err != nil {
		return err
	}

	var sb sandbox.Sandbox
	defer func() {
		if sb == nil {
			return
		}
		destroyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sb.Destroy(destroyCtx); err != nil {
			log.Printf("component=pipeline job_id=%s stage=teardown err=%v", jobID, err)
		}
	}()

	result, sbox, err := p.runStages(ctx, j)
	sb = sbox

	if err != nil {
		p.fail(ctx, jobID, sb, startedAt, err)
		return nil
	}

	p.finalize(ctx, jobID, startedAt, result)
	return nil
}

// stageResult carries everything accumulated across the generate/build/
// deploy stages so Run can finalize the job row in one update.
type stageResult struct {
	fileCount    int
	linesOfCode  int
	usage        job.Metrics
	installMS    int64
	buildMS      int64
	deployMS     int64
	deployedURL  string
	workerName   string
	buildLogKey  string
	deployLogKey string
}

func (p *Pipeline) runStages(ctx context.Context, j *job.Job) (stageResult, sandbox.Sandbox, error) {
	var res stageResult
	var sb sandbox.Sandbox

	emit := func(ev job.Event) {
		if err := p.Events.Publish(ctx, j.ID, ev); err != nil {
			log.Printf("component=pipeline job_id=%s stage=emit err=%v", j.ID, err)
		}
	}

	// --- Generate (spec.md §4.1 stage 3) ---
	emit(job.NewEvent(job.EventGenerating, nil))
	promptRules := p.Frameworks.PromptRules(j.Prompt)
	genResult, err := p.LLM.GenerateProject(ctx, j.Prompt, j.Model, promptRules)
	if err != nil {
		return res, sb, err
	}
	emit(job.NewEvent(job.EventGenerated, map[string]any{"fileCount": len(genResult.Files)}))

	explicit := framework.ParseNimbusConfig(genResult.Files)
	fw := p.Frameworks.ResolveFramework(explicit.Framework, genResult.Files)
	target := framework.ResolveTarget(fw, explicit.Target, j.Prompt)
	normFiles, nimbusCfg, err := framework.Normalize(fw, target, genResult.Files)
	if err != nil {
		return res, sb, apperr.Wrap(apperr.LLMFailure, err, "normalize generated project")
	}

	res.fileCount = len(genResult.Files)
	res.linesOfCode = countLines(normFiles)
	res.usage = job.Metrics{
		PromptTokens:     genResult.Usage.PromptTokens,
		CompletionTokens: genResult.Usage.CompletionTokens,
		TotalTokens:      genResult.Usage.TotalTokens,
		Cost:             genResult.Usage.Cost,
		LLMLatencyMS:     genResult.LLMLatencyMS,
	}

	// --- Build (spec.md §4.1 stage 4) ---
	buildRes, err := p.SandboxDrv.Build(ctx, sandbox.BuildInput{
		JobID:  j.ID,
		Files:  normFiles,
		Config: nimbusCfg,
	}, emit)
	sb = buildRes.Sandbox
	if err != nil {
		return res, sb, err
	}
	res.installMS = buildRes.InstallDurationMS
	res.buildMS = buildRes.BuildDurationMS
	res.workerName = sandbox.WorkerName(j.ID)

	// --- Deploy (spec.md §4.1 stage 5) ---
	emit(job.NewEvent(job.EventDeploying, nil))
	deployStart := time.Now()
	deployRes, err := p.DeployDrv.Deploy(ctx, sb, deploy.Credentials{
		APIToken:  p.Config.CloudflareAPIToken,
		AccountID: p.Config.CloudflareAccountID,
	})
	if err != nil {
		return res, sb, err
	}
	res.deployMS = time.Since(deployStart).Milliseconds()
	res.deployedURL = deployRes.DeployedURL
	emit(job.NewEvent(job.EventDeployed, map[string]any{"deployedUrl": res.deployedURL}))

	// --- Archive (spec.md §4.1 stage 6: best-effort) ---
	p.archiveLogs(ctx, j.ID, sb, &res)

	return res, sb, nil
}

// archiveLogs implements spec.md §4.1 stage 6: read the tail of build and
// deploy logs from the sandbox and upload them. Failures here are logged
// but never fail the job.
func (p *Pipeline) archiveLogs(ctx context.Context, jobID string, sb sandbox.Sandbox, res *stageResult) {
	if sb == nil {
		return
	}
	if b, err := sb.ReadFile(ctx, "/root/app/.nimbus/build.log"); err == nil {
		key := archive.BuildLogKey(jobID)
		if err := p.Archive.Put(ctx, key, string(b)); err != nil {
			log.Printf("component=pipeline job_id=%s stage=archive log=build err=%v", jobID, err)
		} else {
			res.buildLogKey = key
		}
	}
	if b, err := sb.ReadFile(ctx, "/root/app/.nimbus/deploy.log"); err == nil {
		key := archive.DeployLogKey(jobID)
		if err := p.Archive.Put(ctx, key, deploy.Sanitize(string(b))); err != nil {
			log.Printf("component=pipeline job_id=%s stage=archive log=deploy err=%v", jobID, err)
		} else {
			res.deployLogKey = key
		}
	}
}

// finalize implements spec.md §4.1 stage 7.
func (p *Pipeline) finalize(ctx context.Context, jobID string, startedAt time.Time, res stageResult) {
	completedAt := time.Now()
	res.usage.InstallDurationMS = res.installMS
	res.usage.BuildDurationMS = res.buildMS
	res.usage.DeployDurationMS = res.deployMS
	res.usage.TotalDurationMS = completedAt.Sub(startedAt).Milliseconds()

	opts := store.CompleteOptions{
		CompletedAt:  completedAt,
		ExpiresAt:    completedAt.Add(p.Config.JobRetention),
		WorkerName:   res.workerName,
		BuildLogKey:  res.buildLogKey,
		DeployLogKey: res.deployLogKey,
		PreviewURL:   res.deployedURL,
		DeployedURL:  res.deployedURL,
		FileCount:    res.fileCount,
		LinesOfCode:  res.linesOfCode,
	}

	emit := func(ev job.Event) {
		if err := p.Events.Publish(ctx, jobID, ev); err != nil {
			log.Printf("component=pipeline job_id=%s stage=emit err=%v", jobID, err)
		}
	}

	if err := p.Store.MarkCompleted(ctx, jobID, res.usage, opts); err != nil {
		// spec.md §7: a StoreFailure here must not overwrite the outward
		// success the client already believes happened via the deployed
		// event; log it and still emit complete.
		log.Printf("component=pipeline job_id=%s stage=finalize err=%v", jobID, err)
	}

	emit(job.NewEvent(job.EventComplete, map[string]any{
		"previewUrl":  res.deployedURL,
		"deployedUrl": res.deployedURL,
		"metrics":     res.usage,
	}))
	log.Printf("component=pipeline job_id=%s stage=complete file_count=%d loc=%d total_ms=%d",
		jobID, res.fileCount, res.linesOfCode, res.usage.TotalDurationMS)
}

// fail implements spec.md §4.1 "Failure semantics": record failed, attempt
// a best-effort log archive from whatever was produced, and emit a
// terminal error event.
func (p *Pipeline) fail(ctx context.Context, jobID string, sb sandbox.Sandbox, startedAt time.Time, cause error) {
	completedAt := time.Now()
	message := cause.Error()

	var res stageResult
	p.archiveLogs(ctx, jobID, sb, &res)

	appErr, _ := cause.(*apperr.Error)
	if appErr != nil && appErr.LogTail != "" && res.buildLogKey == "" {
		// The build/deploy log may not have survived to be read off the
		// sandbox (e.g. the sandbox itself failed to provision); fall back
		// to archiving the tail the error carried.
		key := archive.BuildLogKey(jobID)
		if err := p.Archive.Put(ctx, key, appErr.LogTail); err == nil {
			res.buildLogKey = key
		}
	}

	opts := store.FailOptions{
		CompletedAt:  completedAt,
		ExpiresAt:    completedAt.Add(p.Config.JobRetention),
		BuildLogKey:  res.buildLogKey,
		DeployLogKey: res.deployLogKey,
	}
	if err := p.Store.MarkFailed(ctx, jobID, message, opts); err != nil {
		log.Printf("component=pipeline job_id=%s stage=finalize_failed err=%v", jobID, err)
	}

	if err := p.Events.Publish(ctx, jobID, job.NewEvent(job.EventError, map[string]any{"message": errorMessageWithLogTail(message, appErr)})); err != nil {
		log.Printf("component=pipeline job_id=%s stage=emit err=%v", jobID, err)
	}
	log.Printf("component=pipeline job_id=%s stage=failed kind=%s err=%s", jobID, apperr.KindOf(cause), message)
}

// errorMessageWithLogTail appends a "--- build log (tail) ---" section to
// the client-visible error message when the failing error carried one,
// matching spec.md §8 scenario 4's expected shape.
func errorMessageWithLogTail(message string, appErr *apperr.Error) string {
	if appErr == nil || appErr.LogTail == "" {
		return message
	}
	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n\n--- build log (tail) ---\n")
	b.WriteString(appErr.LogTail)
	return b.String()
}

func countLines(files []job.GeneratedFile) int {
	total := 0
	for _, f := range files {
		total += strings.Count(f.Content, "\n")
	}
	return total
}
