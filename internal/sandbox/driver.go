// driver.go implements the Sandbox Driver's build pipeline (spec.md §4.3):
// scaffold, write files, install, build, verify artifacts, and write the
// final wrangler.nimbus.toml deployment descriptor.
package sandbox

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nimbusbuild/orchestrator/internal/apperr"
	"github.com/nimbusbuild/orchestrator/internal/job"
)

const appDir = "/root/app"

// Config carries the timeouts and limits the driver needs, lifted from
// internal/config.Config so this package does not import it directly (the
// driver only needs a handful of fields, not the whole process config).
type Config struct {
	InstallTimeout       time.Duration
	BuildTimeout         time.Duration
	NextBuildTimeout     time.Duration
	OpenNextBuildTimeout time.Duration
	HeartbeatInterval    time.Duration
	LogTailInterval      time.Duration
	MaxLogTailChars      int
	MaxLogTailLines      int
}

// BuildInput is what the pipeline passes into Driver.Build.
type BuildInput struct {
	JobID  string
	Files  []job.GeneratedFile
	Config job.NimbusConfig
}

// BuildResult is what Driver.Build returns on success (spec.md §4.3 step 7).
type BuildResult struct {
	Sandbox           Sandbox
	InstallDurationMS int64
	BuildDurationMS   int64
}

// ProgressFunc receives every SSE-shaped event the driver emits as it moves
// through stages (spec.md §4.1 stage 4's "scaffolding, writing, installing,
// building" boundary events, interleaved with "log" events).
type ProgressFunc func(job.Event)

// Driver is the Sandbox Driver (C5).
type Driver struct {
	provisioner Provisioner
	cfg         Config
}

func NewDriver(provisioner Provisioner, cfg Config) *Driver {
	return &Driver{provisioner: provisioner, cfg: cfg}
}

// Build runs spec.md §4.3's pipeline end to end against a freshly
// provisioned sandbox. The returned Sandbox is still alive on both success
// and failure paths — the caller (internal/pipeline) owns destroying it in
// its teardown step (spec.md §4.1 stage 8), so that deploy (C6) can run
// inside the same sandbox afterward.
func (d *Driver) Build(ctx context.Context, in BuildInput, emit ProgressFunc) (BuildResult, error) {
	sb, err := d.provisioner.New(ctx, in.JobID)
	if err != nil {
		return BuildResult{}, apperr.Wrap(apperr.BuildFailure, err, "provision sandbox")
	}

	emit(job.NewEvent(job.EventScaffolding, nil))
	if _, err := sb.Exec(ctx, []string{"mkdir", "-p", appDir, appDir + "/.nimbus"}, 10*time.Second); err != nil {
		return BuildResult{Sandbox: sb}, apperr.Wrap(apperr.BuildFailure, err, "scaffold sandbox").WithBuildLog(sb.ID(), "")
	}

	emit(job.NewEvent(job.EventWriting, nil))
	for _, f := range in.Files {
		if err := sb.WriteFile(ctx, appDir+"/"+f.Path, []byte(f.Content)); err != nil {
			return BuildResult{Sandbox: sb}, apperr.Wrap(apperr.BuildFailure, err, "write file "+f.Path).WithBuildLog(sb.ID(), "")
		}
	}

	if in.Config.Framework == "next" && in.Config.Target == "workers" {
		if err := d.writeNextWranglerDescriptor(ctx, sb, in.JobID); err != nil {
			return BuildResult{Sandbox: sb}, apperr.Wrap(apperr.BuildFailure, err, "write wrangler descriptor").WithBuildLog(sb.ID(), "")
		}
	}

	pkg, hasPkg := findPackageJSON(in.Files)

	// installing is emitted unconditionally, mirroring building below, so a
	// package.json-less project (spec.md §8 scenario 1) still reports the
	// stage boundary with install_duration_ms=0 rather than skipping it.
	emit(job.NewEvent(job.EventInstalling, nil))
	var installMS int64
	if hasPkg {
		start := time.Now()
		if err := d.runWithHeartbeatAndLog(ctx, sb, ".nimbus/install.log", d.cfg.InstallTimeout, job.EventInstalling, emit,
			[]string{"sh", "-c", "cd " + appDir + " && bun install --no-save > .nimbus/install.log 2>&1"}); err != nil {
			return BuildResult{Sandbox: sb}, err
		}
		installMS = time.Since(start).Milliseconds()
	}

	emit(job.NewEvent(job.EventBuilding, nil))
	var buildMS int64
	if hasPkg && hasBuildScript(pkg) {
		start := time.Now()
		if err := d.runBuild(ctx, sb, in.Config, emit); err != nil {
			return BuildResult{Sandbox: sb}, err
		}
		buildMS = time.Since(start).Milliseconds()
	}

	if err := d.verifyAndWriteDescriptor(ctx, sb, in); err != nil {
		return BuildResult{Sandbox: sb}, err
	}

	return BuildResult{Sandbox: sb, InstallDurationMS: installMS, BuildDurationMS: buildMS}, nil
}

func (d *Driver) writeNextWranglerDescriptor(ctx context.Context, sb Sandbox, jobID string) error {
	cfg := NewWranglerConfig(WorkerName(jobID), ".open-next/worker.js", ".open-next/assets")
	b, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if err := sb.WriteFile(ctx, appDir+"/wrangler.toml", b); err != nil {
		return err
	}
	return sb.WriteFile(ctx, appDir+"/wrangler.nimbus.toml", b)
}

// runBuild implements spec.md §4.3 step 5's branch between the Next-on-
// workers two-command sequence and the plain `bun run build` path.
func (d *Driver) runBuild(ctx context.Context, sb Sandbox, cfg job.NimbusConfig, emit ProgressFunc) error {
	if cfg.Framework == "next" && cfg.Target == "workers" {
		if err := d.runWithHeartbeatAndLog(ctx, sb, ".nimbus/build.log", d.cfg.NextBuildTimeout, job.EventBuilding, emit,
			[]string{"sh", "-c", "cd " + appDir + " && bunx next build > .nimbus/build.log 2>&1"}); err != nil {
			return err
		}
		if ok, _ := sb.Exists(ctx, appDir+"/.next/standalone"); !ok {
			tail, _ := TailLog(ctx, sb, appDir+"/.nimbus/build.log", d.cfg.MaxLogTailLines, d.cfg.MaxLogTailChars)
			return apperr.New(apperr.BuildFailure, "next build did not produce a standalone manifest").WithBuildLog(sb.ID(), tail)
		}
		return d.runWithHeartbeatAndLog(ctx, sb, ".nimbus/build.log", d.cfg.OpenNextBuildTimeout, job.EventBuilding, emit,
			[]string{"sh", "-c", "cd " + appDir + " && bunx opennextjs-cloudflare build --skipNextBuild --skipWranglerConfigCheck --noMinify >> .nimbus/build.log 2>&1"})
	}
	return d.runWithHeartbeatAndLog(ctx, sb, ".nimbus/build.log", d.cfg.BuildTimeout, job.EventBuilding, emit,
		[]string{"sh", "-c", "cd " + appDir + " && CI=true bun run build > .nimbus/build.log 2>&1"})
}

// runWithHeartbeatAndLog runs cmd in the background of a heartbeat ticker
// (re-emitting stage) and a log-tail poller (emitting "log" events),
// canceling both at stage end (spec.md §4.1 "Concurrency within a job").
func (d *Driver) runWithHeartbeatAndLog(ctx context.Context, sb Sandbox, logRelPath string, timeout time.Duration, stage job.EventType, emit ProgressFunc, cmd []string) error {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	heartbeat := time.NewTicker(d.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	go func() {
		for {
			select {
			case <-execCtx.Done():
				return
			case <-heartbeat.C:
				emit(job.NewEvent(stage, nil))
			}
		}
	}()

	phase := "install"
	if stage == job.EventBuilding {
		phase = "build"
	}
	streamer := NewLogStreamer(sb, appDir+"/"+logRelPath, d.cfg.LogTailInterval, d.cfg.MaxLogTailLines, d.cfg.MaxLogTailChars, func(lines string) {
		emit(job.NewEvent(job.EventLog, map[string]any{"phase": phase, "message": lines}))
	})
	streamer.Start(execCtx)
	defer streamer.Stop()

	res, err := sb.Exec(execCtx, cmd, timeout)
	if err != nil {
		tail, _ := TailLog(ctx, sb, appDir+"/"+logRelPath, d.cfg.MaxLogTailLines, d.cfg.MaxLogTailChars)
		return apperr.Wrap(apperr.BuildFailure, err, "run "+phase).WithBuildLog(sb.ID(), tail)
	}
	if res.ExitCode != 0 {
		tail, _ := TailLog(ctx, sb, appDir+"/"+logRelPath, d.cfg.MaxLogTailLines, d.cfg.MaxLogTailChars)
		return apperr.Newf(apperr.BuildFailure, "%s exited %d", phase, res.ExitCode).WithBuildLog(sb.ID(), tail)
	}
	return nil
}

// verifyAndWriteDescriptor implements spec.md §4.3 step 6: confirm the
// expected artifacts exist for the resolved target and write the
// authoritative wrangler.nimbus.toml.
func (d *Driver) verifyAndWriteDescriptor(ctx context.Context, sb Sandbox, in BuildInput) error {
	workerName := WorkerName(in.JobID)
	cfg := in.Config

	switch {
	case cfg.Framework == "next" && cfg.Target == "workers":
		for _, p := range []string{".open-next/worker.js", ".open-next/assets"} {
			if ok, _ := sb.Exists(ctx, appDir+"/"+p); !ok {
				return artifactMissing(sb, "missing "+p)
			}
		}
		return writeDescriptor(ctx, sb, NewWranglerConfig(workerName, ".open-next/worker.js", ".open-next/assets"))

	case cfg.Target == "workers" && cfg.WorkerEntry != "":
		if ok, _ := sb.Exists(ctx, appDir+"/"+cfg.WorkerEntry); !ok {
			return artifactMissing(sb, "missing worker entry "+cfg.WorkerEntry)
		}
		if cfg.AssetsDir != "" {
			if ok, _ := sb.Exists(ctx, appDir+"/"+cfg.AssetsDir); !ok {
				return artifactMissing(sb, "missing assets dir "+cfg.AssetsDir)
			}
			if err := ensureAssetsIgnore(ctx, sb, cfg.AssetsDir); err != nil {
				return err
			}
		}
		return writeDescriptor(ctx, sb, NewWranglerConfig(workerName, cfg.WorkerEntry, cfg.AssetsDir))

	default:
		assetsDir := cfg.AssetsDir
		if assetsDir == "" {
			for _, cand := range []string{"dist", "build", ".output", "out"} {
				if ok, _ := sb.Exists(ctx, appDir+"/"+cand); ok {
					assetsDir = cand
					break
				}
			}
		}
		if assetsDir == "" {
			// No build step produced a dist-style output directory: the
			// generated files already sit at the project root, so that
			// root is itself the assets directory (e.g. a plain static
			// HTML/CSS/JS site with no bundler).
			assetsDir = "."
		}
		main := cfg.WorkerEntry
		if main == "" {
			for _, cand := range []string{"worker.js", "worker.ts"} {
				if ok, _ := sb.Exists(ctx, appDir+"/"+cand); ok {
					main = cand
					break
				}
			}
		}
		if main == "" {
			main = "nimbus-worker.js"
			if err := sb.WriteFile(ctx, appDir+"/"+main, []byte(passthroughWorkerJS)); err != nil {
				return apperr.Wrap(apperr.BuildFailure, err, "write fallback worker").WithBuildLog(sb.ID(), "")
			}
		}
		return writeDescriptor(ctx, sb, NewWranglerConfig(workerName, main, assetsDir))
	}
}

const passthroughWorkerJS = `export default {
  async fetch(request, env) {
    return env.ASSETS.fetch(request);
  },
};
`

func artifactMissing(sb Sandbox, msg string) error {
	return apperr.New(apperr.BuildFailure, "build artifact verification failed: "+msg).WithBuildLog(sb.ID(), "")
}

func writeDescriptor(ctx context.Context, sb Sandbox, cfg WranglerConfig) error {
	b, err := cfg.Marshal()
	if err != nil {
		return apperr.Wrap(apperr.BuildFailure, err, "marshal wrangler config").WithBuildLog(sb.ID(), "")
	}
	if err := sb.WriteFile(ctx, appDir+"/wrangler.nimbus.toml", b); err != nil {
		return apperr.Wrap(apperr.BuildFailure, err, "write wrangler.nimbus.toml").WithBuildLog(sb.ID(), "")
	}
	return nil
}

// ensureAssetsIgnore implements spec.md §4.3 step 6's requirement that
// <assetsDir>/.assetsignore contain "_worker.js" when an embedded
// _worker.js directory is present, so the assets layer does not shadow the
// worker entry.
func ensureAssetsIgnore(ctx context.Context, sb Sandbox, assetsDir string) error {
	if ok, _ := sb.Exists(ctx, appDir+"/"+assetsDir+"/_worker.js"); !ok {
		return nil
	}
	ignorePath := appDir + "/" + assetsDir + "/.assetsignore"
	existing := ""
	if b, err := sb.ReadFile(ctx, ignorePath); err == nil {
		existing = string(b)
	}
	if strings.Contains(existing, "_worker.js") {
		return nil
	}
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		existing += "\n"
	}
	existing += "_worker.js\n"
	return sb.WriteFile(ctx, ignorePath, []byte(existing))
}

func findPackageJSON(files []job.GeneratedFile) (map[string]any, bool) {
	for _, f := range files {
		if f.Path == "package.json" {
			var doc map[string]any
			if err := json.Unmarshal([]byte(f.Content), &doc); err != nil {
				return nil, true
			}
			return doc, true
		}
	}
	return nil, false
}

func hasBuildScript(pkg map[string]any) bool {
	scripts, ok := pkg["scripts"].(map[string]any)
	if !ok {
		return false
	}
	_, ok = scripts["build"]
	return ok
}
