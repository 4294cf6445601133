// Package deploy implements the Deploy Driver (C6, spec.md §4.4): inside an
// already-built sandbox, it invokes the edge-worker deploy tool with the
// sandbox's wrangler config, captures its output, and parses the resulting
// workers.dev URL.
package deploy

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/nimbusbuild/orchestrator/internal/apperr"
	"github.com/nimbusbuild/orchestrator/internal/sandbox"
)

const appDir = "/root/app"

// DeployTimeout bounds the wrangler deploy command. Not one of the named
// timeouts in spec.md §5 (which only covers install/build); deploy is a
// single short-lived CLI invocation so a fixed conservative bound is used.
const DeployTimeout = 2 * time.Minute

var deployedURLPattern = regexp.MustCompile(`https://[a-zA-Z0-9.-]+\.workers\.dev`)

// Credentials are the Cloudflare values exported into the sandbox's
// environment before invoking wrangler.
type Credentials struct {
	APIToken  string
	AccountID string
}

// Result is what Driver.Deploy returns on success.
type Result struct {
	DeployedURL string
	DeployLog   string
}

// Driver is the Deploy Driver (C6).
type Driver struct{}

func NewDriver() *Driver { return &Driver{} }

// Deploy implements spec.md §4.4: export credentials, run wrangler deploy
// against wrangler.nimbus.toml, redirect output to .nimbus/deploy.log,
// sanitize it, and parse the resulting URL.
func (d *Driver) Deploy(ctx context.Context, sb sandbox.Sandbox, creds Credentials) (Result, error) {
	cmd := []string{"sh", "-c", fmt.Sprintf(
		`cd %s && export CLOUDFLARE_API_TOKEN=%q CLOUDFLARE_ACCOUNT_ID=%q && bunx wrangler deploy --config wrangler.nimbus.toml > .nimbus/deploy.log 2>&1`,
		appDir, creds.APIToken, creds.AccountID,
	)}

	res, err := sb.Exec(ctx, cmd, DeployTimeout)
	rawLog, _ := sb.ReadFile(ctx, appDir+"/.nimbus/deploy.log")
	log := Sanitize(string(rawLog))

	if err != nil {
		return Result{}, apperr.Wrap(apperr.DeployFailure, err, "deploy command").WithBuildLog("", log)
	}
	if res.ExitCode != 0 {
		return Result{}, apperr.Newf(apperr.DeployFailure, "wrangler deploy exited %d", res.ExitCode).WithBuildLog("", log)
	}

	url := deployedURLPattern.FindString(log)
	if url == "" {
		url = deployedURLPattern.FindString(res.Stdout)
	}
	if url == "" {
		return Result{}, apperr.New(apperr.DeployFailure, "could not find a workers.dev URL in deploy output").WithBuildLog("", log)
	}

	return Result{DeployedURL: url, DeployLog: log}, nil
}
