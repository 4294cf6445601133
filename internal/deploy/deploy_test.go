package deploy

import (
	"context"
	"strings"
	"testing"

	"github.com/nimbusbuild/orchestrator/internal/apperr"
	"github.com/nimbusbuild/orchestrator/internal/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeploy_ParsesWorkersDevURL(t *testing.T) {
	sb := sandbox.NewFakeSandbox("sbx-1")
	sb.ExecFunc = func(cmd []string) (sandbox.ExecResult, error) {
		_ = sb.WriteFile(context.Background(), appDir+"/.nimbus/deploy.log",
			[]byte("Uploaded my-worker\nDeployed to https://my-worker.workers.dev\n"))
		return sandbox.ExecResult{ExitCode: 0}, nil
	}

	d := NewDriver()
	res, err := d.Deploy(context.Background(), sb, Credentials{APIToken: "tok", AccountID: "acct"})
	require.NoError(t, err)
	assert.Equal(t, "https://my-worker.workers.dev", res.DeployedURL)
}

func TestDeploy_NonzeroExitIsDeployFailure(t *testing.T) {
	sb := sandbox.NewFakeSandbox("sbx-2")
	sb.ExecFunc = func(cmd []string) (sandbox.ExecResult, error) {
		_ = sb.WriteFile(context.Background(), appDir+"/.nimbus/deploy.log", []byte("wrangler: error: auth failed\n"))
		return sandbox.ExecResult{ExitCode: 1}, nil
	}

	d := NewDriver()
	_, err := d.Deploy(context.Background(), sb, Credentials{})
	require.Error(t, err)
	assert.Equal(t, apperr.DeployFailure, apperr.KindOf(err))
}

func TestDeploy_MissingURLIsDeployFailure(t *testing.T) {
	sb := sandbox.NewFakeSandbox("sbx-3")
	sb.ExecFunc = func(cmd []string) (sandbox.ExecResult, error) {
		_ = sb.WriteFile(context.Background(), appDir+"/.nimbus/deploy.log", []byte("deployed ok, no url here\n"))
		return sandbox.ExecResult{ExitCode: 0}, nil
	}

	d := NewDriver()
	_, err := d.Deploy(context.Background(), sb, Credentials{})
	require.Error(t, err)
	assert.Equal(t, apperr.DeployFailure, apperr.KindOf(err))
}

func TestSanitize_RedactsCredentials(t *testing.T) {
	in := `export CLOUDFLARE_API_TOKEN="super-secret" CLOUDFLARE_ACCOUNT_ID="acct-123"`
	out := Sanitize(in)
	assert.False(t, strings.Contains(out, "super-secret"))
	assert.False(t, strings.Contains(out, "acct-123"))
	assert.Contains(t, out, `CLOUDFLARE_API_TOKEN="[REDACTED]"`)
	assert.Contains(t, out, `CLOUDFLARE_ACCOUNT_ID="[REDACTED]"`)
}
