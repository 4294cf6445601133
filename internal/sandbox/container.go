package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ContainerSandbox is the production Sandbox, backed by testcontainers-go
// (grounded on kiranshivaraju-loghunter's GenericContainer/ContainerRequest
// usage for its Postgres/Redis integration tests — the same library, aimed
// here at a long-lived Node-capable container per job instead of a
// throwaway test dependency).
type ContainerSandbox struct {
	container testcontainers.Container
	id        string
}

// NewContainerSandbox starts a fresh container from image, keeping it alive
// with a long-running no-op command so Exec calls can run against it for
// the lifetime of one job.
func NewContainerSandbox(ctx context.Context, image string) (*ContainerSandbox, error) {
	req := testcontainers.ContainerRequest{
		Image:      image,
		Cmd:        []string{"sleep", "infinity"},
		WaitingFor: wait.ForExec([]string{"true"}).WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox: start container: %w", err)
	}
	id := c.GetContainerID()
	if len(id) > 12 {
		id = id[:12]
	}
	return &ContainerSandbox{container: c, id: id}, nil
}

func (s *ContainerSandbox) ID() string { return s.id }

func (s *ContainerSandbox) Exec(ctx context.Context, cmd []string, timeout time.Duration) (ExecResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exitCode, reader, err := s.container.Exec(execCtx, cmd)
	if err != nil {
		if execCtx.Err() != nil {
			return ExecResult{}, fmt.Errorf("sandbox: exec %q timed out after %s", strings.Join(cmd, " "), timeout)
		}
		return ExecResult{}, fmt.Errorf("sandbox: exec %q: %w", strings.Join(cmd, " "), err)
	}
	var out bytes.Buffer
	if reader != nil {
		_, _ = io.Copy(&out, reader)
	}
	return ExecResult{ExitCode: exitCode, Stdout: out.String()}, nil
}

func (s *ContainerSandbox) WriteFile(ctx context.Context, filePath string, contents []byte) error {
	dir := path.Dir(filePath)
	if dir != "." && dir != "/" {
		if _, err := s.Exec(ctx, []string{"mkdir", "-p", dir}, 10*time.Second); err != nil {
			return err
		}
	}
	if err := s.container.CopyToContainer(ctx, contents, filePath, 0o644); err != nil {
		return fmt.Errorf("sandbox: write %s: %w", filePath, err)
	}
	return nil
}

func (s *ContainerSandbox) ReadFile(ctx context.Context, filePath string) ([]byte, error) {
	res, err := s.Exec(ctx, []string{"cat", filePath}, 10*time.Second)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("sandbox: read %s: exit %d", filePath, res.ExitCode)
	}
	return []byte(res.Stdout), nil
}

func (s *ContainerSandbox) Exists(ctx context.Context, filePath string) (bool, error) {
	res, err := s.Exec(ctx, []string{"test", "-e", filePath}, 10*time.Second)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func (s *ContainerSandbox) Destroy(ctx context.Context) error {
	return s.container.Terminate(ctx)
}

// ContainerProvisioner implements Provisioner over ContainerSandbox.
type ContainerProvisioner struct {
	Image string
}

func NewContainerProvisioner(image string) *ContainerProvisioner {
	return &ContainerProvisioner{Image: image}
}

func (p *ContainerProvisioner) New(ctx context.Context, _ string) (Sandbox, error) {
	return NewContainerSandbox(ctx, p.Image)
}
