package provision

import (
	"bytes"
	"context"
	"fmt"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/pubwiki/wikifarm/pkg/log"
)

// Execer runs a command inside the long-running fleet container.
type Execer interface {
	Exec(ctx context.Context, container string, cmd []string, workdir string) error
}

// ExecError carries the exit code and captured output of a failed
// in-container command.
type ExecError struct {
	Code   int
	Stdout string
	Stderr string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("docker exec failed: code=%d, stderr=%s", e.Code, e.Stderr)
}

// DockerExecer implements Execer against the Docker Engine API.
type DockerExecer struct {
	api *client.Client
}

// NewDockerExecer connects to the engine socket (unix:// or tcp://).
func NewDockerExecer(socket string) (*DockerExecer, error) {
	cli, err := client.NewClientWithOpts(client.WithHost(socket), client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker: %w", err)
	}
	return &DockerExecer{api: cli}, nil
}

// Close releases the engine connection.
func (d *DockerExecer) Close() error {
	return d.api.Close()
}

// Exec creates an exec instance inside the named, already-running container
// as www-data, streams both output channels into memory and surfaces a
// non-zero exit code as an ExecError.
func (d *DockerExecer) Exec(ctx context.Context, container string, cmd []string, workdir string) error {
	log.Logger.Debug().Str("container", container).Strs("cmd", cmd).Msg("docker exec start")

	created, err := d.api.ContainerExecCreate(ctx, container, dockertypes.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
		WorkingDir:   workdir,
		User:         fmt.Sprintf("%d:%d", wwwDataUID, wwwDataGID),
	})
	if err != nil {
		return fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := d.api.ContainerExecAttach(ctx, created.ID, dockertypes.ExecStartCheck{})
	if err != nil {
		return fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		log.Logger.Error().Err(err).Msg("error while reading docker exec output")
	}

	inspected, err := d.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return fmt.Errorf("failed to inspect exec: %w", err)
	}
	if inspected.ExitCode != 0 {
		log.Logger.Error().Int("code", inspected.ExitCode).Str("stderr", stderr.String()).Msg("docker exec non-zero exit code")
		return &ExecError{
			Code:   inspected.ExitCode,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
	}
	return nil
}
