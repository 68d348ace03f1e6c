package actions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	workspaceDir = "/tangled/workspace"
)

// Docker runs the `run` parameter in a throwaway container of the `image`
// parameter, with the job workspace bind-mounted.
type Docker struct {
	docker client.APIClient
	l      *slog.Logger
}

func NewDocker(dcli client.APIClient, l *slog.Logger) *Docker {
	return &Docker{
		docker: dcli,
		l:      l.With("action", "docker"),
	}
}

// NewDockerFromEnv connects to the daemon the usual DOCKER_* variables
// point at.
func NewDockerFromEnv(l *slog.Logger) (*Docker, error) {
	dcli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return NewDocker(dcli, l), nil
}

func (d *Docker) Run(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (int, error) {
	img := inv.Params["image"]
	if img == "" {
		return -1, fmt.Errorf("%w: image", ErrMissingParam)
	}

	if err := d.pull(ctx, img); err != nil {
		return -1, err
	}

	envs := ConstructEnvs(inv.Env)
	envs.AddInputs(inv.Params, "run", "image", "shell")
	envs.AddEnv("HOME", workspaceDir)

	var cmd []string
	if script := inv.Params["run"]; script != "" {
		cmd = []string{inv.Param("shell", "bash"), "-c", script}
	}

	resp, err := d.docker.ContainerCreate(ctx, &container.Config{
		Image:      img,
		Cmd:        cmd,
		WorkingDir: workspaceDir,
		Tty:        false,
		Hostname:   "spindle",
		Env:        envs.Slice(),
	}, hostConfig(inv.Workspace), nil, nil, "")
	if err != nil {
		return -1, fmt.Errorf("creating container: %w", err)
	}
	defer func() {
		if err := d.DestroyStep(context.Background(), resp.ID); err != nil {
			d.l.Error("failed to destroy container", "container", resp.ID, "error", err)
		}
	}()

	if err := d.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return -1, fmt.Errorf("starting container: %w", err)
	}
	d.l.Info("started container", "container", resp.ID, "image", img)

	tailDone := make(chan error, 1)
	go func() {
		tailDone <- d.tail(ctx, resp.ID, stdout, stderr)
	}()

	waitDone := make(chan struct{})
	var state *container.State
	var waitErr error
	go func() {
		defer close(waitDone)
		state, waitErr = d.wait(ctx, resp.ID)
	}()

	select {
	case <-waitDone:
		if err := <-tailDone; err != nil {
			d.l.Warn("failed to tail container logs", "container", resp.ID, "error", err)
		}
	case <-ctx.Done():
		d.l.Warn("step interrupted; killing container", "container", resp.ID)
		if err := d.DestroyStep(context.Background(), resp.ID); err != nil {
			d.l.Error("failed to destroy container", "container", resp.ID, "error", err)
		}
		<-waitDone
		<-tailDone
		return -1, ctx.Err()
	}

	if waitErr != nil {
		return -1, waitErr
	}

	if state.OOMKilled {
		return state.ExitCode, ErrOOMKilled
	}
	return state.ExitCode, nil
}

func (d *Docker) pull(ctx context.Context, img string) error {
	reader, err := d.docker.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		d.l.Error("image pull failed", "image", img, "error", err)
		return fmt.Errorf("pulling image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (d *Docker) wait(ctx context.Context, containerID string) (*container.State, error) {
	wait, errCh := d.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
	case <-wait:
	}

	info, err := d.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, err
	}

	return info.State, nil
}

func (d *Docker) tail(ctx context.Context, containerID string, stdout, stderr io.Writer) error {
	logs, err := d.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		Follow:     true,
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return err
	}
	defer logs.Close()

	_, err = stdcopy.StdCopy(
		plain(stdout),
		plain(stderr),
		logs,
	)
	if err != nil && err != io.EOF && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to copy logs: %w", err)
	}

	return nil
}

func (d *Docker) DestroyStep(ctx context.Context, containerID string) error {
	err := d.docker.ContainerKill(ctx, containerID, "9") // SIGKILL
	if err != nil && !isErrContainerNotFoundOrNotRunning(err) {
		return err
	}

	if err := d.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{
		RemoveVolumes: true,
		Force:         true,
	}); err != nil && !isErrContainerNotFoundOrNotRunning(err) && !isErrRemovalInProgress(err) {
		return err
	}

	return nil
}

func hostConfig(workspace string) *container.HostConfig {
	mounts := []mount.Mount{
		{
			Type:     mount.TypeTmpfs,
			Target:   "/tmp",
			ReadOnly: false,
			TmpfsOptions: &mount.TmpfsOptions{
				Mode: 0o1777, // world-writeable sticky bit
				Options: [][]string{
					{"exec"},
				},
			},
		},
	}
	if workspace != "" {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: workspace,
			Target: workspaceDir,
		})
	}

	return &container.HostConfig{
		Mounts:         mounts,
		ReadonlyRootfs: false,
		CapDrop:        []string{"ALL"},
		CapAdd:         []string{"CAP_DAC_OVERRIDE", "CAP_CHOWN", "CAP_FOWNER"},
		SecurityOpt:    []string{"no-new-privileges"},
		ExtraHosts:     []string{"host.docker.internal:host-gateway"},
	}
}

// thanks woodpecker
func isErrContainerNotFoundOrNotRunning(err error) bool {
	// Error response from daemon: Cannot kill container: ...: No such container: ...
	// Error response from daemon: Cannot kill container: ...: Container ... is not running"
	// Error response from podman daemon: can only kill running containers. ... is in state exited
	// Error: No such container: ...
	return err != nil && (strings.Contains(err.Error(), "No such container") || strings.Contains(err.Error(), "is not running") || strings.Contains(err.Error(), "can only kill running containers"))
}

func isErrRemovalInProgress(err error) bool {
	return err != nil && strings.Contains(err.Error(), "is already in progress")
}
