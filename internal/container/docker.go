// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
	"github.com/moby/term"
)

// DockerEngine implements Engine against the Docker daemon API.
type DockerEngine struct {
	cli *client.Client
}

var _ Engine = (*DockerEngine)(nil)

// NewDockerEngine connects to the daemon using environment defaults
// (DOCKER_HOST and friends) with API version negotiation.
func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerEngine{cli: cli}, nil
}

// Close releases the underlying API client.
func (e *DockerEngine) Close() error {
	return e.cli.Close()
}

func (e *DockerEngine) Ping(ctx context.Context) error {
	if _, err := e.cli.Ping(ctx); err != nil {
		return runtimeErr("ping", "daemon", err)
	}
	return nil
}

func (e *DockerEngine) ImageExists(ctx context.Context, ref string) (bool, error) {
	list, err := e.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return false, runtimeErr("list image", ref, err)
	}
	return len(list) > 0, nil
}

func (e *DockerEngine) BuildImage(ctx context.Context, opts BuildOptions) error {
	buildCtx, err := archive.TarWithOptions(opts.ContextDir, &archive.TarOptions{})
	if err != nil {
		return runtimeErr("build image", opts.Tag, fmt.Errorf("create build context: %w", err))
	}
	defer buildCtx.Close()

	resp, err := e.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{opts.Tag},
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return runtimeErr("build image", opts.Tag, err)
	}
	defer resp.Body.Close()

	// The daemon streams progress as JSON messages; a message carrying
	// an error field means the build failed even though the HTTP call
	// succeeded.
	dec := json.NewDecoder(resp.Body)
	for {
		var msg buildMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return runtimeErr("build image", opts.Tag, fmt.Errorf("decode build output: %w", err))
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return runtimeErr("build image", opts.Tag, fmt.Errorf("%s", errMsg))
		}
		if opts.Output != nil {
			if line := msg.render(); line != "" {
				fmt.Fprintln(opts.Output, line)
			}
		}
	}
	return nil
}

func (e *DockerEngine) RemoveImage(ctx context.Context, ref string) error {
	if _, err := e.cli.ImageRemove(ctx, ref, image.RemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return runtimeErr("remove image", ref, err)
	}
	return nil
}

func (e *DockerEngine) PullImage(ctx context.Context, ref string) error {
	rc, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return runtimeErr("pull image", ref, err)
	}
	defer rc.Close()
	// Drain the progress stream; the pull completes when it closes.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return runtimeErr("pull image", ref, err)
	}
	return nil
}

func (e *DockerEngine) CreateContainer(ctx context.Context, opts CreateOptions) (string, error) {
	cfg := &container.Config{
		Image:      opts.Image,
		Hostname:   opts.Hostname,
		WorkingDir: opts.WorkDir,
		Env:        opts.Env,
		Cmd:        opts.Cmd,
		Labels:     opts.Labels,
	}

	resources, err := toDockerResources(opts.Resources)
	if err != nil {
		return "", runtimeErr("create container", opts.Name, err)
	}
	hostCfg := &container.HostConfig{
		Binds:     opts.Binds,
		Resources: resources,
	}

	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return "", runtimeErr("create container", opts.Name, err)
	}
	return resp.ID, nil
}

func (e *DockerEngine) StartContainer(ctx context.Context, name string) error {
	if err := e.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return runtimeErr("start container", name, err)
	}
	return nil
}

func (e *DockerEngine) StopContainer(ctx context.Context, name string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	if err := e.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &secs}); err != nil {
		if client.IsErrNotFound(err) {
			return &NotFoundError{Kind: "container", Name: name}
		}
		return runtimeErr("stop container", name, err)
	}
	return nil
}

func (e *DockerEngine) RemoveContainer(ctx context.Context, name string, force bool) error {
	err := e.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: force, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		return runtimeErr("remove container", name, err)
	}
	return nil
}

func (e *DockerEngine) Inspect(ctx context.Context, name string) (*State, error) {
	info, err := e.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, &NotFoundError{Kind: "container", Name: name}
		}
		return nil, runtimeErr("inspect container", name, err)
	}

	state := &State{
		ID:    info.ID,
		Name:  strings.TrimPrefix(info.Name, "/"),
		Image: info.Config.Image,
	}
	if info.State != nil {
		state.Running = info.State.Running
		state.ExitCode = info.State.ExitCode
		if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			state.StartedAt = t
		}
	}
	return state, nil
}

func (e *DockerEngine) Exec(ctx context.Context, name string, opts ExecOptions) (int, error) {
	tty := opts.Interactive && stdinIsTerminal(opts.Stdin)

	execResp, err := e.cli.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          opts.Cmd,
		WorkingDir:   opts.WorkDir,
		Env:          opts.Env,
		AttachStdin:  opts.Interactive,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          tty,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return -1, &NotFoundError{Kind: "container", Name: name}
		}
		return -1, runtimeErr("exec", name, err)
	}

	attach, err := e.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{Tty: tty})
	if err != nil {
		return -1, runtimeErr("exec attach", name, err)
	}
	defer attach.Close()

	if err := e.streamExec(ctx, attach, opts, tty); err != nil {
		return -1, runtimeErr("exec stream", name, err)
	}

	inspect, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return -1, runtimeErr("exec inspect", name, err)
	}
	return inspect.ExitCode, nil
}

// streamExec copies the exec's IO streams. With a TTY the daemon sends a
// single raw stream and the local terminal must be switched to raw mode;
// without one stdout and stderr are multiplexed and need demuxing.
func (e *DockerEngine) streamExec(ctx context.Context, attach types.HijackedResponse, opts ExecOptions, tty bool) error {
	if tty {
		fd, _ := term.GetFdInfo(opts.Stdin)
		prev, err := term.SetRawTerminal(fd)
		if err != nil {
			return fmt.Errorf("set raw terminal: %w", err)
		}
		defer term.RestoreTerminal(fd, prev)
	}

	inDone := make(chan struct{})
	if opts.Interactive && opts.Stdin != nil {
		go func() {
			defer close(inDone)
			io.Copy(attach.Conn, opts.Stdin)
			attach.CloseWrite()
		}()
	} else {
		close(inDone)
	}

	outDone := make(chan error, 1)
	go func() {
		var err error
		if tty {
			_, err = io.Copy(writerOr(opts.Stdout), attach.Reader)
		} else {
			_, err = stdcopy.StdCopy(writerOr(opts.Stdout), writerOr(opts.Stderr), attach.Reader)
		}
		outDone <- err
	}()

	select {
	case err := <-outDone:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *DockerEngine) RunEphemeral(ctx context.Context, opts EphemeralOptions) (int, error) {
	tty := opts.Interactive && stdinIsTerminal(opts.Stdin)

	cfg := &container.Config{
		Image:        opts.Image,
		Cmd:          opts.Cmd,
		Env:          opts.Env,
		Tty:          tty,
		OpenStdin:    opts.Interactive,
		AttachStdin:  opts.Interactive,
		AttachStdout: true,
		AttachStderr: true,
	}
	hostCfg := &container.HostConfig{
		Binds: opts.Binds,
	}
	if opts.HostNetwork {
		hostCfg.NetworkMode = "host"
	} else if opts.PublishPort > 0 {
		port := nat.Port(fmt.Sprintf("%d/tcp", opts.PublishPort))
		cfg.ExposedPorts = nat.PortSet{port: struct{}{}}
		hostCfg.PortBindings = nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(opts.PublishPort)}},
		}
	}

	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return -1, runtimeErr("create container", opts.Name, err)
	}
	// Removal must survive ctx cancellation so an interrupted login
	// never leaves a helper container behind.
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		e.cli.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	}()

	attach, err := e.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  opts.Interactive,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return -1, runtimeErr("attach container", opts.Name, err)
	}
	defer attach.Close()

	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return -1, runtimeErr("start container", opts.Name, err)
	}

	if err := e.streamExec(ctx, attach, ExecOptions{
		Interactive: opts.Interactive,
		Stdin:       opts.Stdin,
		Stdout:      opts.Stdout,
		Stderr:      opts.Stderr,
	}, tty); err != nil && ctx.Err() == nil {
		return -1, runtimeErr("attach stream", opts.Name, err)
	}

	statusCh, errCh := e.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, runtimeErr("wait container", opts.Name, err)
	case status := <-statusCh:
		return int(status.StatusCode), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func toDockerResources(r Resources) (container.Resources, error) {
	var out container.Resources
	if r.CPUs > 0 {
		out.NanoCPUs = int64(r.CPUs * 1e9)
	}
	if r.Memory != "" {
		bytes, err := units.RAMInBytes(r.Memory)
		if err != nil {
			return out, fmt.Errorf("parse memory limit %q: %w", r.Memory, err)
		}
		out.Memory = bytes
	}
	return out, nil
}

func stdinIsTerminal(stdin io.Reader) bool {
	if stdin == nil {
		return false
	}
	if f, ok := stdin.(*os.File); ok {
		return term.IsTerminal(f.Fd())
	}
	return false
}

func writerOr(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

type buildMessage struct {
	Stream      string `json:"stream"`
	Status      string `json:"status"`
	ID          string `json:"id"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func (m buildMessage) errorMessage() string {
	if s := strings.TrimSpace(m.Error); s != "" {
		return s
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m buildMessage) render() string {
	if s := strings.TrimSpace(m.Stream); s != "" {
		return s
	}
	if m.Status == "" {
		return ""
	}
	if id := strings.TrimSpace(m.ID); id != "" {
		return id + " " + strings.TrimSpace(m.Status)
	}
	return strings.TrimSpace(m.Status)
}
