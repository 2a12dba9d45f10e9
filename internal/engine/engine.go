// Package engine is the Container Driver: a typed interface over the
// Docker Engine API that hides Docker's error shapes behind a small
// taxonomy the Session Registry, Executor, and Reaper can handle without
// importing the Docker SDK themselves.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"
)

// Error kinds the upper layers must handle, per the design's error
// taxonomy. Everything else collapses to ErrOther.
var (
	ErrNotFound         = errors.New("engine: not found")
	ErrConflict         = errors.New("engine: conflict")
	ErrTimeout          = errors.New("engine: timeout")
	ErrEngineUnavailable = errors.New("engine: unavailable")
	ErrOther            = errors.New("engine: other")
)

const (
	labelManaged   = "sandbox.managed"
	labelUserID    = "sandbox.user_id"
	labelSessionID = "sandbox.session_id"
	labelCreatedAt = "sandbox.created_at"
)

// Spec enumerates everything the Session Registry needs to create a
// hardened sandbox container, per the mandated security profile.
type Spec struct {
	Image          string
	UserID         string
	SessionID      string
	MemLimitBytes  int64
	CPUQuotaNanos  int64 // NanoCPUs, i.e. fraction of one CPU * 1e9
	PidsLimit      int64
	NofileSoft     uint64
	NofileHard     uint64
	NetworkNone    bool
	ReadonlyRootfs bool
	WorkspaceMount Mount // tmpfs or named volume, mounted at /workspace
	TmpSizeBytes   int64
}

// Mount describes the /workspace mount: either an ephemeral tmpfs or a
// named, persistent volume.
type Mount struct {
	VolumeName string // empty => tmpfs
	SizeBytes  int64  // tmpfs size cap; ignored for volume mounts
}

// ExecResult is the raw result of running a command inside a container.
// The Executor layer adds timeout/truncation bookkeeping on top of this.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// ContainerState reports what Inspect found.
type ContainerState struct {
	Running   bool
	CreatedAt time.Time
}

// ContainerSummary is one entry from ListByLabel.
type ContainerSummary struct {
	ContainerID string
	UserID      string
	SessionID   string
	CreatedAt   time.Time
}

// Driver is the Container Driver contract consumed by the Session
// Registry, Executor, Workspace Gateway, and Reaper.
type Driver interface {
	Create(ctx context.Context, spec Spec) (containerID string, err error)
	Start(ctx context.Context, containerID string) error
	Exec(ctx context.Context, containerID string, argv []string, workingDir string, timeout time.Duration) (*ExecResult, error)
	Inspect(ctx context.Context, containerID string) (*ContainerState, error)
	Remove(ctx context.Context, containerID string, force bool) error
	ListByLabel(ctx context.Context, label string) ([]ContainerSummary, error)
	VolumeCreate(ctx context.Context, name string) error
	VolumeRemove(ctx context.Context, name string) error
	CopyFromContainer(ctx context.Context, containerID, absPath string) (io.ReadCloser, error)
	CopyToContainer(ctx context.Context, containerID, dirPath string, tarStream io.Reader) error
}

// Docker implements Driver against a real Docker Engine API client.
type Docker struct {
	cli *client.Client
}

// New dials the Docker daemon using the standard environment (DOCKER_HOST
// etc.), negotiating the API version, matching the teacher's client setup.
func New() (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("engine: docker client: %w", err)
	}
	return &Docker{cli: cli}, nil
}

// Close releases the underlying Docker client's resources.
func (d *Docker) Close() error {
	return d.cli.Close()
}

// Ping verifies the Docker daemon is reachable.
func (d *Docker) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %s", ErrEngineUnavailable, err)
	}
	return nil
}

func (d *Docker) Create(ctx context.Context, spec Spec) (string, error) {
	now := time.Now().Unix()
	labels := map[string]string{
		labelManaged:   "true",
		labelUserID:    spec.UserID,
		labelSessionID: spec.SessionID,
		labelCreatedAt: fmt.Sprintf("%d", now),
	}

	mounts := []mount.Mount{
		{Type: mount.TypeTmpfs, Target: "/tmp", TmpfsOptions: &mount.TmpfsOptions{SizeBytes: spec.TmpSizeBytes}},
	}
	if spec.WorkspaceMount.VolumeName != "" {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeVolume,
			Source: spec.WorkspaceMount.VolumeName,
			Target: "/workspace",
		})
	} else {
		size := spec.WorkspaceMount.SizeBytes
		if size == 0 {
			size = 64 * units.MiB
		}
		mounts = append(mounts, mount.Mount{
			Type:         mount.TypeTmpfs,
			Target:       "/workspace",
			TmpfsOptions: &mount.TmpfsOptions{SizeBytes: size},
		})
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:    spec.MemLimitBytes,
			NanoCPUs:  spec.CPUQuotaNanos,
			PidsLimit: int64Ptr(spec.PidsLimit),
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: int64(spec.NofileSoft), Hard: int64(spec.NofileHard)},
			},
		},
		ReadonlyRootfs: spec.ReadonlyRootfs,
		SecurityOpt:    []string{"no-new-privileges:true"},
		CapDrop:        []string{"ALL"},
		Mounts:         mounts,
	}
	if spec.NetworkNone {
		hostCfg.NetworkMode = "none"
	}

	containerCfg := &container.Config{
		Image:      spec.Image,
		User:       "1000:1000",
		Labels:     labels,
		Entrypoint: []string{"/bin/sh"},
		Cmd:        []string{"-c", "while :; do sleep 3600; done"},
		WorkingDir: "/workspace",
		Tty:        false,
	}

	resp, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", mapErr(err)
	}
	return resp.ID, nil
}

func (d *Docker) Start(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return mapErr(err)
	}
	return nil
}

// Exec runs argv inside the container under workingDir, killing it at
// timeout. The wall clock starts at dispatch, per the design.
func (d *Docker) Exec(ctx context.Context, containerID string, argv []string, workingDir string, timeout time.Duration) (*ExecResult, error) {
	execCfg := container.ExecOptions{
		Cmd:          argv,
		WorkingDir:   workingDir,
		User:         "1000:1000",
		AttachStdout: true,
		AttachStderr: true,
	}

	execResp, err := d.cli.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return nil, mapErr(err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attachResp, err := d.cli.ContainerExecAttach(timeoutCtx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, mapErr(err)
	}
	defer attachResp.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, attachResp.Reader)
		copyDone <- copyErr
	}()

	select {
	case <-timeoutCtx.Done():
		d.killExec(ctx, execResp.ID)
		return nil, fmt.Errorf("%w: exec did not complete within %s", ErrTimeout, timeout)
	case err := <-copyDone:
		if err != nil {
			return nil, mapErr(err)
		}
	}

	inspectResp, err := d.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, mapErr(err)
	}

	return &ExecResult{
		ExitCode: inspectResp.ExitCode,
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   stderrBuf.Bytes(),
	}, nil
}

// killExec SIGKILLs an exec's process group once it has overrun its
// timeout. ContainerExecInspect's Pid is the host-side pid dockerd itself
// sees, so the daemon's own process tree can signal it directly; it does
// not require another exec into the container.
func (d *Docker) killExec(ctx context.Context, execID string) {
	inspectResp, err := d.cli.ContainerExecInspect(ctx, execID)
	if err != nil || inspectResp.Pid == 0 {
		return
	}
	_ = syscall.Kill(-inspectResp.Pid, syscall.SIGKILL)
}

func (d *Docker) Inspect(ctx context.Context, containerID string) (*ContainerState, error) {
	info, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, mapErr(err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, info.Created)
	return &ContainerState{
		Running:   info.State != nil && info.State.Running,
		CreatedAt: createdAt,
	}, nil
}

func (d *Docker) Remove(ctx context.Context, containerID string, force bool) error {
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force})
	if err != nil && !client.IsErrNotFound(err) {
		return mapErr(err)
	}
	return nil
}

func (d *Docker) ListByLabel(ctx context.Context, label string) ([]ContainerSummary, error) {
	f := filters.NewArgs()
	f.Add("label", label)

	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, mapErr(err)
	}

	result := make([]ContainerSummary, 0, len(containers))
	for _, c := range containers {
		createdAt := time.Unix(c.Created, 0)
		result = append(result, ContainerSummary{
			ContainerID: c.ID,
			UserID:      c.Labels[labelUserID],
			SessionID:   c.Labels[labelSessionID],
			CreatedAt:   createdAt,
		})
	}
	return result, nil
}

func (d *Docker) VolumeCreate(ctx context.Context, name string) error {
	_, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name, Driver: "local"})
	if err != nil {
		return mapErr(err)
	}
	return nil
}

func (d *Docker) VolumeRemove(ctx context.Context, name string) error {
	if err := d.cli.VolumeRemove(ctx, name, true); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return mapErr(err)
	}
	return nil
}

func (d *Docker) CopyFromContainer(ctx context.Context, containerID, absPath string) (io.ReadCloser, error) {
	rc, _, err := d.cli.CopyFromContainer(ctx, containerID, absPath)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, mapErr(err)
	}
	return rc, nil
}

func (d *Docker) CopyToContainer(ctx context.Context, containerID, dirPath string, tarStream io.Reader) error {
	err := d.cli.CopyToContainer(ctx, containerID, dirPath, tarStream, container.CopyToContainerOptions{})
	if err != nil {
		return mapErr(err)
	}
	return nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case client.IsErrNotFound(err):
		return fmt.Errorf("%w: %s", ErrNotFound, err)
	case client.IsErrConnectionFailed(err):
		return fmt.Errorf("%w: %s", ErrEngineUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %s", ErrOther, err)
	}
}

func int64Ptr(v int64) *int64 { return &v }
