package buildworker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerWorker runs a build/review in a disposable container, adapted
// from the teacher's dispatch/docker.go session dispatcher. Selected by
// cmd/cortex-engine when the worker backend is configured as "docker".
type DockerWorker struct {
	cli   *client.Client
	image string
}

// NewDockerWorker connects to the local Docker daemon and returns a
// worker that runs task builds in the given image.
func NewDockerWorker(image string) (*DockerWorker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("buildworker: docker client: %w", err)
	}
	if image == "" {
		image = "cortex-engine-build:latest"
	}
	return &DockerWorker{cli: cli, image: image}, nil
}

func (w *DockerWorker) Name() string { return "docker" }

func (w *DockerWorker) Execute(ctx context.Context, task Task) (ExecuteResult, error) {
	sessionName := fmt.Sprintf("cortex-engine-build-%s-%d", task.ID, time.Now().UnixNano())

	hostCtxDir := filepath.Join(os.TempDir(), "cortex-engine-ctx-"+sessionName)
	if err := os.MkdirAll(hostCtxDir, 0755); err != nil {
		return ExecuteResult{}, fmt.Errorf("buildworker: create context dir: %w", err)
	}
	defer os.RemoveAll(hostCtxDir)
	if err := os.WriteFile(filepath.Join(hostCtxDir, "instruction.txt"), []byte(task.Instruction), 0644); err != nil {
		return ExecuteResult{}, fmt.Errorf("buildworker: write instruction: %w", err)
	}

	workDirPath := task.WorkingDir
	if workDirPath == "" {
		workDirPath = filepath.Join(os.TempDir(), "cortex-engine-work-"+sessionName)
	}
	if err := os.MkdirAll(workDirPath, 0755); err != nil {
		return ExecuteResult{}, fmt.Errorf("buildworker: create workdir: %w", err)
	}

	containerConfig := &container.Config{
		Image:      w.image,
		Cmd:        []string{"sh", "/ctx/run.sh", "/ctx/instruction.txt"},
		WorkingDir: "/workspace",
	}
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: hostCtxDir, Target: "/ctx", ReadOnly: true},
			{Type: mount.TypeBind, Source: workDirPath, Target: "/workspace"},
		},
		AutoRemove: false,
	}

	start := time.Now()
	resp, err := w.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, sessionName)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("buildworker: create container: %w", err)
	}
	defer w.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})

	if err := w.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return ExecuteResult{}, fmt.Errorf("buildworker: start container: %w", err)
	}

	statusCh, errCh := w.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return ExecuteResult{}, fmt.Errorf("buildworker: container wait: %w", err)
		}
	case st := <-statusCh:
		exitCode = st.StatusCode
	}

	out, err := w.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("buildworker: container logs: %w", err)
	}
	defer out.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, out); err != nil && err != io.EOF {
		return ExecuteResult{}, fmt.Errorf("buildworker: demux logs: %w", err)
	}

	latency := time.Since(start).Milliseconds()
	if exitCode != 0 {
		return ExecuteResult{
			Output:    buf.String(),
			Success:   false,
			Error:     fmt.Sprintf("container exited with status %d", exitCode),
			LatencyMs: latency,
		}, nil
	}

	return ExecuteResult{
		Output:    buf.String(),
		Success:   true,
		Artifacts: []Artifact{{Type: ArtifactFile, Ref: workDirPath}},
		LatencyMs: latency,
	}, nil
}

// Check runs a lightweight review pass: for the docker-backed worker this
// is a pass/fail read of the build output rather than a second
// containerized review stage, since T0/T1 tasks don't warrant a second
// cross-model review round.
func (w *DockerWorker) Check(ctx context.Context, task Task, build BuildSummary) (CheckResult, error) {
	if build.Output == "" {
		return CheckResult{Approved: false, Issues: []string{"build produced no output"}, Summary: "empty build output"}, nil
	}
	return CheckResult{Approved: true, Summary: "docker build output non-empty"}, nil
}
