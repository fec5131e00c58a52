package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/seantiz/foreman/internal/model"
	"github.com/seantiz/foreman/internal/store"
)

const (
	// notifyMountDir is where the host socket directory is bind-mounted
	// inside the container.
	notifyMountDir = "/run/foreman"

	// defaultNotifyPath is the guest path of the foreman-notify helper.
	defaultNotifyPath = "/usr/local/bin/foreman-notify"

	// defaultStopTimeout bounds graceful container stop.
	defaultStopTimeout = 5 * time.Second
)

// ContainerAPI is the subset of the Docker engine client the container
// worker uses. *client.Client satisfies it.
type ContainerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error)
	ContainerExecStart(ctx context.Context, execID string, options container.ExecStartOptions) error
}

// ContainerConfig parameterizes the container worker flavor.
type ContainerConfig struct {
	// Image is the container image to run. It must carry the
	// foreman-notify helper at NotifyPath.
	Image string

	// SocketDir is a host directory bind-mounted into the container for
	// per-task notify sockets.
	SocketDir string

	// NotifyPath is the guest path of the foreman-notify helper.
	NotifyPath string

	StopTimeout time.Duration

	// API overrides the Docker engine client; nil means a real client is
	// created at Start from the environment.
	API ContainerAPI
}

// ContainerWorker manages one long-lived container and executes commands
// inside it via exec calls. Completion is tracked through an out-of-band
// socket notification rather than by parsing exec output: the injected
// foreman-notify wrapper runs the command and writes a single completion
// frame to a unix socket bind-mounted from the host.
type ContainerWorker struct {
	id      string
	cfg     ContainerConfig
	logger  *slog.Logger
	results store.ResultStore
	pub     PublishFunc

	execMu sync.Mutex

	mu          sync.Mutex
	status      model.WorkerStatus
	api         ContainerAPI
	containerID string
	stopped     bool
}

// NewContainerWorker constructs a container worker. It satisfies the
// registry Constructor signature.
func NewContainerWorker(id string, deps Deps) (Worker, error) {
	cfg := deps.Container
	if strings.TrimSpace(cfg.Image) == "" {
		return nil, fmt.Errorf("%w: container image is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(cfg.SocketDir) == "" {
		return nil, fmt.Errorf("%w: container socket dir is required", ErrInvalidArgument)
	}
	if cfg.NotifyPath == "" {
		cfg.NotifyPath = defaultNotifyPath
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &ContainerWorker{
		id:      id,
		cfg:     cfg,
		logger:  deps.Logger.With("worker_id", id, "worker_type", TypeContainer),
		results: deps.Results,
		pub:     deps.Publish,
		status:  model.StatusPending,
		api:     cfg.API,
	}, nil
}

func (w *ContainerWorker) ID() string   { return w.id }
func (w *ContainerWorker) Type() string { return TypeContainer }

// Status returns the worker's current lifecycle state.
func (w *ContainerWorker) Status() model.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *ContainerWorker) setStatus(to model.WorkerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if model.ValidTransition(w.status, to) {
		w.status = to
	}
}

// Start creates and starts the worker's container with the notify socket
// directory bind-mounted in.
func (w *ContainerWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.containerID != "" {
		w.mu.Unlock()
		return nil
	}
	w.status = model.StatusStarting

	if w.api == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			w.status = model.StatusFailed
			w.mu.Unlock()
			return fmt.Errorf("%w: create docker client: %w", ErrContainerStart, err)
		}
		w.api = cli
	}
	api := w.api
	w.mu.Unlock()

	resp, err := api.ContainerCreate(ctx,
		&container.Config{
			Image: w.cfg.Image,
			// Keep the container alive between exec calls.
			Cmd:    []string{"sleep", "infinity"},
			Labels: map[string]string{"foreman.worker_id": w.id},
		},
		&container.HostConfig{
			Binds: []string{w.cfg.SocketDir + ":" + notifyMountDir},
		},
		nil, nil, "foreman-"+w.id,
	)
	if err != nil {
		w.setFailed()
		return fmt.Errorf("%w: create container: %w", ErrContainerStart, err)
	}

	if err := api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		w.setFailed()
		return fmt.Errorf("%w: start container: %w", ErrContainerStart, err)
	}

	w.mu.Lock()
	w.containerID = resp.ID
	if model.ValidTransition(w.status, model.StatusRunning) {
		w.status = model.StatusRunning
	}
	w.mu.Unlock()

	w.logger.Info("container worker started", "image", w.cfg.Image, "container_id", resp.ID)
	return nil
}

func (w *ContainerWorker) setFailed() {
	w.mu.Lock()
	if model.ValidTransition(w.status, model.StatusFailed) {
		w.status = model.StatusFailed
	}
	w.mu.Unlock()
}

// Execute runs one command inside the container and awaits the
// out-of-band completion frame, bounded by timeout.
func (w *ContainerWorker) Execute(ctx context.Context, command string, timeout time.Duration) (*model.WorkerResult, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("%w: command is required", ErrInvalidArgument)
	}

	if !w.execMu.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrWorkerBusy, w.id)
	}
	defer w.execMu.Unlock()

	w.mu.Lock()
	api := w.api
	containerID := w.containerID
	w.mu.Unlock()
	if containerID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, w.id)
	}

	started := time.Now().UTC()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	finish := func(status model.WorkerStatus, content, errText string) *model.WorkerResult {
		completed := time.Now().UTC()
		r := &model.WorkerResult{
			WorkerID:        w.id,
			Status:          status,
			Content:         content,
			Error:           errText,
			StartedAt:       started,
			CompletedAt:     &completed,
			DurationSeconds: completed.Sub(started).Seconds(),
			Metadata:        map[string]string{"container_id": containerID},
		}
		persistResult(w.logger, w.results, TypeContainer, r)
		return r
	}

	taskID := model.NewID()
	sockName := taskID + ".sock"
	listener, err := NewNotifyListener(filepath.Join(w.cfg.SocketDir, sockName))
	if err != nil {
		return nil, fmt.Errorf("create notify listener: %w", err)
	}
	defer listener.Close()

	execResp, err := api.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:    []string{w.cfg.NotifyPath, notifyMountDir + "/" + sockName, command},
		Detach: true,
	})
	if err != nil {
		w.setFailed()
		return finish(model.StatusFailed, "", fmt.Sprintf("create exec: %v", err)), nil
	}

	if err := api.ContainerExecStart(ctx, execResp.ID, container.ExecStartOptions{Detach: true}); err != nil {
		w.setFailed()
		return finish(model.StatusFailed, "", fmt.Sprintf("start exec: %v", err)), nil
	}

	frame, err := listener.Await(ctx)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			// Terminate the container asynchronously; the exec inside it
			// cannot be killed on its own.
			go w.teardown(context.Background())
			w.setStatus(model.StatusTimeout)
			w.logger.Warn("command timed out", "timeout", timeout)
			return finish(model.StatusTimeout, "", fmt.Sprintf("command timed out after %s", timeout)), nil
		}
		w.setFailed()
		return finish(model.StatusFailed, "", fmt.Sprintf("await completion: %v", err)), nil
	}

	if w.pub != nil {
		for _, line := range strings.Split(strings.TrimRight(frame.Output, "\n"), "\n") {
			w.pub(w.id, SourceExec, line)
		}
	}

	if frame.ExitCode != 0 || frame.Error != "" {
		errText := frame.Error
		if errText == "" {
			errText = fmt.Sprintf("command exited with code %d", frame.ExitCode)
		}
		w.setStatus(model.StatusFailed)
		return finish(model.StatusFailed, frame.Output, errText), nil
	}

	w.setStatus(model.StatusCompleted)
	return finish(model.StatusCompleted, frame.Output, ""), nil
}

// teardown stops and removes the container, logging failures.
func (w *ContainerWorker) teardown(ctx context.Context) {
	w.mu.Lock()
	api := w.api
	containerID := w.containerID
	w.containerID = ""
	w.mu.Unlock()

	if api == nil || containerID == "" {
		return
	}

	stopSeconds := int(w.cfg.StopTimeout.Seconds())
	if err := api.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &stopSeconds}); err != nil {
		w.logger.Warn("stop container", "container_id", containerID, "error", err)
	}
	if err := api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		w.logger.Warn("remove container", "container_id", containerID, "error", err)
	}
}

// Stop stops and removes the container. Idempotent; never errors on a
// container that is already gone.
func (w *ContainerWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	w.teardown(ctx)
	w.setStatus(model.StatusStopped)
	w.logger.Info("container worker stopped")
	return nil
}
