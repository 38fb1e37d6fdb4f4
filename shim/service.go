package shim

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	taskAPI "github.com/containerd/containerd/api/runtime/task/v2"
	tasktypes "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/containerd/protobuf"
	ptypes "github.com/containerd/containerd/v2/pkg/protobuf/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/containerd/v2/pkg/shutdown"
	"github.com/containerd/containerd/v2/plugins"
	"github.com/containerd/errdefs"
	"github.com/containerd/fifo"
	"github.com/containerd/log"
	"github.com/containerd/plugin"
	"github.com/containerd/plugin/registry"
	"github.com/containerd/ttrpc"
	"google.golang.org/protobuf/types/known/anypb"
)

func init() {
	registry.Register(&plugin.Registration{
		Type: plugins.TTRPCPlugin,
		ID:   "task",
		Requires: []plugin.Type{
			plugins.InternalPlugin,
		},
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			ss, err := ic.GetByID(plugins.InternalPlugin, "shutdown")
			if err != nil {
				return nil, err
			}
			return newTaskService(ic.Context, ss.(shutdown.Service))
		},
	})
}

// The interpreter is started through this script so that it is stopped
// before its first instruction and only runs once Start sends SIGCONT.
// Create returns only after the script has stopped.
const startStoppedScript = `
#!/bin/sh
kill -STOP $$
exec "$@"
`

const commandWaitDelay = 100 * time.Millisecond

// task is the interpreter process backing one container.
type task struct {
	pid     int
	started bool
	paused  bool

	// done is cancelled once the process has been reaped
	done       context.Context
	markDone   context.CancelFunc
	exitTime   time.Time
	exitStatus int

	stdin  string
	stdout string
	stderr string
	// closed by CloseIO, or after the process exits
	stdinFifo io.Closer
}

func (t *task) exited() bool {
	return t.done.Err() != nil
}

func (t *task) status() tasktypes.Status {
	switch {
	case t.exited():
		return tasktypes.Status_STOPPED
	case !t.started:
		return tasktypes.Status_CREATED
	case t.paused:
		return tasktypes.Status_PAUSED
	default:
		return tasktypes.Status_RUNNING
	}
}

func (t *task) String() string {
	if t.exited() {
		return fmt.Sprintf("pid:%d, exitTime:%s, exitStatus:%d", t.pid, t.exitTime.Format(time.RFC3339), t.exitStatus)
	}
	return fmt.Sprintf("pid:%d %s", t.pid, t.status())
}

type taskService struct {
	mu       sync.RWMutex
	tasks    map[string]*task
	shutdown shutdown.Service
	// runtime is the binary run with the brainfuck sub-command. Defaults to
	// this executable.
	runtime string
}

func newTaskService(ctx context.Context, sd shutdown.Service) (taskAPI.TaskService, error) {
	return &taskService{
		tasks:    make(map[string]*task, 1),
		shutdown: sd,
	}, nil
}

var (
	_ = shim.TTRPCService(&taskService{})
)

// RegisterTTRPC allows TTRPC services to be registered with the underlying server
func (s *taskService) RegisterTTRPC(server *ttrpc.Server) error {
	taskAPI.RegisterTaskService(server, s)
	return nil
}

func (s *taskService) get(id string) (*task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", id, errdefs.ErrNotFound)
	}
	return t, nil
}

func openFifo(ctx context.Context, path string, flag int) (io.ReadWriteCloser, error) {
	ok, err := fifo.IsFifo(path)
	if err != nil {
		return nil, fmt.Errorf("checking whether file %s is a fifo: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("file %s is not a fifo: %w", path, errdefs.ErrInvalidArgument)
	}
	f, err := fifo.OpenFifo(ctx, path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("opening fifo %s: %w", path, err)
	}
	return f, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}

// connectStdio wires the container's fifos to the command. Empty paths are
// left unconnected. An empty stderr shares stdout.
func connectStdio(ctx context.Context, cmd *exec.Cmd, t *task) (closers []io.Closer, retErr error) {
	defer func() {
		if retErr != nil {
			closeAll(closers)
		}
	}()

	if t.stdin != "" {
		f, err := openFifo(ctx, t.stdin, syscall.O_RDONLY)
		if err != nil {
			return closers, err
		}
		closers = append(closers, f)
		cmd.Stdin = f
		t.stdinFifo = f
	}

	if t.stdout != "" {
		f, err := openFifo(ctx, t.stdout, syscall.O_WRONLY)
		if err != nil {
			return closers, err
		}
		closers = append(closers, f)
		cmd.Stdout = f
	}

	switch t.stderr {
	case "":
		cmd.Stderr = cmd.Stdout
	case t.stdout:
		cmd.Stderr = cmd.Stdout
	default:
		f, err := openFifo(ctx, t.stderr, syscall.O_WRONLY)
		if err != nil {
			return closers, err
		}
		closers = append(closers, f)
		cmd.Stderr = f
	}
	return closers, nil
}

// Create a new container. The interpreter process is spawned stopped.
func (s *taskService) Create(ctx context.Context, r *taskAPI.CreateTaskRequest) (_ *taskAPI.CreateTaskResponse, retErr error) {
	log.G(ctx).WithField("id", r.ID).Debug("create (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[r.ID]; ok {
		return nil, errdefs.ErrAlreadyExists
	}

	config, err := ReadConfig(r.Bundle)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	scriptPath := filepath.Join(r.Bundle, "start-stopped.sh")
	if err := os.WriteFile(scriptPath, []byte(startStoppedScript), 0755); err != nil {
		return nil, fmt.Errorf("writing start-stopped.sh: %w", err)
	}

	runtime := s.runtime
	if runtime == "" {
		if runtime, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("getting executable of current process: %w", err)
		}
	}

	args := append([]string{scriptPath, runtime}, config.Args()...)
	cmd := exec.Command("/bin/sh", args...)
	cmd.WaitDelay = commandWaitDelay

	done, markDone := context.WithCancel(context.Background())
	t := &task{
		done:     done,
		markDone: markDone,
		stdin:    r.Stdin,
		stdout:   r.Stdout,
		stderr:   r.Stderr,
	}

	closers, err := connectStdio(ctx, cmd, t)
	if err != nil {
		markDone()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		closeAll(closers)
		markDone()
		return nil, fmt.Errorf("running init command: %w", err)
	}
	t.pid = cmd.Process.Pid

	// A SIGCONT sent by Start before the script has stopped itself would be
	// lost and leave the task stopped for good.
	if err := waitStopped(t.pid); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		closeAll(closers)
		markDone()
		return nil, err
	}
	s.tasks[r.ID] = t

	log.G(ctx).WithFields(log.Fields{
		"id":   r.ID,
		"pid":  t.pid,
		"args": config.Args(),
	}).Debug("created interpreter process")

	go s.reap(context.WithoutCancel(ctx), cmd, t, closers)

	if err := writePidFile(r.ID, t.pid); err != nil {
		log.G(ctx).WithError(err).Warn("failed to write pid file")
	}

	return &taskAPI.CreateTaskResponse{
		Pid: uint32(t.pid),
	}, nil
}

// reap waits for the interpreter process and records its exit.
func (s *taskService) reap(ctx context.Context, cmd *exec.Cmd, t *task, closers []io.Closer) {
	if err := cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			log.G(ctx).WithError(err).Errorf("failed to wait for init process %d", t.pid)
		}
	}
	closeAll(closers)

	exitStatus := 255
	if cmd.ProcessState != nil {
		switch ws := cmd.ProcessState.Sys().(syscall.WaitStatus); {
		case cmd.ProcessState.Exited():
			exitStatus = cmd.ProcessState.ExitCode()
		case ws.Signaled():
			exitStatus = exitCodeSignal + int(ws.Signal())
		}
	} else {
		log.G(ctx).Warn("init process wait returned without setting process state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t.exitStatus = exitStatus
	t.exitTime = time.Now()
	t.markDone()
	log.G(ctx).Debugf("init process exited: %s", t)
}

func (s *taskService) signal(ctx context.Context, t *task, sig syscall.Signal) error {
	if t.exited() || t.pid <= 0 {
		return nil
	}
	if err := syscall.Kill(t.pid, sig); err != nil {
		return fmt.Errorf("sending %s to init process %d: %w", sig, t.pid, err)
	}
	return nil
}

// Start the primary user process inside the container
func (s *taskService) Start(ctx context.Context, r *taskAPI.StartRequest) (*taskAPI.StartResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("start (service)")

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[r.ID]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", r.ID, errdefs.ErrNotFound)
	}
	if t.started {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("task %s already started", r.ID))
	}

	if err := s.signal(ctx, t, syscall.SIGCONT); err != nil {
		return nil, err
	}
	t.started = true

	return &taskAPI.StartResponse{
		Pid: uint32(t.pid),
	}, nil
}

// Delete a process or container
func (s *taskService) Delete(ctx context.Context, r *taskAPI.DeleteRequest) (*taskAPI.DeleteResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("delete (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[r.ID]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", r.ID, errdefs.ErrNotFound)
	}
	if !t.exited() {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("init process %d is not done yet", t.pid))
	}
	delete(s.tasks, r.ID)

	return &taskAPI.DeleteResponse{
		Pid:        uint32(t.pid),
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}

// Exec an additional process inside the container
func (s *taskService) Exec(ctx context.Context, r *taskAPI.ExecProcessRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("exec (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Exec (task)")
}

// ResizePty of a process
func (s *taskService) ResizePty(ctx context.Context, r *taskAPI.ResizePtyRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("resizepty (service)")
	return &ptypes.Empty{}, nil
}

// State returns runtime state of a process
func (s *taskService) State(ctx context.Context, r *taskAPI.StateRequest) (*taskAPI.StateResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("state (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[r.ID]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", r.ID, errdefs.ErrNotFound)
	}

	return &taskAPI.StateResponse{
		ID:         r.ID,
		Pid:        uint32(t.pid),
		Status:     t.status(),
		Stdin:      t.stdin,
		Stdout:     t.stdout,
		Stderr:     t.stderr,
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}

// Pause the container
func (s *taskService) Pause(ctx context.Context, r *taskAPI.PauseRequest) (*ptypes.Empty, error) {
	log.G(ctx).WithField("id", r.ID).Debug("pause (service)")

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[r.ID]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", r.ID, errdefs.ErrNotFound)
	}
	if t.status() != tasktypes.Status_RUNNING {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("task %s is %s", r.ID, t.status()))
	}
	if err := s.signal(ctx, t, syscall.SIGSTOP); err != nil {
		return nil, err
	}
	t.paused = true
	return &ptypes.Empty{}, nil
}

// Resume the container
func (s *taskService) Resume(ctx context.Context, r *taskAPI.ResumeRequest) (*ptypes.Empty, error) {
	log.G(ctx).WithField("id", r.ID).Debug("resume (service)")

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[r.ID]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", r.ID, errdefs.ErrNotFound)
	}
	if t.status() != tasktypes.Status_PAUSED {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("task %s is %s", r.ID, t.status()))
	}
	if err := s.signal(ctx, t, syscall.SIGCONT); err != nil {
		return nil, err
	}
	t.paused = false
	return &ptypes.Empty{}, nil
}

// Kill a process
func (s *taskService) Kill(ctx context.Context, r *taskAPI.KillRequest) (*ptypes.Empty, error) {
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	sig := syscall.Signal(r.Signal)
	if sig == 0 {
		sig = syscall.SIGKILL
	}
	log.G(ctx).WithFields(log.Fields{
		"id":     r.ID,
		"pid":    t.pid,
		"signal": sig,
	}).Debug("kill (service)")

	if t.exited() {
		log.G(ctx).Warnf("task already exited: %s", r.ID)
		return &ptypes.Empty{}, nil
	}
	if !processAlive(t.pid) {
		return &ptypes.Empty{}, nil
	}
	if err := s.signal(ctx, t, sig); err != nil {
		log.G(ctx).WithError(err).Errorf("failed to send kill syscall to init process %s", r.ID)
		return nil, err
	}
	return &ptypes.Empty{}, nil
}

// Pids returns all pids inside the container
func (s *taskService) Pids(ctx context.Context, r *taskAPI.PidsRequest) (*taskAPI.PidsResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("pids (service)")

	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	var processes []*tasktypes.ProcessInfo
	if !t.exited() {
		processes = append(processes, &tasktypes.ProcessInfo{Pid: uint32(t.pid)})
	}
	return &taskAPI.PidsResponse{
		Processes: processes,
	}, nil
}

// CloseIO of a process
func (s *taskService) CloseIO(ctx context.Context, r *taskAPI.CloseIORequest) (*ptypes.Empty, error) {
	log.G(ctx).WithField("id", r.ID).Debug("closeio (service)")

	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if r.Stdin && t.stdinFifo != nil {
		if err := t.stdinFifo.Close(); err != nil {
			return nil, fmt.Errorf("closing stdin of task %s: %w", r.ID, err)
		}
	}
	return &ptypes.Empty{}, nil
}

// Checkpoint the container
func (s *taskService) Checkpoint(ctx context.Context, r *taskAPI.CheckpointTaskRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("checkpoint (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Checkpoint (task)")
}

// Connect returns shim information of the underlying service
func (s *taskService) Connect(ctx context.Context, r *taskAPI.ConnectRequest) (*taskAPI.ConnectResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("connect (service)")

	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	return &taskAPI.ConnectResponse{
		ShimPid: uint32(os.Getpid()),
		TaskPid: uint32(t.pid),
	}, nil
}

// Shutdown is called after the underlying resources of the shim are cleaned
// up. The shim only exits once every task has been deleted.
func (s *taskService) Shutdown(ctx context.Context, r *taskAPI.ShutdownRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("shutdown (service)")

	s.mu.RLock()
	remaining := len(s.tasks)
	s.mu.RUnlock()
	if remaining > 0 {
		log.G(ctx).Debugf("not shutting down: %d tasks remaining", remaining)
		return &ptypes.Empty{}, nil
	}

	s.shutdown.Shutdown()
	return &ptypes.Empty{}, nil
}

// Stats returns container level system stats for a container and its processes
func (s *taskService) Stats(ctx context.Context, r *taskAPI.StatsRequest) (*taskAPI.StatsResponse, error) {
	log.G(ctx).Debug("stats (service)")
	return &taskAPI.StatsResponse{
		Stats: &anypb.Any{},
	}, nil
}

// Update the live container
func (s *taskService) Update(ctx context.Context, r *taskAPI.UpdateTaskRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("update (service)")
	return nil, errdefs.ErrAborted.WithMessage("Update (task)")
}

// Wait for a process to exit
func (s *taskService) Wait(ctx context.Context, r *taskAPI.WaitRequest) (*taskAPI.WaitResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("wait (service)")

	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done.Done():
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return &taskAPI.WaitResponse{
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}
