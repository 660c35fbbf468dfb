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
		Type:     plugins.TTRPCPlugin,
		ID:       "task",
		Requires: []plugin.Type{plugins.InternalPlugin},
		InitFn:   initTaskService,
	})
}

// initTaskService builds the task service on top of the shim's shutdown
// plugin, which the reaper triggers once every task has exited.
func initTaskService(ic *plugin.InitContext) (interface{}, error) {
	sd, err := ic.GetByID(plugins.InternalPlugin, "shutdown")
	if err != nil {
		return nil, fmt.Errorf("getting shutdown service: %w", err)
	}
	return newTaskService(ic.Context, sd.(shutdown.Service))
}

// Stops itself so that the interpreter only begins once Start sends SIGCONT.
const startStoppedScript = `#!/bin/sh
kill -STOP $$
exec "$@"
`

const commandWaitDelay = 100 * time.Millisecond

// task is the interpreter process backing one container.
type task struct {
	pid int

	done       context.Context
	exitTime   time.Time
	exitStatus int

	stdin  string
	stdout string
	stderr string

	stdinOnce sync.Once
	stdinFifo io.Closer
}

func (t *task) closeStdin() {
	t.stdinOnce.Do(func() {
		if t.stdinFifo != nil {
			t.stdinFifo.Close()
		}
	})
}

func (t *task) String() string {
	if t.done.Err() != nil {
		return fmt.Sprintf("pid:%d, exitTime:%s, exitStatus:%d", t.pid, t.exitTime.Format(time.RFC3339), t.exitStatus)
	}
	return fmt.Sprintf("pid:%d running", t.pid)
}

type service struct {
	mu       sync.RWMutex
	tasks    map[string]*task
	shutdown shutdown.Service
}

func newTaskService(ctx context.Context, sd shutdown.Service) (taskAPI.TaskService, error) {
	return &service{
		tasks:    make(map[string]*task, 1),
		shutdown: sd,
	}, nil
}

var (
	_ = shim.TTRPCService(&service{})
)

// RegisterTTRPC allows TTRPC services to be registered with the underlying server
func (s *service) RegisterTTRPC(server *ttrpc.Server) error {
	taskAPI.RegisterTaskService(server, s)
	return nil
}

func unsupported(ctx context.Context, op string) error {
	log.G(ctx).Debugf("%s (service) is not supported", op)
	return errdefs.ErrNotImplemented.WithMessage(op + " is not supported by the ook runtime")
}

func (s *service) get(id string) (*task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", id, errdefs.ErrNotFound)
	}
	return t, nil
}

// openFifo opens a containerd-provided stdio fifo. An empty path means the
// stream is not attached.
func openFifo(ctx context.Context, path string, flag int) (io.ReadWriteCloser, error) {
	if path == "" {
		return nil, nil
	}
	ok, err := fifo.IsFifo(path)
	if err != nil {
		return nil, fmt.Errorf("checking whether file %s is a fifo: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("file %s is not a fifo", path)
	}
	f, err := fifo.OpenFifo(ctx, path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("opening fifo %s: %w", path, err)
	}
	return f, nil
}

// Create a new container
func (s *service) Create(ctx context.Context, r *taskAPI.CreateTaskRequest) (_ *taskAPI.CreateTaskResponse, retErr error) {
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

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("getting executable of current process: %w", err)
	}

	// The child outlives this request.
	runCtx := context.WithoutCancel(ctx)

	args := append([]string{scriptPath, self, InterpreterArg}, config.InterpreterArgs()...)
	cmd := exec.CommandContext(runCtx, "/bin/sh", args...)
	cmd.Dir = config.Root
	cmd.WaitDelay = commandWaitDelay

	var closers []io.Closer
	defer func() {
		if retErr != nil {
			for _, c := range closers {
				c.Close()
			}
		}
	}()

	var stdinFifo io.Closer
	stderrPath := r.Stderr
	if stderrPath == "" {
		stderrPath = r.Stdout
	}
	streams := []struct {
		path  string
		flag  int
		apply func(io.ReadWriteCloser)
	}{
		{r.Stdout, syscall.O_WRONLY, func(f io.ReadWriteCloser) { cmd.Stdout = f }},
		{stderrPath, syscall.O_WRONLY, func(f io.ReadWriteCloser) { cmd.Stderr = f }},
		{r.Stdin, syscall.O_RDONLY, func(f io.ReadWriteCloser) { cmd.Stdin, stdinFifo = f, f }},
	}
	for _, stream := range streams {
		f, err := openFifo(runCtx, stream.path, stream.flag)
		if err != nil {
			return nil, err
		}
		if f == nil {
			continue
		}
		closers = append(closers, f)
		stream.apply(f)
	}

	// Start the process (in a suspended state)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("running init command: %w", err)
	}
	pid := cmd.Process.Pid

	done, markDone := context.WithCancel(context.Background())
	t := &task{
		pid:       pid,
		done:      done,
		stdin:     r.Stdin,
		stdout:    r.Stdout,
		stderr:    r.Stderr,
		stdinFifo: stdinFifo,
	}
	s.tasks[r.ID] = t

	go s.reap(runCtx, r.ID, cmd, markDone, closers)

	if cwd, err := os.Getwd(); err == nil {
		if err := writePidFile(pidFilePath(cwd, r.ID), pid); err != nil {
			log.G(ctx).WithError(err).Warn("failed to write init pid file")
		}
	}

	return &taskAPI.CreateTaskResponse{
		Pid: uint32(pid),
	}, nil
}

// reap waits for the interpreter to exit, records its status and shuts the
// shim down once every task is done.
func (s *service) reap(ctx context.Context, id string, cmd *exec.Cmd, markDone func(), closers []io.Closer) {
	pid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			log.G(ctx).WithError(err).Errorf("failed to wait for init process %d", pid)
		}
	}
	for _, c := range closers {
		c.Close()
	}

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
	log.G(ctx).WithField("id", id).Debugf("init process %d exited with status %d", pid, exitStatus)

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		log.G(ctx).Errorf("failed to write final status of done init process: task %s was removed", id)
		markDone()
		return
	}
	t.exitStatus = exitStatus
	t.exitTime = time.Now()
	markDone()

	if s.allExited() {
		log.G(ctx).Debug("all tasks exited. shutting down the shim")
		s.shutdown.Shutdown()
	}
}

// allExited must be called with s.mu held.
func (s *service) allExited() bool {
	for _, t := range s.tasks {
		if t.done.Err() == nil {
			return false
		}
	}
	return true
}

// Start the primary user process inside the container
func (s *service) Start(ctx context.Context, r *taskAPI.StartRequest) (*taskAPI.StartResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("start (service)")

	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	if err := syscall.Kill(t.pid, syscall.SIGCONT); err != nil {
		return nil, fmt.Errorf("resuming init process %d: %w", t.pid, err)
	}

	return &taskAPI.StartResponse{
		Pid: uint32(t.pid),
	}, nil
}

// Delete a process or container
func (s *service) Delete(ctx context.Context, r *taskAPI.DeleteRequest) (*taskAPI.DeleteResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("delete (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[r.ID]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", r.ID, errdefs.ErrNotFound)
	}
	if t.done.Err() == nil {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("init process %d is not done yet", t.pid))
	}
	delete(s.tasks, r.ID)

	return &taskAPI.DeleteResponse{
		Pid:        uint32(t.pid),
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}

func (s *service) Exec(ctx context.Context, r *taskAPI.ExecProcessRequest) (*ptypes.Empty, error) {
	return nil, unsupported(ctx, "exec")
}

// ResizePty of a process
func (s *service) ResizePty(ctx context.Context, r *taskAPI.ResizePtyRequest) (*ptypes.Empty, error) {
	return &ptypes.Empty{}, nil
}

// State returns runtime state of a process
func (s *service) State(ctx context.Context, r *taskAPI.StateRequest) (*taskAPI.StateResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("state (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[r.ID]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", r.ID, errdefs.ErrNotFound)
	}

	status := tasktypes.Status_RUNNING
	if t.done.Err() != nil {
		status = tasktypes.Status_STOPPED
	}

	return &taskAPI.StateResponse{
		ID:         r.ID,
		Pid:        uint32(t.pid),
		Status:     status,
		Stdin:      t.stdin,
		Stdout:     t.stdout,
		Stderr:     t.stderr,
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}

func (s *service) Pause(ctx context.Context, r *taskAPI.PauseRequest) (*ptypes.Empty, error) {
	return nil, unsupported(ctx, "pause")
}

func (s *service) Resume(ctx context.Context, r *taskAPI.ResumeRequest) (*ptypes.Empty, error) {
	return nil, unsupported(ctx, "resume")
}

// Kill delivers the signal and returns; Wait is what blocks until exit.
// A signal sent before Start stays pending until the task is resumed.
func (s *service) Kill(ctx context.Context, r *taskAPI.KillRequest) (*ptypes.Empty, error) {
	log.G(ctx).WithField("id", r.ID).Debugf("kill (service) sig:%d", r.Signal)

	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	if t.done.Err() != nil {
		log.G(ctx).Warnf("task already exited: %s", r.ID)
		return &ptypes.Empty{}, nil
	}

	sig := syscall.SIGKILL
	if r.Signal != 0 {
		sig = syscall.Signal(r.Signal)
	}
	if t.pid > 0 {
		if err := syscall.Kill(t.pid, sig); err != nil && err != syscall.ESRCH {
			log.G(ctx).WithError(err).Errorf("failed to send %s to init process %s", sig, r.ID)
			return nil, fmt.Errorf("sending %s to init process: %w", sig, err)
		}
	}
	return &ptypes.Empty{}, nil
}

// Pids lists the interpreter process; a task never has more than one.
func (s *service) Pids(ctx context.Context, r *taskAPI.PidsRequest) (*taskAPI.PidsResponse, error) {
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	return &taskAPI.PidsResponse{
		Processes: []*tasktypes.ProcessInfo{{Pid: uint32(t.pid)}},
	}, nil
}

// CloseIO closes the task's stdin fifo so that a pending input instruction
// sees the end of the stream.
func (s *service) CloseIO(ctx context.Context, r *taskAPI.CloseIORequest) (*ptypes.Empty, error) {
	log.G(ctx).WithField("id", r.ID).Debug("closeio (service)")

	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if r.Stdin {
		t.closeStdin()
	}
	return &ptypes.Empty{}, nil
}

func (s *service) Checkpoint(ctx context.Context, r *taskAPI.CheckpointTaskRequest) (*ptypes.Empty, error) {
	return nil, unsupported(ctx, "checkpoint")
}

// Connect returns shim information of the underlying service
func (s *service) Connect(ctx context.Context, r *taskAPI.ConnectRequest) (*taskAPI.ConnectResponse, error) {
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	return &taskAPI.ConnectResponse{
		ShimPid: uint32(os.Getpid()),
		TaskPid: uint32(t.pid),
	}, nil
}

// Shutdown is called after the underlying resources of the shim are cleaned up and the service can be stopped
func (s *service) Shutdown(ctx context.Context, r *taskAPI.ShutdownRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("shutdown (service)")
	s.shutdown.Shutdown()
	return &ptypes.Empty{}, nil
}

// Stats returns container level system stats for a container and its processes
func (s *service) Stats(ctx context.Context, r *taskAPI.StatsRequest) (*taskAPI.StatsResponse, error) {
	return &taskAPI.StatsResponse{
		Stats: &anypb.Any{},
	}, nil
}

func (s *service) Update(ctx context.Context, r *taskAPI.UpdateTaskRequest) (*ptypes.Empty, error) {
	return nil, unsupported(ctx, "update")
}

// Wait for a process to exit
func (s *service) Wait(ctx context.Context, r *taskAPI.WaitRequest) (*taskAPI.WaitResponse, error) {
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
	if _, ok := s.tasks[r.ID]; !ok {
		return nil, fmt.Errorf("task %s was removed: %w", r.ID, errdefs.ErrNotFound)
	}

	return &taskAPI.WaitResponse{
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}
