package shim

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	apitypes "github.com/containerd/containerd/api/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/log"
)

const (
	// RuntimeName is the containerd runtime this shim registers as.
	RuntimeName = "io.containerd.ook.v1"
	// InterpreterArg switches the shim binary into interpreter mode.
	InterpreterArg = "ook"

	// https://pubs.opengroup.org/onlinepubs/9699919799/utilities/V3_chap02.html#tag_18_21_18
	exitCodeSignal = 128
	initPidFile    = "ook.pid"
	runtimeVersion = "v0.1.0"
)

// comptime override for debug flag
// set with `-ldflags="-X 'github.com/MarcinKonowalczyk/runook/shim.debug=true'"`
var debug string

type manager struct {
	name string
}

func NewManager(name string) shim.Manager {
	return manager{name: name}
}

var (
	_ = shim.Manager(&manager{})
)

func (m manager) Name() string {
	return m.name
}

func (m manager) Start(ctx context.Context, id string, opts shim.StartOpts) (retShim shim.BootstrapParams, retErr error) {
	log.G(ctx).WithField("id", id).Debug("start (manager)")

	self, err := os.Executable()
	if err != nil {
		return retShim, fmt.Errorf("getting executable of current process: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return retShim, fmt.Errorf("getting current working directory: %w", err)
	}

	var args []string
	if opts.Debug || debug != "" {
		args = append(args, "-debug")
	}

	cmd, err := shim.Command(ctx, &shim.CommandConfig{
		Runtime:      self,
		Address:      opts.Address,
		TTRPCAddress: opts.TTRPCAddress,
		Path:         cwd,
		Args:         args,
	})
	if err != nil {
		return retShim, fmt.Errorf("creating shim command: %w", err)
	}

	sockAddr, sockF, err := listen(ctx, opts, id)
	if err != nil {
		return retShim, err
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, sockF)

	if err := startLocked(cmd); err != nil {
		sockF.Close()
		return retShim, err
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				log.G(ctx).WithError(err).Errorf("failed to wait for shim process %d", cmd.Process.Pid)
			}
		}
	}()

	if err := shim.AdjustOOMScore(cmd.Process.Pid); err != nil {
		return retShim, fmt.Errorf("adjusting shim process OOM score: %w", err)
	}

	return shim.BootstrapParams{
		Version:  2,
		Address:  sockAddr,
		Protocol: "ttrpc",
	}, nil
}

// listen creates the task socket containerd will dial and returns its address
// along with the listening file to hand to the shim process.
func listen(ctx context.Context, opts shim.StartOpts, id string) (string, *os.File, error) {
	addr, err := shim.SocketAddress(ctx, opts.Address, id, opts.Debug)
	if err != nil {
		return "", nil, fmt.Errorf("getting a socket address: %w", err)
	}
	l, err := shim.NewSocket(addr)
	if err != nil {
		return "", nil, fmt.Errorf("creating socket %s: %w", addr, err)
	}
	f, err := l.File()
	if err != nil {
		l.Close()
		return "", nil, fmt.Errorf("getting shim socket file descriptor: %w", err)
	}
	return addr, f, nil
}

// startLocked starts cmd with the calling goroutine pinned to its OS thread.
func startLocked(cmd *exec.Cmd) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting shim command: %w", err)
	}
	return nil
}

func (m manager) Stop(ctx context.Context, id string) (shim.StopStatus, error) {
	log.G(ctx).WithField("id", id).Debug("stop (manager)")

	cwd, err := os.Getwd()
	if err != nil {
		return shim.StopStatus{}, fmt.Errorf("getting current working directory: %w", err)
	}

	pid, err := readPidFile(pidFilePath(cwd, id))
	if err != nil {
		return shim.StopStatus{}, fmt.Errorf("reading pid file: %w", err)
	}

	if pid > 0 {
		p, _ := os.FindProcess(pid)
		// The POSIX standard specifies that a null-signal can be sent to check
		// whether a PID is valid.
		if err := p.Signal(syscall.Signal(0)); err == nil {
			if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
				log.G(ctx).WithError(err).Warnf("failed to send kill syscall to init process %d", pid)
			}
		}
	}

	return shim.StopStatus{
		Pid:        pid,
		ExitedAt:   time.Now(),
		ExitStatus: int(exitCodeSignal + syscall.SIGKILL),
	}, nil
}

func (m manager) Info(ctx context.Context, optionsR io.Reader) (*apitypes.RuntimeInfo, error) {
	log.G(ctx).Debug("info (manager)")
	return &apitypes.RuntimeInfo{
		Name: m.name,
		Version: &apitypes.RuntimeVersion{
			Version: runtimeVersion,
		},
	}, nil
}

// The pid file lives in the task's bundle, a sibling of the shim's working
// directory.
func pidFilePath(cwd, id string) string {
	return filepath.Join(filepath.Dir(cwd), id, initPidFile)
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// If containerd needs to resort to calling the shim's "stop" command to
// clean things up, having the process' pid readable from a file is the
// only way for it to know what init process is associated with the task.
func writePidFile(path string, pid int) error {
	if err := shim.WritePidFile(path, pid); err != nil {
		return fmt.Errorf("writing pid file of init process: %w", err)
	}

	// rw-r--r--
	if err := os.Chmod(path, 0644); err != nil {
		return fmt.Errorf("changing pid file permissions: %w", err)
	}
	return nil
}
