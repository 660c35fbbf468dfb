package shim

import (
	"context"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	taskAPI "github.com/containerd/containerd/api/runtime/task/v2"
	tasktypes "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/errdefs"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type countingCloser struct{ closed int }

func (c *countingCloser) Close() error {
	c.closed++
	return nil
}

var _ = Describe("Task service", func() {
	var (
		ctx context.Context
		s   *service
	)

	addTask := func(id string, pid int, exited bool) {
		done, markDone := context.WithCancel(context.Background())
		t := &task{pid: pid, done: done, stdout: "/run/" + id + "/stdout"}
		if exited {
			t.exitStatus = 3
			markDone()
		} else {
			DeferCleanup(markDone)
		}
		s.tasks[id] = t
	}

	BeforeEach(func() {
		ctx = context.Background()
		ts, err := newTaskService(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		s = ts.(*service)
	})

	It("should report unknown tasks as not found", func() {
		_, err := s.State(ctx, &taskAPI.StateRequest{ID: "nope"})
		Expect(errdefs.IsNotFound(err)).To(BeTrue())
		_, err = s.Delete(ctx, &taskAPI.DeleteRequest{ID: "nope"})
		Expect(errdefs.IsNotFound(err)).To(BeTrue())
		_, err = s.Wait(ctx, &taskAPI.WaitRequest{ID: "nope"})
		Expect(errdefs.IsNotFound(err)).To(BeTrue())
		_, err = s.Connect(ctx, &taskAPI.ConnectRequest{ID: "nope"})
		Expect(errdefs.IsNotFound(err)).To(BeTrue())
		_, err = s.Kill(ctx, &taskAPI.KillRequest{ID: "nope"})
		Expect(errdefs.IsNotFound(err)).To(BeTrue())
	})

	It("should report a running task", func() {
		addTask("running", 1234, false)
		resp, err := s.State(ctx, &taskAPI.StateRequest{ID: "running"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(tasktypes.Status_RUNNING))
		Expect(resp.Pid).To(Equal(uint32(1234)))
		Expect(resp.Stdout).To(Equal("/run/running/stdout"))

		_, err = s.Delete(ctx, &taskAPI.DeleteRequest{ID: "running"})
		Expect(errdefs.IsFailedPrecondition(err)).To(BeTrue())
	})

	It("should report and delete an exited task", func() {
		addTask("exited", 1234, true)
		state, err := s.State(ctx, &taskAPI.StateRequest{ID: "exited"})
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Status).To(Equal(tasktypes.Status_STOPPED))

		wait, err := s.Wait(ctx, &taskAPI.WaitRequest{ID: "exited"})
		Expect(err).NotTo(HaveOccurred())
		Expect(wait.ExitStatus).To(Equal(uint32(3)))

		_, err = s.Kill(ctx, &taskAPI.KillRequest{ID: "exited"})
		Expect(err).NotTo(HaveOccurred())

		del, err := s.Delete(ctx, &taskAPI.DeleteRequest{ID: "exited"})
		Expect(err).NotTo(HaveOccurred())
		Expect(del.ExitStatus).To(Equal(uint32(3)))
		Expect(s.tasks).NotTo(HaveKey("exited"))
	})

	It("should stop waiting when the request is cancelled", func() {
		addTask("running", 1234, false)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.Wait(cctx, &taskAPI.WaitRequest{ID: "running"})
		Expect(err).To(MatchError(context.Canceled))
	})

	It("should return from kill without waiting for the task to exit", func() {
		cmd := exec.Command("sleep", "5")
		Expect(cmd.Start()).To(Succeed())
		DeferCleanup(func() {
			cmd.Process.Kill()
			cmd.Wait()
		})
		addTask("sleeper", cmd.Process.Pid, false)

		kctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		started := time.Now()
		_, err := s.Kill(kctx, &taskAPI.KillRequest{ID: "sleeper", Signal: uint32(syscall.SIGWINCH)})
		Expect(err).NotTo(HaveOccurred())
		Expect(time.Since(started)).To(BeNumerically("<", 500*time.Millisecond))
		Expect(cmd.Process.Signal(syscall.Signal(0))).To(Succeed())
	})

	It("should list the interpreter process", func() {
		addTask("running", 1234, false)
		resp, err := s.Pids(ctx, &taskAPI.PidsRequest{ID: "running"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Processes).To(HaveLen(1))
		Expect(resp.Processes[0].Pid).To(Equal(uint32(1234)))

		_, err = s.Pids(ctx, &taskAPI.PidsRequest{ID: "nope"})
		Expect(errdefs.IsNotFound(err)).To(BeTrue())
	})

	It("should close stdin once", func() {
		addTask("running", 1234, false)
		stdin := &countingCloser{}
		s.tasks["running"].stdinFifo = stdin

		_, err := s.CloseIO(ctx, &taskAPI.CloseIORequest{ID: "running"})
		Expect(err).NotTo(HaveOccurred())
		Expect(stdin.closed).To(Equal(0))

		for range 2 {
			_, err = s.CloseIO(ctx, &taskAPI.CloseIORequest{ID: "running", Stdin: true})
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(stdin.closed).To(Equal(1))
	})

	It("should track whether every task exited", func() {
		Expect(s.allExited()).To(BeTrue())
		addTask("a", 1, true)
		Expect(s.allExited()).To(BeTrue())
		addTask("b", 2, false)
		Expect(s.allExited()).To(BeFalse())
	})

	It("should refuse unsupported operations", func() {
		_, err := s.Exec(ctx, &taskAPI.ExecProcessRequest{ID: "x"})
		Expect(errdefs.IsNotImplemented(err)).To(BeTrue())
		_, err = s.Pause(ctx, &taskAPI.PauseRequest{ID: "x"})
		Expect(errdefs.IsNotImplemented(err)).To(BeTrue())
		_, err = s.Update(ctx, &taskAPI.UpdateTaskRequest{ID: "x"})
		Expect(errdefs.IsNotImplemented(err)).To(BeTrue())

		stats, err := s.Stats(ctx, &taskAPI.StatsRequest{ID: "x"})
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Stats).NotTo(BeNil())
	})
})

var _ = Describe("Manager", func() {
	It("should describe the runtime", func() {
		m := NewManager(RuntimeName)
		Expect(m.Name()).To(Equal("io.containerd.ook.v1"))
		info, err := m.Info(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Name).To(Equal(RuntimeName))
		Expect(info.Version.Version).To(Equal(runtimeVersion))
	})

	It("should round-trip the pid file", func() {
		dir := GinkgoT().TempDir()
		path := pidFilePath(filepath.Join(dir, "shim"), "task")
		Expect(path).To(Equal(filepath.Join(dir, "task", initPidFile)))

		Expect(writePidFile(filepath.Join(dir, initPidFile), 4321)).To(Succeed())
		pid, err := readPidFile(filepath.Join(dir, initPidFile))
		Expect(err).NotTo(HaveOccurred())
		Expect(pid).To(Equal(4321))
	})

	It("should accept only Ook! sources", func() {
		Expect(isSource("/hello.ook")).To(BeTrue())
		Expect(isSource("hello.ok")).To(BeTrue())
		Expect(isSource("hello.bf")).To(BeFalse())
	})
})
