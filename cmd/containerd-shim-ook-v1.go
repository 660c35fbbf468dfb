package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarcinKonowalczyk/runook/ook/cli"
	ook_shim "github.com/MarcinKonowalczyk/runook/shim"
	"github.com/tebeka/atexit"

	"github.com/containerd/containerd/v2/pkg/shim"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	atexit.Register(cancel)

	// The task service re-executes this binary with the interpreter argument
	// to run the container's entrypoint.
	if interpret, args := isInterpreterArg(os.Args[1:]); interpret {
		atexit.Exit(cli.Main(ctx, args, os.Stdin, os.Stdout, os.Stderr))
	}

	shim.Run(ctx, ook_shim.NewManager(ook_shim.RuntimeName))
	atexit.Exit(0)
}

// Only the first argument counts: containerd passes the container id and
// other user-chosen values as shim arguments.
func isInterpreterArg(args []string) (bool, []string) {
	if len(args) > 0 && args[0] == ook_shim.InterpreterArg {
		return true, args[1:]
	}
	return false, args
}
