// Package cli is the command line front end shared by the ook binary and the
// shim's interpreter mode.
package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/MarcinKonowalczyk/runook/ook"
	"github.com/containerd/log"
)

type options struct {
	dialect string
	lenient bool
	fields  bool
	debug   bool
	dump    bool
}

func parseFlags(args []string, stderr io.Writer) (*options, *flag.FlagSet, error) {
	opts := &options{}
	flagset := flag.NewFlagSet("ook", flag.ContinueOnError)
	flagset.SetOutput(stderr)
	flagset.StringVar(&opts.dialect, "dialect", "ook", "built-in dialect name (ook, blub) or a .yaml/.cue/.json dialect file")
	flagset.BoolVar(&opts.lenient, "lenient", false, "pair an unmatched loop end with instruction 0 instead of failing")
	flagset.BoolVar(&opts.fields, "fields", false, "split words on any whitespace, not just single spaces")
	flagset.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flagset.BoolVar(&opts.dump, "dump", false, "print the resolved program in brainfuck notation and exit")
	return opts, flagset, flagset.Parse(args)
}

// exitCode picks the process status for a failure to open the source file.
func exitCode(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return int(errno)
	}
	return 1
}

// Main runs the interpreter with the given arguments (without the program
// name) and returns the process exit status.
func Main(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, flagset, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if flagset.NArg() < 1 {
		fmt.Fprintln(stdout, "usage: ook [flags] <source file>")
		return 1
	}
	filename := flagset.Arg(0)

	if opts.debug {
		if err := log.SetLevel("debug"); err != nil {
			fmt.Fprintln(stderr, "Error setting log level:", err)
		}
	}

	source, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintln(stdout, err)
		return exitCode(err)
	}

	tokens, err := ook.LoadDialect(opts.dialect)
	if err != nil {
		fmt.Fprintln(stderr, "Error loading dialect:", err)
		return 1
	}

	cfg := ook.Config{
		Tokens:  tokens,
		Lenient: opts.lenient,
		Fields:  opts.fields,
	}

	program, err := ook.Compile(string(source), cfg)
	if err != nil {
		fmt.Fprintln(stderr, "Error resolving program:", err)
		return 1
	}

	log.G(ctx).WithField("file", filename).WithField("dialect", opts.dialect).Debug("program resolved")

	if opts.dump {
		fmt.Fprintln(stdout, program)
		return 0
	}

	out := bufio.NewWriter(stdout)
	runErr := ook.NewInterpreter(program, stdin, out).RunContext(ctx)
	if err := out.Flush(); err != nil && runErr == nil {
		runErr = fmt.Errorf("flushing output: %w", err)
	}
	if runErr != nil {
		fmt.Fprintln(stderr, "Error running program:", runErr)
		return 1
	}
	return 0
}
