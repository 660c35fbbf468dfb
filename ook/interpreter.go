package ook

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/containerd/log"
)

type Interpreter struct {
	Program *Program
	pc      int
	tape    *Tape
	steps   uint64
	Input   io.Reader
	Output  io.Writer
}

func NewInterpreter(program *Program, input io.Reader, output io.Writer) *Interpreter {
	return &Interpreter{
		Program: program,
		pc:      0,
		tape:    NewTape(),
		Input:   input,
		Output:  output,
	}
}

func (i *Interpreter) Reset() {
	i.pc = 0
	i.steps = 0
	i.tape = NewTape()
}

func (i *Interpreter) Tape() *Tape {
	return i.tape
}

// Steps is the number of instructions executed so far.
func (i *Interpreter) Steps() uint64 {
	return i.steps
}

type flusher interface {
	Flush() error
}

type readResult struct {
	data []byte
	err  error
}

// readAll reads r to the end unless ctx is done first. An abandoned read
// keeps running in the background until the reader returns.
func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	result := make(chan readResult, 1)
	go func() {
		data, err := io.ReadAll(r)
		result <- readResult{data, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-result:
		return res.data, res.err
	}
}

// readInput consumes the rest of the input stream and parses it as a single
// signed integer. A nil reader behaves as an exhausted stream.
func (i *Interpreter) readInput(ctx context.Context) (int64, error) {
	if f, ok := i.Output.(flusher); ok {
		if err := f.Flush(); err != nil {
			return 0, fmt.Errorf("flushing output: %w", err)
		}
	}
	var text string
	if i.Input != nil {
		data, err := readAll(ctx, i.Input)
		if err != nil {
			if ctx.Err() != nil {
				return 0, err
			}
			return 0, fmt.Errorf("reading input: %w", err)
		}
		text = string(data)
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", text, ErrInvalidInput)
	}
	return v, nil
}

func (i *Interpreter) jump(unmatched error) error {
	target := i.Program.Jumps[i.pc]
	if target == NoJump {
		return unmatched
	}
	i.pc = target
	return nil
}

// step executes the instruction at pc. It leaves pc pointing at the
// instruction it dispatched, or at a jump target.
func (i *Interpreter) step(ctx context.Context) error {
	t := i.tape
	switch c := i.Program.Commands[i.pc]; c {
	case Right:
		t.Right()
	case Left:
		t.Left()
	case Increment:
		return t.Inc()
	case Decrement:
		return t.Dec()
	case Input:
		v, err := i.readInput(ctx)
		if err != nil {
			return err
		}
		return t.Set(v)
	case Output:
		v, err := t.Get()
		if err != nil {
			return err
		}
		if i.Output != nil {
			if _, err := i.Output.Write([]byte{byte(v)}); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
		}
	case LoopStart:
		v, err := t.Get()
		if err != nil {
			return err
		}
		if v == 0 {
			return i.jump(ErrUnmatchedLoopStart)
		}
	case LoopEnd:
		v, err := t.Get()
		if err != nil {
			return err
		}
		if v != 0 {
			return i.jump(ErrUnmatchedLoopEnd)
		}
	case Ignore:
	default:
		return fmt.Errorf("unknown command %d", c)
	}
	return nil
}

// Run the program in a loop until it falls off the end or an error occurs
func (i *Interpreter) RunContext(ctx context.Context) error {
	logger := log.G(ctx).WithField("instructions", i.Program.Len())
	logger.Debug("running program")

	for i.pc < i.Program.Len() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pc := i.pc
		if err := i.step(ctx); err != nil {
			logger.WithError(err).WithField("pc", pc).Debug("program faulted")
			return fmt.Errorf("instruction %d (%s): %w", pc, i.Program.Commands[pc], err)
		}
		i.steps++
		i.pc++
	}

	logger.WithField("steps", i.steps).Debug("program halted")
	return nil
}

func (i *Interpreter) Run() error {
	return i.RunContext(context.Background())
}
