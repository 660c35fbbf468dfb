package ook

import (
	"fmt"
	"strings"
)

// NoJump marks a loop command without a partner.
const NoJump = -1

// Program is a resolved instruction sequence. Jumps[i] is the index of the
// loop command paired with Commands[i], or NoJump.
type Program struct {
	Commands []Command
	Jumps    []int
}

func (p *Program) Len() int {
	return len(p.Commands)
}

// String renders the program in brainfuck notation
func (p *Program) String() string {
	var sb strings.Builder
	for _, c := range p.Commands {
		sb.WriteString(c.String())
	}
	return sb.String()
}

type Resolver struct {
	table map[Phrase]Command

	// Lenient pairs a loop end that has no open loop with instruction 0
	// instead of failing.
	Lenient bool
}

func NewResolver(tokens TokenSet) *Resolver {
	return &Resolver{
		table: tokens.Table(),
	}
}

// Resolve drops unrecognized phrases and pairs up the loop commands.
func (r *Resolver) Resolve(phrases []Phrase) (*Program, error) {
	program := &Program{
		Commands: []Command{},
		Jumps:    []int{},
	}
	open := []int{}

	for _, p := range phrases {
		cmd, ok := r.table[p]
		if !ok {
			continue
		}
		pc := len(program.Commands)
		program.Commands = append(program.Commands, cmd)
		program.Jumps = append(program.Jumps, NoJump)

		switch cmd {
		case LoopStart:
			open = append(open, pc)
		case LoopEnd:
			start := 0
			if n := len(open); n > 0 {
				start = open[n-1]
				open = open[:n-1]
			} else if !r.Lenient {
				return nil, fmt.Errorf("instruction %d (%s): %w", pc, p, ErrUnmatchedLoopEnd)
			}
			program.Jumps[start] = pc
			program.Jumps[pc] = start
		}
	}

	// Whatever is left in open stays NoJump.
	return program, nil
}

func Resolve(phrases []Phrase, tokens TokenSet) (*Program, error) {
	return NewResolver(tokens).Resolve(phrases)
}
