package ook_test

import (
	"strings"

	"github.com/MarcinKonowalczyk/runook/ook"
)

// source spells out commands as phrases of the given token set
func source(tokens ook.TokenSet, commands ...ook.Command) string {
	words := make([]string, 0, len(commands))
	for _, c := range commands {
		words = append(words, tokens.Phrase(c).String())
	}
	return strings.Join(words, " ")
}

var symbols = map[rune]ook.Command{
	'>': ook.Right,
	'<': ook.Left,
	'+': ook.Increment,
	'-': ook.Decrement,
	',': ook.Input,
	'.': ook.Output,
	'[': ook.LoopStart,
	']': ook.LoopEnd,
}

// fromBrainfuck translates brainfuck text to Ook!, skipping other characters
func fromBrainfuck(bf string) string {
	commands := []ook.Command{}
	for _, r := range bf {
		if c, ok := symbols[r]; ok {
			commands = append(commands, c)
		}
	}
	return source(ook.Ook, commands...)
}
