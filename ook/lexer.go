package ook

import (
	"strings"
)

// Phrase is the lexical unit of the language: two consecutive words.
type Phrase struct {
	First  string
	Second string
}

func (p Phrase) String() string {
	return p.First + " " + p.Second
}

type Command uint8

const (
	Ignore Command = iota
	Right
	Left
	Increment
	Decrement
	Input
	Output
	LoopStart
	LoopEnd
)

// Commands lists the eight recognized commands in table order.
var Commands = [...]Command{Right, Left, Increment, Decrement, Input, Output, LoopStart, LoopEnd}

// String renders the command as its brainfuck equivalent
func (c Command) String() string {
	switch c {
	case Right:
		return ">"
	case Left:
		return "<"
	case Increment:
		return "+"
	case Decrement:
		return "-"
	case Input:
		return ","
	case Output:
		return "."
	case LoopStart:
		return "["
	case LoopEnd:
		return "]"
	default:
		return " "
	}
}

// Split cuts the source on single spaces and pairs up the words. A trailing
// unpaired word is dropped. Newlines are not separators here.
func Split(source string) []Phrase {
	return pair(strings.Split(source, " "))
}

// SplitFields is like Split but separates words on any run of whitespace.
func SplitFields(source string) []Phrase {
	return pair(strings.Fields(source))
}

func pair(words []string) []Phrase {
	phrases := make([]Phrase, 0, len(words)/2)
	for i := 0; i+1 < len(words); i += 2 {
		phrases = append(phrases, Phrase{First: words[i], Second: words[i+1]})
	}
	return phrases
}

type Lexer struct {
	source string
	tokens TokenSet
	fields bool
}

func NewLexer(source string, tokens TokenSet) *Lexer {
	return &Lexer{
		source: source,
		tokens: tokens,
	}
}

// SplitOnWhitespace makes the lexer treat any whitespace as a word separator.
func (l *Lexer) SplitOnWhitespace() *Lexer {
	l.fields = true
	return l
}

func (l *Lexer) Phrases() []Phrase {
	if l.fields {
		return SplitFields(l.source)
	}
	return Split(l.source)
}

// Lex returns the recognized commands only, in source order.
func (l *Lexer) Lex() []Command {
	table := l.tokens.Table()
	commands := []Command{}
	for _, p := range l.Phrases() {
		if cmd, ok := table[p]; ok {
			commands = append(commands, cmd)
		}
	}
	return commands
}

func Lex(source string) []Command {
	return NewLexer(source, Ook).Lex()
}
