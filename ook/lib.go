package ook

import (
	"context"
	"io"
)

type Config struct {
	Tokens TokenSet
	// Lenient resolves a stray loop end to instruction 0 instead of failing.
	Lenient bool
	// Fields splits the source on any whitespace rather than single spaces.
	Fields bool
}

func DefaultConfig() Config {
	return Config{Tokens: Ook}
}

// Compile tokenizes the source and resolves it into a program.
func Compile(source string, cfg Config) (*Program, error) {
	lexer := NewLexer(source, cfg.Tokens)
	if cfg.Fields {
		lexer.SplitOnWhitespace()
	}
	resolver := NewResolver(cfg.Tokens)
	resolver.Lenient = cfg.Lenient
	return resolver.Resolve(lexer.Phrases())
}

func RunContext(ctx context.Context, source string, input io.Reader, output io.Writer, cfg Config) error {
	program, err := Compile(source, cfg)
	if err != nil {
		return err
	}
	return NewInterpreter(program, input, output).RunContext(ctx)
}

func Run(source string, input io.Reader, output io.Writer) error {
	return RunContext(context.Background(), source, input, output, DefaultConfig())
}
