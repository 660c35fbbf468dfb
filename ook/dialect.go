package ook

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/containerd/errdefs"
	"gopkg.in/yaml.v3"
)

// TokenSet binds one phrase to each of the eight commands.
type TokenSet struct {
	Right     Phrase
	Left      Phrase
	Increment Phrase
	Decrement Phrase
	Input     Phrase
	Output    Phrase
	LoopStart Phrase
	LoopEnd   Phrase
}

// Stem builds a token set in the Ook! shape from a single word, punctuated
// with '.', '?' and '!'.
func Stem(word string) TokenSet {
	dot, ask, bang := word+".", word+"?", word+"!"
	return TokenSet{
		Right:     Phrase{dot, ask},
		Left:      Phrase{ask, dot},
		Increment: Phrase{dot, dot},
		Decrement: Phrase{bang, bang},
		Input:     Phrase{dot, bang},
		Output:    Phrase{bang, dot},
		LoopStart: Phrase{bang, ask},
		LoopEnd:   Phrase{ask, bang},
	}
}

var (
	Ook  = Stem("Ook")
	Blub = Stem("Blub")
)

// Dialects are the built-in token sets, by name.
var Dialects = map[string]TokenSet{
	"ook":  Ook,
	"blub": Blub,
}

func (t TokenSet) Phrase(c Command) Phrase {
	switch c {
	case Right:
		return t.Right
	case Left:
		return t.Left
	case Increment:
		return t.Increment
	case Decrement:
		return t.Decrement
	case Input:
		return t.Input
	case Output:
		return t.Output
	case LoopStart:
		return t.LoopStart
	case LoopEnd:
		return t.LoopEnd
	default:
		return Phrase{}
	}
}

// Table maps each phrase to the command it encodes.
func (t TokenSet) Table() map[Phrase]Command {
	table := make(map[Phrase]Command, len(Commands))
	for _, c := range Commands {
		table[t.Phrase(c)] = c
	}
	return table
}

func (t TokenSet) Validate() error {
	seen := make(map[Phrase]Command, len(Commands))
	for _, c := range Commands {
		p := t.Phrase(c)
		if !validWord(p.First) || !validWord(p.Second) {
			return errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("phrase %q for %s is not two words", p.String(), c))
		}
		if other, ok := seen[p]; ok {
			return errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("phrase %q used for both %s and %s", p.String(), other, c))
		}
		seen[p] = c
	}
	return nil
}

func validWord(w string) bool {
	return w != "" && !strings.ContainsAny(w, " \t\r\n")
}

// ParsePhrase splits "First Second" into a phrase.
func ParsePhrase(s string) (Phrase, error) {
	words := strings.Split(s, " ")
	if len(words) != 2 || !validWord(words[0]) || !validWord(words[1]) {
		return Phrase{}, errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("%q is not a two-word phrase", s))
	}
	return Phrase{First: words[0], Second: words[1]}, nil
}

func LookupDialect(name string) (TokenSet, error) {
	tokens, ok := Dialects[strings.ToLower(name)]
	if !ok {
		names := make([]string, 0, len(Dialects))
		for n := range Dialects {
			names = append(names, n)
		}
		sort.Strings(names)
		return TokenSet{}, fmt.Errorf("dialect %q (known: %s): %w", name, strings.Join(names, ", "), errdefs.ErrNotFound)
	}
	return tokens, nil
}

// LoadDialect resolves a built-in dialect name, or reads a dialect file.
// YAML files are decoded with yaml.v3, .cue and .json files with CUE.
func LoadDialect(nameOrPath string) (TokenSet, error) {
	if tokens, err := LookupDialect(nameOrPath); err == nil {
		return tokens, nil
	}

	ext := strings.ToLower(filepath.Ext(nameOrPath))
	if ext == "" {
		return LookupDialect(nameOrPath)
	}

	content, err := os.ReadFile(nameOrPath)
	if err != nil {
		return TokenSet{}, fmt.Errorf("reading dialect file: %w", err)
	}

	var df dialectFile
	switch ext {
	case ".yaml", ".yml":
		df, err = decodeYAML(content)
	case ".cue", ".json":
		df, err = decodeCUE(nameOrPath, content)
	default:
		return TokenSet{}, fmt.Errorf("dialect file %s: unsupported extension %q: %w", nameOrPath, ext, errdefs.ErrInvalidArgument)
	}
	if err != nil {
		return TokenSet{}, fmt.Errorf("dialect file %s: %w: %w", nameOrPath, errdefs.ErrInvalidArgument, err)
	}

	tokens, err := df.tokenSet()
	if err != nil {
		return TokenSet{}, fmt.Errorf("dialect file %s: %w", nameOrPath, err)
	}
	return tokens, nil
}

type dialectFile struct {
	Right     string `json:"right" yaml:"right"`
	Left      string `json:"left" yaml:"left"`
	Increment string `json:"increment" yaml:"increment"`
	Decrement string `json:"decrement" yaml:"decrement"`
	Input     string `json:"input" yaml:"input"`
	Output    string `json:"output" yaml:"output"`
	LoopStart string `json:"loop_start" yaml:"loop_start"`
	LoopEnd   string `json:"loop_end" yaml:"loop_end"`
}

func (df dialectFile) tokenSet() (TokenSet, error) {
	var tokens TokenSet
	fields := []struct {
		src string
		dst *Phrase
	}{
		{df.Right, &tokens.Right},
		{df.Left, &tokens.Left},
		{df.Increment, &tokens.Increment},
		{df.Decrement, &tokens.Decrement},
		{df.Input, &tokens.Input},
		{df.Output, &tokens.Output},
		{df.LoopStart, &tokens.LoopStart},
		{df.LoopEnd, &tokens.LoopEnd},
	}
	for _, f := range fields {
		p, err := ParsePhrase(f.src)
		if err != nil {
			return TokenSet{}, err
		}
		*f.dst = p
	}
	if err := tokens.Validate(); err != nil {
		return TokenSet{}, err
	}
	return tokens, nil
}

func decodeYAML(content []byte) (df dialectFile, err error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&df); err != nil {
		return df, fmt.Errorf("decoding yaml: %w", err)
	}
	return df, nil
}

const dialectSchema = `
right:      =~"^\\S+ \\S+$"
left:       =~"^\\S+ \\S+$"
increment:  =~"^\\S+ \\S+$"
decrement:  =~"^\\S+ \\S+$"
input:      =~"^\\S+ \\S+$"
output:     =~"^\\S+ \\S+$"
loop_start: =~"^\\S+ \\S+$"
loop_end:   =~"^\\S+ \\S+$"
`

func decodeCUE(path string, content []byte) (df dialectFile, err error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString("close({"+dialectSchema+"})", cue.Filename("dialect-schema.cue"))
	if err := schema.Err(); err != nil {
		return df, err
	}

	value := ctx.CompileBytes(content, cue.Filename(path))
	if err := value.Err(); err != nil {
		return df, err
	}

	value = schema.Unify(value)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return df, err
	}

	if err := value.Decode(&df); err != nil {
		return df, err
	}
	return df, nil
}
