package shim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarcinKonowalczyk/runook/ook"
)

const configFilename = "config.json"

// Environment variables of the container process that tune the interpreter.
const (
	envDialect = "OOK_DIALECT"
	envLenient = "OOK_LENIENT"
)

// Subset of the OCI runtime spec that the shim cares about.
type ociSpec struct {
	Root struct {
		Path string `json:"path"`
	} `json:"root"`
	Process struct {
		Args []string `json:"args"`
		Env  []string `json:"env"`
	} `json:"process"`
}

type Config struct {
	Root       string
	Entrypoint string
	Path       []string
	// Dialect is a built-in dialect name or an absolute path to a dialect file
	// inside the rootfs. Empty means the default.
	Dialect string
	Lenient bool
}

func isSource(name string) bool {
	switch filepath.Ext(name) {
	case ".ook", ".ok":
		return true
	}
	return false
}

// ReadConfig reads the bundle's config.json and checks that it describes a
// single Ook! script present in the rootfs.
func ReadConfig(bundle string) (*Config, error) {
	filePath := filepath.Join(bundle, configFilename)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s not found", configFilename)
		}
		return nil, err
	}

	var spec ociSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configFilename, err)
	}

	if spec.Root.Path == "" {
		return nil, fmt.Errorf("root path not found in config file %s", configFilename)
	}
	root := spec.Root.Path
	if !filepath.IsAbs(root) {
		root = filepath.Join(bundle, root)
	}

	if len(spec.Process.Args) != 1 {
		return nil, fmt.Errorf("incorrect number of args in the CMD. Expected 1, got %d", len(spec.Process.Args))
	}
	entrypoint := spec.Process.Args[0]
	if !isSource(entrypoint) {
		return nil, fmt.Errorf("entry point (%s) is not a .ook file", entrypoint)
	}

	script := filepath.Join(root, entrypoint)
	if _, err := os.Stat(script); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("script %s does not exist: %w", entrypoint, err)
		}
		return nil, fmt.Errorf("checking script %s: %w", entrypoint, err)
	}

	cfg := &Config{
		Root:       root,
		Entrypoint: entrypoint,
		Path:       []string{},
	}

	for _, env := range spec.Process.Env {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		switch key {
		case "PATH":
			cfg.Path = strings.Split(value, ":")
		case envLenient:
			cfg.Lenient = value == "1" || strings.EqualFold(value, "true")
		case envDialect:
			if value == "" {
				continue
			}
			if _, err := ook.LookupDialect(value); err == nil {
				cfg.Dialect = value
				continue
			}
			dialect := filepath.Join(root, value)
			if _, err := os.Stat(dialect); err != nil {
				return nil, fmt.Errorf("dialect %s: %w", value, err)
			}
			cfg.Dialect = dialect
		}
	}

	return cfg, nil
}

func (c *Config) FullPath() string {
	return filepath.Join(c.Root, c.Entrypoint)
}

// InterpreterArgs are the arguments that follow InterpreterArg when the shim
// re-executes itself to run the script.
func (c *Config) InterpreterArgs() []string {
	args := []string{}
	if c.Dialect != "" {
		args = append(args, "-dialect", c.Dialect)
	}
	if c.Lenient {
		args = append(args, "-lenient")
	}
	return append(args, c.FullPath())
}
