package shim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/MarcinKonowalczyk/fastbf/bf"
)

const configFilename = "config.json"

// OptionsFilename is looked up next to the entry point in the rootfs and
// passed to the interpreter with -config when present.
const OptionsFilename = "runbf.toml"

// Bundle annotations understood by the shim. They take precedence over the
// options file.
const (
	AnnotationOptimize = "io.runbf.optimize"
	AnnotationTapeSize = "io.runbf.tape-size"
	AnnotationMaxSteps = "io.runbf.max-steps"
	AnnotationInput    = "io.runbf.input"
)

type Config struct {
	Root       string
	Entrypoint string
	// OptionsFile is the absolute path of the options file, if the rootfs
	// has one.
	OptionsFile string
	// Flags are the interpreter flags derived from the bundle annotations.
	Flags []string
}

// ReadConfig reads the bundle's config.json and checks that its entry point
// is a brainfuck source file inside the rootfs.
func ReadConfig(path string) (*Config, error) {
	filePath := filepath.Join(path, configFilename)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s not found: %w", configFilename, errdefs.ErrNotFound)
		}
		return nil, err
	}

	var config specs.Spec
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configFilename, err)
	}

	if config.Root == nil || config.Root.Path == "" {
		return nil, fmt.Errorf("root path not found in config file %s: %w", configFilename, errdefs.ErrInvalidArgument)
	}
	rootPath := config.Root.Path
	if !filepath.IsAbs(rootPath) {
		rootPath = filepath.Join(path, rootPath)
	}

	var args []string
	if config.Process != nil {
		args = config.Process.Args
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("incorrect number of args in the CMD. Expected 1, got %d: %w", len(args), errdefs.ErrInvalidArgument)
	}

	arg0 := args[0]
	if ext := filepath.Ext(arg0); ext != ".bf" && ext != ".brainfuck" {
		return nil, fmt.Errorf("entry point (%s) is not a .bf file: %w", arg0, errdefs.ErrInvalidArgument)
	}

	script := filepath.Join(rootPath, arg0)
	if _, err := os.Stat(script); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("script %s does not exist: %w", arg0, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("checking script %s: %w", arg0, err)
	}

	flags, err := annotationFlags(config.Annotations)
	if err != nil {
		return nil, err
	}

	c := &Config{
		Root:       rootPath,
		Entrypoint: arg0,
		Flags:      flags,
	}

	optionsFile := filepath.Join(filepath.Dir(script), OptionsFilename)
	if _, err := os.Stat(optionsFile); err == nil {
		c.OptionsFile = optionsFile
	}

	return c, nil
}

func annotationFlags(annotations map[string]string) ([]string, error) {
	var flags []string
	invalid := func(key, value string, err error) error {
		return fmt.Errorf("annotation %s=%q: %v: %w", key, value, err, errdefs.ErrInvalidArgument)
	}

	if v, ok := annotations[AnnotationOptimize]; ok {
		var opts bf.Options
		if err := opts.SetOptimizations(v); err != nil {
			return nil, invalid(AnnotationOptimize, v, err)
		}
		flags = append(flags, "-opt", v)
	}
	if v, ok := annotations[AnnotationTapeSize]; ok {
		n, err := strconv.Atoi(v)
		if err == nil && n < 0 {
			err = fmt.Errorf("tape size must not be negative")
		}
		if err != nil {
			return nil, invalid(AnnotationTapeSize, v, err)
		}
		flags = append(flags, "-tape", strconv.Itoa(n))
	}
	if v, ok := annotations[AnnotationMaxSteps]; ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, invalid(AnnotationMaxSteps, v, err)
		}
		flags = append(flags, "-max-steps", strconv.FormatUint(n, 10))
	}
	if v, ok := annotations[AnnotationInput]; ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, invalid(AnnotationInput, v, err)
		}
		if enabled {
			flags = append(flags, "-input")
		}
	}
	return flags, nil
}

func (c *Config) FullPath() string {
	return filepath.Join(c.Root, c.Entrypoint)
}

// Args returns the arguments for running the entry point with the
// brainfuck sub-command of this binary.
func (c *Config) Args() []string {
	args := []string{"brainfuck", "-file", c.FullPath()}
	if c.OptionsFile != "" {
		args = append(args, "-config", c.OptionsFile)
	}
	return append(args, c.Flags...)
}
