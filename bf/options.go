package bf

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

const DefaultTapeSize = 32000

// Options selects the optimizer passes and configures a run. The zero value
// runs the plain interpreter on a default-sized tape.
type Options struct {
	Collapse        bool `toml:"collapse"`
	ElideZeroLoops  bool `toml:"elide_zero_loops"`
	ResolveBrackets bool `toml:"resolve_brackets"`

	// Debug writes a trace line before every step.
	Debug bool `toml:"debug"`
	// Dump writes a listing of the optimized program before running it.
	Dump bool `toml:"dump"`

	// TapeSize is the number of cells. Zero means DefaultTapeSize.
	TapeSize int `toml:"tape_size"`
	// MaxSteps stops the run with ErrStepLimit after that many steps. Zero
	// means no limit.
	MaxSteps uint64 `toml:"max_steps"`

	// TraceOutput receives trace and dump output. Defaults to stderr.
	TraceOutput io.Writer `toml:"-"`
}

func DefaultOptions() Options {
	return Options{TapeSize: DefaultTapeSize}
}

func (o Options) tapeSize() int {
	if o.TapeSize == 0 {
		return DefaultTapeSize
	}
	return o.TapeSize
}

// Validate rejects a negative tape size.
func (o Options) Validate() error {
	if o.TapeSize < 0 {
		return fmt.Errorf("invalid tape size %d", o.TapeSize)
	}
	return nil
}

// Passes returns the enabled passes in the only order in which they
// compose: zero-loop elision has to see lone decrements and unresolved
// brackets, and bracket resolution bakes in final indices.
func (o Options) Passes() []Pass {
	var passes []Pass
	if o.ElideZeroLoops {
		passes = append(passes, ElideZeroLoopsPass)
	}
	if o.Collapse {
		passes = append(passes, CollapsePass)
	}
	if o.ResolveBrackets {
		passes = append(passes, ResolveBracketsPass)
	}
	return passes
}

var optimizationNames = map[string]func(*Options, bool){
	"collapse": func(o *Options, v bool) { o.Collapse = v },
	"zero":     func(o *Options, v bool) { o.ElideZeroLoops = v },
	"brackets": func(o *Options, v bool) { o.ResolveBrackets = v },
}

// SetOptimizations enables the comma separated list of passes, e.g.
// "collapse,zero". "all" and "none" are accepted as shorthands. Passes not
// named are disabled.
func (o *Options) SetOptimizations(list string) error {
	for _, set := range optimizationNames {
		set(o, false)
	}
	for _, name := range strings.Split(list, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "", "none":
			continue
		case "all":
			for _, set := range optimizationNames {
				set(o, true)
			}
			continue
		}
		set, ok := optimizationNames[name]
		if !ok {
			return fmt.Errorf("unknown optimization %q (expected one of %s)", name, strings.Join(OptimizationNames(), ", "))
		}
		set(o, true)
	}
	return nil
}

// OptimizationNames lists the names accepted by SetOptimizations.
func OptimizationNames() []string {
	names := make([]string, 0, len(optimizationNames))
	for name := range optimizationNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadOptions decodes a TOML options file on top of base. Keys the file does
// not set keep their value from base; unknown keys are an error.
func LoadOptions(path string, base Options) (Options, error) {
	opts := base
	md, err := toml.DecodeFile(path, &opts)
	if err != nil {
		return base, fmt.Errorf("reading options %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return base, fmt.Errorf("reading options %s: unknown keys %v", path, undecoded)
	}
	if err := opts.Validate(); err != nil {
		return base, fmt.Errorf("reading options %s: %w", path, err)
	}
	return opts, nil
}
