package shim

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBundle lays out a bundle with a rootfs holding entrypoint.
func newBundle(t *testing.T, entrypoint string, args []string, annotations map[string]string) string {
	bundle := t.TempDir()
	rootfs := filepath.Join(bundle, "rootfs")
	require.NoError(t, os.MkdirAll(filepath.Join(rootfs, filepath.Dir(entrypoint)), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(rootfs, entrypoint), []byte("+."), 0644))

	data, err := json.Marshal(map[string]any{
		"root":        map[string]any{"path": "rootfs"},
		"process":     map[string]any{"args": args, "env": []string{"PATH=/bin"}},
		"annotations": annotations,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(bundle, configFilename), data, 0644))
	return bundle
}

func TestReadConfig(t *testing.T) {
	assert := assert.New(t)

	bundle := newBundle(t, "app/hello.bf", []string{"app/hello.bf"}, nil)
	config, err := ReadConfig(bundle)
	require.NoError(t, err)

	assert.Equal(filepath.Join(bundle, "rootfs"), config.Root)
	assert.Equal("app/hello.bf", config.Entrypoint)
	assert.Equal(filepath.Join(bundle, "rootfs", "app", "hello.bf"), config.FullPath())
	assert.Empty(config.OptionsFile)
	assert.Equal([]string{"brainfuck", "-file", config.FullPath()}, config.Args())
}

func TestReadConfig_Annotations(t *testing.T) {
	assert := assert.New(t)

	bundle := newBundle(t, "hello.bf", []string{"hello.bf"}, map[string]string{
		AnnotationOptimize: "all",
		AnnotationTapeSize: "1024",
		AnnotationMaxSteps: "1000000",
		AnnotationInput:    "true",
	})
	config, err := ReadConfig(bundle)
	require.NoError(t, err)
	assert.Equal([]string{
		"brainfuck", "-file", config.FullPath(),
		"-opt", "all",
		"-tape", "1024",
		"-max-steps", "1000000",
		"-input",
	}, config.Args())
}

func TestReadConfig_OptionsFile(t *testing.T) {
	bundle := newBundle(t, "hello.bf", []string{"hello.bf"}, map[string]string{AnnotationInput: "false"})
	optionsFile := filepath.Join(bundle, "rootfs", OptionsFilename)
	require.NoError(t, os.WriteFile(optionsFile, []byte("collapse = true\n"), 0644))

	config, err := ReadConfig(bundle)
	require.NoError(t, err)
	assert.Equal(t, optionsFile, config.OptionsFile)
	assert.Equal(t, []string{"brainfuck", "-file", config.FullPath(), "-config", optionsFile}, config.Args())
}

func TestReadConfig_Invalid(t *testing.T) {
	for name, tc := range map[string]struct {
		entrypoint  string
		args        []string
		annotations map[string]string
	}{
		"not bf":           {"hello.sh", []string{"hello.sh"}, nil},
		"too many args":    {"hello.bf", []string{"hello.bf", "extra"}, nil},
		"bad optimization": {"hello.bf", []string{"hello.bf"}, map[string]string{AnnotationOptimize: "unroll"}},
		"bad tape size":    {"hello.bf", []string{"hello.bf"}, map[string]string{AnnotationTapeSize: "-4"}},
		"bad max steps":    {"hello.bf", []string{"hello.bf"}, map[string]string{AnnotationMaxSteps: "lots"}},
		"bad input":        {"hello.bf", []string{"hello.bf"}, map[string]string{AnnotationInput: "maybe"}},
	} {
		t.Run(name, func(t *testing.T) {
			bundle := newBundle(t, tc.entrypoint, tc.args, tc.annotations)
			_, err := ReadConfig(bundle)
			assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
		})
	}
}

func TestReadConfig_IncompleteSpec(t *testing.T) {
	for name, doc := range map[string]string{
		"no root":    `{"process": {"args": ["hello.bf"]}}`,
		"no process": `{"root": {"path": "rootfs"}}`,
		"no args":    `{"root": {"path": "rootfs"}, "process": {"cwd": "/"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			bundle := newBundle(t, "hello.bf", []string{"hello.bf"}, nil)
			require.NoError(t, os.WriteFile(filepath.Join(bundle, configFilename), []byte(doc), 0644))
			_, err := ReadConfig(bundle)
			assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
		})
	}
}

func TestReadConfig_DefaultTapeSize(t *testing.T) {
	bundle := newBundle(t, "hello.bf", []string{"hello.bf"}, map[string]string{AnnotationTapeSize: "0"})
	config, err := ReadConfig(bundle)
	require.NoError(t, err)
	assert.Equal(t, []string{"-tape", "0"}, config.Flags)
}

func TestReadConfig_MissingScript(t *testing.T) {
	bundle := newBundle(t, "hello.bf", []string{"other.bf"}, nil)
	_, err := ReadConfig(bundle)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestReadConfig_MissingConfig(t *testing.T) {
	_, err := ReadConfig(t.TempDir())
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestTaskStatus(t *testing.T) {
	assert := assert.New(t)

	done, cancel := context.WithCancel(context.Background())
	tk := &task{pid: 42, done: done, markDone: cancel}
	assert.Equal("CREATED", tk.status().String())

	tk.started = true
	assert.Equal("RUNNING", tk.status().String())

	tk.paused = true
	assert.Equal("PAUSED", tk.status().String())

	cancel()
	assert.Equal("STOPPED", tk.status().String())
	assert.Contains(tk.String(), "pid:42")
}
