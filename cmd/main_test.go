package cmd

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cybuild/cybuild/pkg/builder"
)

// captureStderr redirects os.Stderr for the duration of fn and returns
// everything written to it.
func captureStderr(t *testing.T, fn func()) string {
	t.Helper()

	reader, writer, err := os.Pipe()
	require.NoError(t, err)

	old := os.Stderr
	os.Stderr = writer
	defer func() {
		os.Stderr = old
	}()

	fn()

	require.NoError(t, writer.Close())
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	return string(data)
}

func TestRootCommandWithoutModule(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	dir := t.TempDir()
	stub := filepath.Join(dir, "cython")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\necho \"Cython transpiler options\"\n"), 0o755))
	t.Setenv("PATH", dir)

	rootCmd.SetArgs([]string{})
	defer rootCmd.SetArgs(nil)

	var execErr error
	out := captureStderr(t, func() {
		execErr = rootCmd.Execute()
	})

	var exitErr *builder.ExitError
	require.ErrorAs(t, execErr, &exitErr)
	require.Equal(t, 1, exitErr.Code)
	require.Contains(t, out, "Usage: cybuild <module> [<package>]")
	require.Contains(t, out, "Cython transpiler options")

	// nothing was built or transpiled
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSplitPositionalArgs(t *testing.T) {
	cases := []struct {
		name        string
		args        []string
		module      string
		packageName string
		extra       []string
	}{
		{
			name:   "module only",
			args:   []string{"foo"},
			module: "foo",
			extra:  []string{},
		},
		{
			name:        "module and package",
			args:        []string{"foo", "bar"},
			module:      "foo",
			packageName: "bar",
			extra:       []string{},
		},
		{
			name:   "compiler flags without package",
			args:   []string{"foo", "-O2", "-DVALUE=1"},
			module: "foo",
			extra:  []string{"-O2", "-DVALUE=1"},
		},
		{
			name:        "package followed by compiler flags",
			args:        []string{"foo", "bar", "-O2"},
			module:      "foo",
			packageName: "bar",
			extra:       []string{"-O2"},
		},
		{
			name:   "dash dash separator",
			args:   []string{"foo", "--", "-O2"},
			module: "foo",
			extra:  []string{"-O2"},
		},
		{
			name:        "separator after package",
			args:        []string{"foo", "bar", "--", "-lm"},
			module:      "foo",
			packageName: "bar",
			extra:       []string{"-lm"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			module, packageName, extra := splitPositionalArgs(tc.args)
			require.Equal(t, tc.module, module)
			require.Equal(t, tc.packageName, packageName)

			if len(tc.extra) == 0 {
				require.Empty(t, extra)
			} else {
				require.Equal(t, tc.extra, extra)
			}
		})
	}
}
