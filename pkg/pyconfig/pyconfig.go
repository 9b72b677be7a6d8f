// Package pyconfig discovers the build configuration of the host Python
// installation. All values come from external tools (python3-config and the
// interpreter's sysconfig module); nothing is guessed locally.
package pyconfig

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/shell"

	"github.com/cybuild/cybuild/pkg"
)

// Config holds everything cybuild needs to compile and link against the
// host's Python runtime.
type Config struct {
	Prefix     string
	Version    string
	IncludeDir string
	LibDir     string
	LibPL      string
	Library    string
	LDLibrary  string
	LibDirs    []string

	CC            string
	LinkCC        string
	CFlags        []string
	LinkForShared []string
	Libs          []string
	SysLibs       []string
	ExeSuffix     string
}

// The interpreter dumps its own build variables; this avoids re-deriving
// paths that sysconfig already knows.
const sysconfigScript = `import json, sysconfig
names = ("INCLUDEPY", "LIBDIR", "LIBPL", "LIBRARY", "LDLIBRARY", "CC", "CFLAGS", "LINKCC", "LINKFORSHARED", "LIBS", "SYSLIBS", "EXE")
print(json.dumps({name: sysconfig.get_config_var(name) or "" for name in names}))`

// Discover queries the configuration of the given Python interpreter.
// The matching config tool is derived from the interpreter name, so
// "python3.11" uses "python3.11-config".
func Discover(ctx context.Context, python string) (*Config, error) {
	configTool := python + "-config"

	prefix, err := runQuery(ctx, os.Stderr, configTool, "--prefix")
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to query %s for the installation prefix", configTool)
	}

	// Python >= 3.8 only emits -lpython with --embed; older versions don't
	// know the flag at all, so retry without it.
	ldflags, err := runQuery(ctx, io.Discard, configTool, "--ldflags", "--embed")
	if err != nil {
		ldflags, err = runQuery(ctx, os.Stderr, configTool, "--ldflags")
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to query %s for linker flags", configTool)
		}
	}

	version, libDirs, err := ParseLDFlags(ldflags)
	if err != nil {
		return nil, err
	}

	vars, err := sysconfigVars(ctx, python)
	if err != nil {
		return nil, err
	}

	cflags, err := splitFlags(strings.TrimSpace(vars["CFLAGS"] + " " + os.Getenv("CFLAGS")))
	if err != nil {
		return nil, eris.Wrap(err, "Failed to parse CFLAGS")
	}

	linkForShared, err := splitFlags(vars["LINKFORSHARED"])
	if err != nil {
		return nil, eris.Wrap(err, "Failed to parse LINKFORSHARED")
	}

	libs, err := splitFlags(vars["LIBS"])
	if err != nil {
		return nil, eris.Wrap(err, "Failed to parse LIBS")
	}

	sysLibs, err := splitFlags(vars["SYSLIBS"])
	if err != nil {
		return nil, eris.Wrap(err, "Failed to parse SYSLIBS")
	}

	cfg := &Config{
		Prefix:        prefix,
		Version:       version,
		IncludeDir:    vars["INCLUDEPY"],
		LibDir:        vars["LIBDIR"],
		LibPL:         vars["LIBPL"],
		Library:       vars["LIBRARY"],
		LDLibrary:     vars["LDLIBRARY"],
		LibDirs:       libDirs,
		CC:            vars["CC"],
		LinkCC:        vars["LINKCC"],
		CFlags:        cflags,
		LinkForShared: linkForShared,
		Libs:          libs,
		SysLibs:       sysLibs,
		ExeSuffix:     vars["EXE"],
	}

	// environment variables only fill gaps, the interpreter's own values win
	if cfg.CC == "" {
		cfg.CC = os.Getenv("CC")
	}
	if cfg.CC == "" {
		return nil, eris.New("No C compiler configured; set the CC environment variable")
	}

	if cfg.LinkCC == "" {
		cfg.LinkCC = os.Getenv("LINKCC")
	}
	if cfg.LinkCC == "" {
		cfg.LinkCC = cfg.CC
	}

	if cfg.IncludeDir == "" {
		cfg.IncludeDir = filepath.Join(prefix, "include", "python"+version)
	}

	return cfg, nil
}

// ParseLDFlags extracts the Python library version and the library search
// directories from a `python3-config --ldflags` line. The version is the
// text after "-lpython" in the first such field ("-lpython3.11" -> "3.11").
func ParseLDFlags(ldflags string) (string, []string, error) {
	fields, err := splitFlags(ldflags)
	if err != nil {
		return "", nil, eris.Wrap(err, "Failed to split linker flags")
	}

	version := ""
	dirs := []string{}
	for _, field := range fields {
		switch {
		case strings.HasPrefix(field, "-L"):
			dirs = append(dirs, field[2:])
		case strings.HasPrefix(field, "-lpython") && version == "":
			version = field[len("-lpython"):]
		}
	}

	if version == "" {
		return "", nil, eris.Errorf("No -lpython entry found in linker flags %q; is Python built as a shared library?", ldflags)
	}

	return version, dirs, nil
}

// SearchDirArgs returns the -L arguments covering every known library
// directory, deduplicated in a stable order.
func (c *Config) SearchDirArgs() []string {
	seen := make(map[string]bool)
	args := []string{}
	for _, dir := range append(append([]string{}, c.LibDirs...), c.LibDir, c.LibPL) {
		if dir == "" || seen[dir] {
			continue
		}

		seen[dir] = true
		args = append(args, "-L"+dir)
	}

	return args
}

// PythonLibArgs returns the linker arguments that pull in the Python
// runtime. A shared libpython is linked with -l; otherwise the static
// archive is passed by path.
func (c *Config) PythonLibArgs() []string {
	if c.LDLibrary != "" && c.LDLibrary != c.Library {
		return []string{"-lpython" + c.Version}
	}

	dir := c.LibPL
	if dir == "" {
		dir = c.LibDir
	}

	return []string{filepath.Join(dir, c.Library)}
}

// Entries returns the discovered values in a stable order for display.
func (c *Config) Entries() [][2]string {
	return [][2]string{
		{"prefix", c.Prefix},
		{"version", c.Version},
		{"includedir", c.IncludeDir},
		{"libdir", c.LibDir},
		{"libpl", c.LibPL},
		{"library", c.Library},
		{"ldlibrary", c.LDLibrary},
		{"libdirs", strings.Join(c.LibDirs, " ")},
		{"cc", c.CC},
		{"linkcc", c.LinkCC},
		{"cflags", strings.Join(c.CFlags, " ")},
		{"linkforshared", strings.Join(c.LinkForShared, " ")},
		{"libs", strings.Join(c.Libs, " ")},
		{"syslibs", strings.Join(c.SysLibs, " ")},
		{"exesuffix", c.ExeSuffix},
	}
}

func sysconfigVars(ctx context.Context, python string) (map[string]string, error) {
	out, err := runQuery(ctx, os.Stderr, python, "-c", sysconfigScript)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to read sysconfig variables from %s", python)
	}

	vars := map[string]string{}
	err = json.Unmarshal([]byte(out), &vars)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to parse sysconfig output %q", out)
	}

	return vars, nil
}

// splitFlags splits a flag string into argv fields with shell quoting
// rules; strings.Fields would break paths that contain spaces.
func splitFlags(value string) ([]string, error) {
	if strings.TrimSpace(value) == "" {
		return []string{}, nil
	}

	return shell.Fields(value, nil)
}

func runQuery(ctx context.Context, errOut io.Writer, name string, args ...string) (string, error) {
	pkg.Log(ctx).Debug().
		Bool("command", true).
		Msg(name + " " + strings.Join(args, " "))

	buffer := strings.Builder{}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &buffer
	cmd.Stderr = errOut

	err := cmd.Run()
	if err != nil {
		return "", eris.Wrapf(err, "%s %s failed", name, strings.Join(args, " "))
	}

	return strings.TrimSpace(buffer.String()), nil
}
