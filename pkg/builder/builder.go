// Package builder turns Python modules into standalone native executables
// by driving an external Python-to-C transpiler and the host C toolchain.
package builder

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"

	"github.com/cybuild/cybuild/pkg"
	"github.com/cybuild/cybuild/pkg/pyconfig"
)

// Options describe one build request.
type Options struct {
	// Input is a module name ("foo"), a Python source file ("foo.py") or a
	// directory. Directories are built recursively into a single binary.
	Input string

	// Package names the output binary. Defaults to the input's base name.
	Package string

	// Cython is the transpiler binary to invoke.
	Cython string

	// Directives are compiler directives (name=value) forwarded to the
	// transpiler via -X.
	Directives []string

	// ExtraArgs are appended verbatim to the C compiler invocations.
	ExtraArgs []string
}

// Build compiles opts.Input into a native executable and returns its path.
// Each pipeline step is checked before the next one starts.
func Build(ctx context.Context, cfg *pyconfig.Config, opts Options) (string, error) {
	info, err := os.Stat(opts.Input)
	if err == nil && info.IsDir() {
		return buildTree(ctx, cfg, opts, opts.Input)
	}

	source := opts.Input
	if !strings.HasSuffix(source, ".py") {
		source += ".py"
	}
	base := strings.TrimSuffix(source, ".py")

	info, err = os.Stat(source)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return "", eris.Errorf("Source file %s does not exist", source)
		}
		return "", eris.Wrapf(err, "Failed to check %s", source)
	}

	if !info.Mode().IsRegular() {
		return "", eris.Errorf("%s is not a regular file", source)
	}

	exe := opts.Package
	if exe == "" {
		exe = base
	}
	exe += cfg.ExeSuffix

	if sameFile(source, exe) {
		return "", eris.Errorf("Input %s and output %s are the same file, refusing to overwrite", source, exe)
	}

	err = transpile(ctx, opts, base)
	if err != nil {
		return "", err
	}

	err = runStep(ctx, "compile", compileLinkArgs(cfg, opts, base, exe))
	if err != nil {
		return "", err
	}

	return exe, nil
}

// Exec runs a built executable. A non-zero status comes back as an
// ExitError so the caller can propagate it.
func Exec(ctx context.Context, exe string) error {
	path, err := filepath.Abs(exe)
	if err != nil {
		return eris.Wrapf(err, "Failed to resolve %s", exe)
	}

	return runStep(ctx, "run", []string{path})
}

// Artifacts lists the files a build for the given input would leave behind,
// whether or not they currently exist. The returned paths never include the
// Python sources themselves.
func Artifacts(input, packageName string) ([]string, error) {
	info, err := os.Stat(input)
	if err == nil && info.IsDir() {
		result := []string{}
		err = filepath.WalkDir(input, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if !entry.IsDir() && strings.HasSuffix(path, ".py") {
				base := strings.TrimSuffix(path, ".py")
				result = append(result, base+".c", base+".o")
			}
			return nil
		})
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to scan %s", input)
		}

		if packageName == "" {
			packageName = filepath.Base(strings.TrimSuffix(input, string(filepath.Separator)))
		}

		return append(result, packageName, packageName+".exe"), nil
	}

	base := strings.TrimSuffix(input, ".py")
	if packageName == "" {
		packageName = base
	}

	return []string{base + ".c", base + ".o", packageName, packageName + ".exe"}, nil
}

func buildTree(ctx context.Context, cfg *pyconfig.Config, opts Options, root string) (string, error) {
	sources := []string{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.IsDir() && strings.HasSuffix(path, ".py") {
			sources = append(sources, path)
		}
		return nil
	})
	if err != nil {
		return "", eris.Wrapf(err, "Failed to scan %s", root)
	}

	if len(sources) == 0 {
		return "", eris.Errorf("No Python sources found in %s", root)
	}

	exe := opts.Package
	if exe == "" {
		exe = filepath.Base(strings.TrimSuffix(root, string(filepath.Separator)))
	}
	exe += cfg.ExeSuffix

	pkg.PrintSubtask("Compiling " + root)
	bar := newProgressBar(len(sources), "compiling")
	objects := make([]string, 0, len(sources))
	for _, source := range sources {
		base := strings.TrimSuffix(source, ".py")

		err = transpile(ctx, opts, base)
		if err != nil {
			return "", err
		}

		err = runStep(ctx, "compile", compileObjectArgs(cfg, opts, base))
		if err != nil {
			return "", err
		}

		objects = append(objects, base+".o")
		// the progress bar only writes to the terminal, ignore its errors
		_ = bar.Add(1)
	}

	err = runStep(ctx, "link", linkArgs(cfg, opts, objects, exe))
	if err != nil {
		return "", err
	}

	return exe, nil
}

func transpile(ctx context.Context, opts Options, base string) error {
	argv := []string{opts.Cython, "--embed"}
	for _, directive := range opts.Directives {
		argv = append(argv, "-X", directive)
	}
	argv = append(argv, "-o", base+".c", base+".py")

	return runStep(ctx, "transpile", argv)
}

// compileLinkArgs builds the single compile-and-link invocation used for a
// lone module: source to binary in one step.
func compileLinkArgs(cfg *pyconfig.Config, opts Options, base, exe string) []string {
	argv := []string{cfg.CC, "-o", exe, base + ".c", "-I" + cfg.IncludeDir}
	argv = append(argv, cfg.CFlags...)
	argv = append(argv, cfg.SearchDirArgs()...)
	argv = append(argv, cfg.PythonLibArgs()...)
	argv = append(argv, cfg.Libs...)
	argv = append(argv, cfg.SysLibs...)
	argv = append(argv, cfg.LinkForShared...)
	argv = append(argv, opts.ExtraArgs...)

	return argv
}

func compileObjectArgs(cfg *pyconfig.Config, opts Options, base string) []string {
	argv := []string{cfg.CC, "-c", "-o", base + ".o", base + ".c", "-I" + cfg.IncludeDir}
	argv = append(argv, cfg.CFlags...)
	argv = append(argv, opts.ExtraArgs...)

	return argv
}

func linkArgs(cfg *pyconfig.Config, opts Options, objects []string, exe string) []string {
	argv := []string{cfg.LinkCC, "-o", exe}
	argv = append(argv, objects...)
	argv = append(argv, cfg.SearchDirArgs()...)
	argv = append(argv, cfg.PythonLibArgs()...)
	argv = append(argv, cfg.Libs...)
	argv = append(argv, cfg.SysLibs...)
	argv = append(argv, cfg.LinkForShared...)
	argv = append(argv, opts.ExtraArgs...)

	return argv
}

func newProgressBar(length int, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		return progressbar.NewOptions(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.Default(int64(length), desc)
}

func sameFile(a, b string) bool {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false
	}

	absB, err := filepath.Abs(b)
	if err != nil {
		return false
	}

	return absA == absB
}
