package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cybuild/cybuild/pkg"
	"github.com/cybuild/cybuild/pkg/builder"
	"github.com/cybuild/cybuild/pkg/pyconfig"
)

var rootCmd = &cobra.Command{
	Use:   "cybuild <module> [<package>] [<compiler flags>...]",
	Short: "Builds standalone executables from Python modules",
	Long: `cybuild translates a Python module into C with Cython's embed mode and
compiles the result into a native executable that runs an embedded CPython
interpreter. Requires CPython to be available as a shared library
(libpythonX.Y); the build configuration is discovered from the host
installation via python3-config and sysconfig.

The output binary is named after the optional package argument and defaults
to the module name. Anything after the module and package names is passed
unmodified to the C compiler, so -O2, -DNAME=value and friends work as
expected. When the module argument names a directory, every Python file
beneath it is compiled and linked into a single binary.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cython, err := cmd.Flags().GetString("cython")
		if err != nil {
			return err
		}

		if len(args) == 0 {
			return missingModule(cmd, cython)
		}

		python, err := cmd.Flags().GetString("python")
		if err != nil {
			return err
		}

		directives, err := cmd.Flags().GetStringArray("directive")
		if err != nil {
			return err
		}

		run, err := cmd.Flags().GetBool("run")
		if err != nil {
			return err
		}

		debug, err := cmd.Flags().GetBool("debug")
		if err != nil {
			return err
		}

		module, packageName, extraArgs := splitPositionalArgs(args)

		ctx, logger, stop := commandContext(cmd)
		defer stop()

		pkg.PrintTask("Discovering Python build configuration")
		cfg, err := pyconfig.Discover(ctx, python)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to discover the Python build configuration")
		}

		if debug {
			for _, entry := range cfg.Entries() {
				logger.Debug().Msgf("%s: %s", entry[0], entry[1])
			}
		}

		pkg.PrintTask("Building " + module)
		exe, err := builder.Build(ctx, cfg, builder.Options{
			Input:      module,
			Package:    packageName,
			Cython:     cython,
			Directives: directives,
			ExtraArgs:  extraArgs,
		})
		if err != nil {
			var exitErr *builder.ExitError
			if errors.As(err, &exitErr) {
				logger.Error().Str("step", exitErr.Step).Msgf("Step failed with status %d", exitErr.Code)
				return err
			}

			logger.Fatal().Err(err).Msgf("Failed to build %s", module)
		}

		pkg.PrintTask("Built " + exe)

		if run {
			return builder.Exec(ctx, exe)
		}

		return nil
	},
}

func init() {
	rootCmd.Flags().SetInterspersed(false)
	rootCmd.Flags().StringArrayP("directive", "X", nil, "set a transpiler compiler directive (name=value)")
	rootCmd.Flags().Bool("run", false, "execute the resulting binary after a successful build")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug output")
	rootCmd.PersistentFlags().String("python", "python3", "Python interpreter to build against")
	rootCmd.PersistentFlags().String("cython", "cython", "transpiler used for the embed translation")
}

// Execute runs the CLI and exits the process. Child tool failures exit with
// the same status the failing tool produced.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var exitErr *builder.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}

	// flag errors and other cobra-level failures haven't been printed yet
	pkg.PrintError(err.Error())
	os.Exit(1)
}

// splitPositionalArgs separates the module name, the optional package name
// and the pass-through compiler arguments. The package name is only
// recognized if it doesn't look like a flag; a literal -- between the
// positionals and the compiler arguments is allowed and skipped.
func splitPositionalArgs(args []string) (string, string, []string) {
	module := args[0]
	rest := args[1:]

	if len(rest) > 0 && rest[0] == "--" {
		rest = rest[1:]
	}

	packageName := ""
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		packageName = rest[0]
		rest = rest[1:]

		if len(rest) > 0 && rest[0] == "--" {
			rest = rest[1:]
		}
	}

	return module, packageName, rest
}

// missingModule reports the usage error for a missing module argument. The
// transpiler's own help is shown as well so the available options are
// visible in one place.
func missingModule(cmd *cobra.Command, cython string) error {
	fmt.Fprintf(os.Stderr, "Usage: %s <module> [<package>]\n", cmd.CommandPath())

	help := exec.Command(cython, "--help")
	help.Stdout = os.Stderr
	help.Stderr = os.Stderr
	// best effort; the usage error stands either way
	_ = help.Run()

	return &builder.ExitError{Step: "usage", Code: 1}
}

// commandContext builds the logger and the signal-aware context shared by
// all commands. An interrupt cancels the context, which kills whatever
// child process is currently running. The caller defers stop to release
// the signal registration.
func commandContext(cmd *cobra.Command) (context.Context, *zerolog.Logger, context.CancelFunc) {
	debug, err := cmd.Flags().GetBool("debug")
	if err != nil {
		debug = false
	}

	logger := zerolog.New(NewConsoleWriter())
	if debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	return pkg.WithLogger(ctx, &logger), &logger, stop
}
