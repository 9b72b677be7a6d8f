package cmd

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/cybuild/cybuild/pkg"
	"github.com/cybuild/cybuild/pkg/builder"
)

var cleanCmd = &cobra.Command{
	Use:   "clean <module> [<package>]",
	Short: "Removes the artifacts a previous build left behind",
	Long: `Deletes the generated C translation units, object files and the output
binary for the given module. Artifacts that were never produced are
skipped; other removal errors abort unless -f is passed.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		packageName := ""
		if len(args) > 1 {
			packageName = args[1]
		}

		items, err := builder.Artifacts(args[0], packageName)
		if err != nil {
			return err
		}

		for _, item := range items {
			// never touch the sources, whatever the package was named
			if strings.HasSuffix(item, ".py") {
				continue
			}

			info, err := os.Stat(item)
			if err != nil {
				if eris.Is(err, os.ErrNotExist) {
					continue
				}

				return eris.Wrapf(err, "Could not stat %s", item)
			}

			if info.IsDir() {
				return eris.Errorf("%s is a directory, refusing to delete it", item)
			}

			pkg.PrintSubtask("Removing " + item)
			err = os.Remove(item)
			if err != nil && !force {
				return eris.Wrapf(err, "Could not delete %s", item)
			}
		}

		return nil
	},
}

func init() {
	cleanCmd.Flags().BoolP("force", "f", false, "suppresses errors caused by files that can't be removed")
	rootCmd.AddCommand(cleanCmd)
}
