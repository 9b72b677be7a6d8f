package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cybuild/cybuild/pkg/pyconfig"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Prints the discovered Python build configuration",
	Long: `Queries python3-config and the interpreter's sysconfig module for the
values cybuild passes to the C compiler and prints them in a stable order.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		python, err := cmd.Flags().GetString("python")
		if err != nil {
			return err
		}

		ctx, logger, stop := commandContext(cmd)
		defer stop()

		cfg, err := pyconfig.Discover(ctx, python)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to discover the Python build configuration")
		}

		for _, entry := range cfg.Entries() {
			fmt.Printf("%-15s %s\n", entry[0]+":", entry[1])
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
