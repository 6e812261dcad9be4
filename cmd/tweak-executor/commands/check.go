package commands

import "github.com/spf13/cobra"

// CheckCmd compares the storage layout of an edited contract with the original
var CheckCmd = &cobra.Command{
	Use:   "check <metadata> <artifact>",
	Short: "Check storage layout compatibility",
	Long: `Check that every storage variable recorded in the clone metadata keeps its slot and offset
in the storage layout of the freshly compiled artifact.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger(cmd)

		if err := checkLayout(args[0], args[1], log); err != nil {
			return err
		}
		log.Info("Storage layout is compatible")
		return nil
	},
}
