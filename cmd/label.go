package cmd

import (
	"fmt"

	"github.com/andresmejia3/aibum/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <group_id> <name>",
	Short: "Assign a name to a person group",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, name := args[0], args[1]

		// Relabel saves on success
		engine, err := openEngine(cmd.Context(), Options{})
		if err != nil {
			utils.Die("Failed to load person groups", err, nil)
		}
		if err := engine.Relabel(cmd.Context(), id, name); err != nil {
			utils.Die("Failed to label person", err, nil)
		}

		fmt.Printf("✅ Person %s labeled as '%s'\n", id, name)
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}
