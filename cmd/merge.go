package cmd

import (
	"fmt"

	"github.com/andresmejia3/aibum/internal/utils"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <source_id> <target_id>",
	Short: "Merge one person group into another",
	Long:  "Moves every face of the source into the target and deletes the source. The target keeps its label.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		source, target := args[0], args[1]

		engine, err := openEngine(cmd.Context(), Options{})
		if err != nil {
			utils.Die("Failed to load person groups", err, nil)
		}
		if err := engine.Merge(cmd.Context(), source, target); err != nil {
			utils.Die("Failed to merge people", err, nil)
		}

		fmt.Printf("✅ Person %s merged into %s\n", source, target)
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}
