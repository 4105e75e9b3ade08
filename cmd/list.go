package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/aibum/internal/cluster"
	"github.com/andresmejia3/aibum/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all known people in the store",
	Run: func(cmd *cobra.Command, args []string) {
		records, err := Backend.Load(cmd.Context())
		if err != nil {
			utils.Die("Failed to list people", err, nil)
		}
		printRecords(os.Stdout, records)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func printRecords(out io.Writer, records []cluster.Record) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No people found in the store.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tID\tLABEL\tDIM")
	fmt.Fprintln(w, "-\t--\t-----\t---")

	for i, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", i+1, r.ID, displayLabel(r.Label), len(r.Descriptor))
	}
	w.Flush()
}
