package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/aibum/internal/utils"
	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every stored person group",
	Long:  "Clears the configured store: removes the JSON file, or drops and recreates the PostgreSQL table.",
	Run: func(cmd *cobra.Command, args []string) {
		reader := bufio.NewReader(os.Stdin)

		if !resetYes && !confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Are you sure you want to delete all people from the %s store?", Cfg.Store.Backend)) {
			fmt.Println("Aborted.")
			return
		}

		fmt.Println("🗑️  Clearing person groups...")
		if err := Backend.Reset(cmd.Context()); err != nil {
			utils.Die("Failed to reset store", err, nil)
		}
		fmt.Println("✨ Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
