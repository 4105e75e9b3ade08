package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/aibum/internal/types"
	"github.com/andresmejia3/aibum/internal/utils"
	"github.com/andresmejia3/aibum/internal/worker"
	"github.com/spf13/cobra"
)

var findOpts Options

var findCmd = &cobra.Command{
	Use:   "find <image_path>",
	Short: "Report which known person each face in an image belongs to",
	Long:  "Detects the faces in one image and reports the person each would join. Nothing is assigned or saved.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runFind(cmd.Context(), args[0], findOpts)
	},
}

func init() {
	addClusterFlags(findCmd, &findOpts)
	rootCmd.AddCommand(findCmd)
}

func runFind(ctx context.Context, imagePath string, opts Options) error {
	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read image file: %w", err)
	}

	engine, err := openEngine(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to load person groups: %w", err)
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	// We use ID 0 for this ad-hoc worker
	w, err := worker.NewPythonWorker(0, Cfg.Worker.Python, Cfg.Worker.Script)
	if err != nil {
		return fmt.Errorf("failed to start AI worker: %w", err)
	}
	defer w.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	faces, err := w.Detect(ctx, imgData)
	if err != nil {
		utils.Die("AI processing failed", err, w.Cmd)
	}
	if len(faces) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	out := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(out, "FACE\tREGION\tPERSON\tID\tDISTANCE")
	fmt.Fprintln(out, "----\t------\t------\t--\t--------")
	for i, f := range faces {
		m, ok, err := engine.Match(ctx, f.Embedding)
		if err != nil {
			return fmt.Errorf("face %d: %w", i, err)
		}
		if !ok {
			fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%s\n", i, fmtRegion(f.Region), "❌ unknown", "-", "-")
			continue
		}
		fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%.3f\n", i, fmtRegion(f.Region), displayLabel(m.Label), m.GroupID, m.Distance)
	}
	return out.Flush()
}

func fmtRegion(r types.Region) string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}
