package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/andresmejia3/aibum/internal/analyze"
	"github.com/andresmejia3/aibum/internal/cluster"
	"github.com/andresmejia3/aibum/internal/types"
	"github.com/andresmejia3/aibum/internal/utils"
	"github.com/andresmejia3/aibum/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	analyzeOpts   Options
	analyzePython string
	analyzeScript string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Detect faces in images and group them into people",
	Run: func(cmd *cobra.Command, args []string) {
		runAnalyze(cmd.Context(), analyzeOpts)
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOpts.InputPath, "input", "i", "", "Image file or directory of images")
	analyzeCmd.Flags().IntVarP(&analyzeOpts.NumEngines, "engines", "e", 0, "Number of parallel detection workers (default from AIBUM_WORKERS or 1)")
	analyzeCmd.Flags().StringVar(&analyzePython, "python", "", "Python interpreter for the detection worker")
	analyzeCmd.Flags().StringVar(&analyzeScript, "worker-script", "", "Detection worker script")
	addClusterFlags(analyzeCmd, &analyzeOpts)

	analyzeCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(analyzeCmd)
}

// runAnalyze orchestrates an analysis run: engine restore, worker pool, detection and clustering, then save.
func runAnalyze(ctx context.Context, opts Options) {
	if opts.NumEngines < 1 {
		opts.NumEngines = Cfg.Worker.Engines
	}
	if err := validateAnalyzeFlags(&opts); err != nil {
		utils.Die("Invalid arguments", err, nil)
	}

	// 1. Discover images
	paths, err := utils.ListImages(opts.InputPath)
	if err != nil {
		utils.Die("Failed to list images", err, nil)
	}
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "🤷 No images found in %s\n", opts.InputPath)
		return
	}

	// 2. Restore known people
	engine, err := openEngine(ctx, opts)
	if err != nil {
		utils.Die("Failed to load person groups", err, nil)
	}

	// 3. Spawn the Engine Pool
	python, script := Cfg.Worker.Python, Cfg.Worker.Script
	if analyzePython != "" {
		python = analyzePython
	}
	if analyzeScript != "" {
		script = analyzeScript
	}
	fmt.Fprintf(os.Stderr, "📷 Found %d images\n", len(paths))
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", opts.NumEngines)

	detectors := make([]analyze.Detector, 0, opts.NumEngines)
	for i := 0; i < opts.NumEngines; i++ {
		w, err := worker.NewPythonWorker(i, python, script)
		if err != nil {
			utils.Die("Worker startup failed", err, nil)
		}
		defer w.Close()
		detectors = append(detectors, w)
	}

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("🔍 Analyzing"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	tasks := make([]types.ImageTask, len(paths))
	for i, p := range paths {
		tasks[i] = types.ImageTask{Index: i, Ref: p}
	}

	// 4. Detect and cluster
	pipeline := analyze.New(engine, detectors, analyze.Options{
		Progress: func(done, total int) { bar.Set(done) },
		Logger:   Log,
	})
	result, runErr := pipeline.Run(ctx, tasks)
	bar.Finish()

	// 5. Persist whatever was committed, even after Ctrl+C
	if err := engine.Save(context.WithoutCancel(ctx)); err != nil {
		utils.Die("Failed to save person groups", err, nil)
	}
	if runErr != nil {
		utils.Die("Analysis interrupted", runErr, nil)
	}

	printAnalyzeSummary(os.Stderr, result, engine.ListGroups())
}

// validateAnalyzeFlags ensures all CLI arguments are valid before starting heavy processes.
func validateAnalyzeFlags(opts *Options) error {
	if _, err := os.Stat(opts.InputPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input path does not exist: %s", opts.InputPath)
		}
		return fmt.Errorf("unable to access input path: %w", err)
	}
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	if opts.MatchThreshold < 0 {
		return fmt.Errorf("match threshold must be positive, got %f", opts.MatchThreshold)
	}
	if opts.MatchPolicy != "" {
		if _, err := cluster.ParseMatchPolicy(opts.MatchPolicy); err != nil {
			return err
		}
	}
	return nil
}

func printAnalyzeSummary(out io.Writer, result *analyze.Result, groups []cluster.Group) {
	fmt.Fprintf(out, "\n---------------------------------------------------------\n")
	fmt.Fprintf(out, "📊 ANALYSIS SUMMARY\n")
	fmt.Fprintf(out, "---------------------------------------------------------\n")

	for _, g := range groups {
		fmt.Fprintf(out, "\n👤 %s (%s): %d faces\n", displayLabel(g.Label), g.ID, len(g.Faces))
		for _, img := range groupImages(g) {
			fmt.Fprintf(out, "   %s\n", img)
		}
	}

	fmt.Fprintf(out, "\n---------------------------------------------------------\n")
	fmt.Fprintf(out, "🖼️  Images Analyzed:         %d\n", result.Images)
	fmt.Fprintf(out, "👁️  Faces Grouped:           %d\n", result.Faces)
	if result.Rejected > 0 {
		fmt.Fprintf(out, "⚠️  Faces Rejected:          %d\n", result.Rejected)
	}
	if len(result.Failed) > 0 {
		fmt.Fprintf(out, "⚠️  Images Failed:           %d\n", len(result.Failed))
	}
	fmt.Fprintf(out, "---------------------------------------------------------\n")
}

// groupImages returns the distinct source images of a group, sorted.
func groupImages(g cluster.Group) []string {
	seen := make(map[string]bool)
	var images []string
	for _, f := range g.Faces {
		if f.SourceImage != "" && !seen[f.SourceImage] {
			seen[f.SourceImage] = true
			images = append(images, f.SourceImage)
		}
	}
	sort.Strings(images)
	return images
}

func displayLabel(label string) string {
	if label == "" {
		return "(unnamed)"
	}
	return label
}
