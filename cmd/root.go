package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/aibum/internal/cluster"
	"github.com/andresmejia3/aibum/internal/config"
	"github.com/andresmejia3/aibum/internal/logger"
	"github.com/andresmejia3/aibum/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Options holds flags shared by the commands that cluster faces
type Options struct {
	InputPath      string
	NumEngines     int
	MatchThreshold float64
	MatchPolicy    string
	IDSeed         string
}

var (
	// Cfg is the configuration loaded from the environment and overridden by flags
	Cfg *config.Config
	// Log is the structured logger shared by subcommands
	Log *logger.Logger
	// Backend is the person group store shared by subcommands
	Backend store.Backend

	storeFlag     string
	storePathFlag string
	dbURL         string
	logLevelFlag  string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "aibum",
	Short:   "Incremental face clustering for photo albums",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal; real environment variables always win.
		_ = godotenv.Load()

		Cfg = config.Load()
		if storeFlag != "" {
			Cfg.Store.Backend = storeFlag
		}
		if storePathFlag != "" {
			Cfg.Store.Path = storePathFlag
		}
		if dbURL != "" {
			Cfg.Store.DatabaseURL = dbURL
		}
		if logLevelFlag != "" {
			Cfg.Log.Level = logLevelFlag
		}
		if err := Cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		Log = logger.New(&logger.Config{
			Level:       Cfg.Log.Level,
			Format:      Cfg.Log.Format,
			Output:      os.Stderr,
			ServiceName: "aibum",
		})

		// Use the command's context (which will be cancellable) for the connection
		var err error
		Backend, err = store.Open(cmd.Context(), Cfg.Store)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if Backend != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to release the store.
			Backend.Close(context.Background())
		}
	},
}

// openEngine restores the person groups from the backend and returns a ready engine.
// Flags on opts, when set, override the configured clustering values.
func openEngine(ctx context.Context, opts Options) (*cluster.Engine, error) {
	threshold := Cfg.Cluster.Threshold
	if opts.MatchThreshold > 0 {
		threshold = opts.MatchThreshold
	}
	policyName := Cfg.Cluster.MatchPolicy
	if opts.MatchPolicy != "" {
		policyName = opts.MatchPolicy
	}
	policy, err := cluster.ParseMatchPolicy(policyName)
	if err != nil {
		return nil, err
	}
	seed := Cfg.Cluster.IDSeed
	if opts.IDSeed != "" {
		seed = opts.IDSeed
	}
	ids := cluster.RandomIDs()
	if seed != "" {
		ids = cluster.SeededIDs(seed)
	}

	return cluster.Open(ctx, cluster.NewGroupStore(ids), Backend, cluster.Options{
		Threshold:   threshold,
		Dimension:   Cfg.Cluster.Dimension,
		MatchPolicy: policy,
		Logger:      Log,
	})
}

// addClusterFlags registers the flags shared by commands that assign faces.
func addClusterFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().Float64VarP(&opts.MatchThreshold, "threshold", "t", 0, "Face matching threshold, Euclidean distance (default from AIBUM_THRESHOLD or 0.6)")
	cmd.Flags().StringVar(&opts.MatchPolicy, "match-policy", "", "Compare against the group 'representative' or 'any-member'")
	cmd.Flags().StringVar(&opts.IDSeed, "seed", "", "Seed for reproducible group IDs")
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Person group store: file or postgres (default from AIBUM_STORE or file)")
	rootCmd.PersistentFlags().StringVar(&storePathFlag, "store-path", "", "JSON file used by the file store (default personGroups.json)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/aibum)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
}
