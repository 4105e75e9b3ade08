package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/aibum/internal/cluster"
	"github.com/andresmejia3/aibum/internal/types"
	"github.com/andresmejia3/aibum/internal/utils"
	"github.com/spf13/cobra"
)

var ingestOpts Options

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Cluster faces from a JSON file of precomputed detections",
	Long: `Reads a JSON array of faces ({"id","embedding","sourceImage","region","landmarks"})
from a file, or from stdin with --input -, and assigns them to people in order.`,
	Run: func(cmd *cobra.Command, args []string) {
		runIngest(cmd.Context(), ingestOpts)
	},
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestOpts.InputPath, "input", "i", "", "Detections JSON file, or - for stdin")
	addClusterFlags(ingestCmd, &ingestOpts)

	ingestCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(ctx context.Context, opts Options) {
	var in io.Reader = os.Stdin
	if opts.InputPath != "-" {
		f, err := os.Open(opts.InputPath)
		if err != nil {
			utils.Die("Failed to open detections", err, nil)
		}
		defer f.Close()
		in = f
	}

	faces, err := decodeFaces(in)
	if err != nil {
		utils.Die("Failed to read detections", err, nil)
	}

	engine, err := openEngine(ctx, opts)
	if err != nil {
		utils.Die("Failed to load person groups", err, nil)
	}

	ids, batchErr := engine.ProcessBatch(ctx, faces)
	if err := engine.Save(context.WithoutCancel(ctx)); err != nil {
		utils.Die("Failed to save person groups", err, nil)
	}

	rejected := 0
	if batchErr != nil {
		if errors.Is(batchErr, context.Canceled) {
			utils.Die("Ingest interrupted", batchErr, nil)
		}
		for _, id := range ids {
			if id == "" {
				rejected++
			}
		}
		fmt.Fprintf(os.Stderr, "⚠️  %d faces rejected:\n%v\n", rejected, batchErr)
	}

	fmt.Fprintf(os.Stderr, "✅ Grouped %d faces into %d people\n", len(faces)-rejected, len(engine.ListGroups()))
	for i, id := range ids {
		if id != "" {
			fmt.Printf("%d\t%s\n", i, id)
		}
	}
}

// decodeFaces reads a JSON array of faces. Embedding validation is left to the engine.
func decodeFaces(r io.Reader) ([]types.Face, error) {
	var faces []types.Face
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&faces); err != nil {
		return nil, fmt.Errorf("%w: %v", cluster.ErrInvalidInput, err)
	}
	return faces, nil
}
