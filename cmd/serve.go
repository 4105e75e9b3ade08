package cmd

import (
	"context"
	"time"

	"github.com/andresmejia3/aibum/internal/utils"
	"github.com/andresmejia3/aibum/internal/web"
	"github.com/spf13/cobra"
)

var (
	serveOpts Options
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the clustering engine over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if serveHost != "" {
			Cfg.Server.Host = serveHost
		}
		if servePort > 0 {
			Cfg.Server.Port = servePort
		}

		engine, err := openEngine(ctx, serveOpts)
		if err != nil {
			utils.Die("Failed to load person groups", err, nil)
		}
		server := web.NewServer(engine, Cfg.Server, Log)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		// Faces assigned over HTTP are only persisted by relabel and merge, so flush on exit
		return engine.Save(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (default from AIBUM_HOST or 0.0.0.0)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (default from AIBUM_PORT or 8080)")
	addClusterFlags(serveCmd, &serveOpts)
	rootCmd.AddCommand(serveCmd)
}
