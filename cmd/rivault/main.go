package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashmitkumar2005/rivault/internal/blob"
	"github.com/ashmitkumar2005/rivault/internal/blob/boltblob"
	"github.com/ashmitkumar2005/rivault/internal/blob/fsblob"
	"github.com/ashmitkumar2005/rivault/internal/config"
	"github.com/ashmitkumar2005/rivault/internal/dispatcher"
	"github.com/ashmitkumar2005/rivault/internal/engine"
	"github.com/ashmitkumar2005/rivault/internal/rvlog"
	"github.com/ashmitkumar2005/rivault/internal/rvmetrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rivault",
	Short: "Rivault - single-user encrypted cloud drive backend",
	Long: `Rivault stores an encrypted file tree per user: folders, drives with
quotas, and files whose chunks are encrypted entirely client-side before
they ever reach the server.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("rivault version %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(mkdriveCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(mvCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	rvlog.Init(rvlog.Config{
		Level:      rvlog.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rivault dispatcher and metrics server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.ServerFromEnv()
		if err := cfg.Validate(); err != nil {
			return err
		}

		var opener engine.BlobOpener
		switch cfg.BlobBackend {
		case "fs":
			opener = func(userID, dataDir string) (blob.Store, error) {
				return fsblob.Open(dataDir + "/blobs")
			}
		default:
			opener = func(userID, dataDir string) (blob.Store, error) {
				return boltblob.Open(dataDir + "/blobs.db")
			}
		}

		registry := engine.NewRegistry(cfg.DataDir, opener)
		defer registry.Close()

		rvmetrics.SetVersion(Version)
		rvmetrics.SetComponentHealthy("registry", true)

		metricsAddr := fmt.Sprintf(":%d", cfg.MetricsPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", rvmetrics.Handler())
			mux.Handle("/health", rvmetrics.HealthHandler())
			mux.Handle("/ready", rvmetrics.ReadyHandler())
			mux.Handle("/live", rvmetrics.LiveHandler())
			rvlog.Info(fmt.Sprintf("metrics listening on %s", metricsAddr))
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				rvlog.Errorf("metrics server error: %v", err)
			}
		}()

		srv := dispatcher.NewServer(registry, cfg)
		addr := fmt.Sprintf(":%d", cfg.Port)

		errCh := make(chan error, 1)
		go func() {
			rvlog.Info(fmt.Sprintf("dispatcher listening on %s", addr))
			if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			rvlog.Info("shutting down")
		case err := <-errCh:
			return fmt.Errorf("dispatcher error: %w", err)
		}

		return srv.Stop()
	},
}
