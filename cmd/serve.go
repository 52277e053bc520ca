package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/facegate/facegate/internal/camera"
	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/dataset"
	"github.com/facegate/facegate/internal/facedb"
	"github.com/facegate/facegate/internal/recognize"
	"github.com/facegate/facegate/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the face recognition server",
	Long: `Start the Facegate recognition server.
The server listens for TCP clients, captures frames from the configured
camera directory and answers recognition, enrollment and dataset requests.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to (overrides FACEGATE_HOST)")
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides FACEGATE_PORT)")
	serveCmd.Flags().Int("workers", 0, "Session worker pool size (overrides FACEGATE_WORKERS)")
	serveCmd.Flags().Int("stats-port", 0, "Port for the HTTP stats endpoint, 0 disables it")
}

// faceFiles maps a backend variant to its file store name.
var faceFiles = map[string]string{
	recognize.VariantEncoding:  "known_faces.json",
	recognize.VariantDetection: "detected_faces.json",
}

// newStoreFactory picks the persistence backend: PostgreSQL when a database
// URL is configured, JSON files otherwise.
func newStoreFactory(cfg *config.Config) recognize.StoreFactory {
	return func(variant string) (facedb.Store, error) {
		if cfg.Database.URL != "" {
			return facedb.NewPostgresStore(&cfg.Database, variant)
		}
		name, ok := faceFiles[variant]
		if !ok {
			return nil, fmt.Errorf("unknown backend variant %q", variant)
		}
		return facedb.NewFileStore(filepath.Join(cfg.Recognition.DataDir, name)), nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := newLogger()

	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Server.Host = host
	}
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Server.Port = port
	}
	if workers := mustGetInt(cmd, "workers"); workers != 0 {
		cfg.Server.Workers = workers
	}
	if statsPort := mustGetInt(cmd, "stats-port"); statsPort != 0 {
		cfg.Server.StatsPort = statsPort
	}

	if cfg.Database.URL != "" {
		fmt.Println("Using PostgreSQL face storage")
	} else {
		fmt.Printf("Using file face storage in %s\n", cfg.Recognition.DataDir)
	}

	svc, err := recognize.New(cfg.Recognition, newStoreFactory(cfg), logger)
	if err != nil {
		return fmt.Errorf("initializing recognition backend: %w", err)
	}
	defer svc.Close()

	cam := camera.NewDirCamera(cfg.Camera.Dir)
	collector := dataset.NewCollector(cfg.Dataset.Dir)
	srv := server.New(cfg.Server, svc, cam, collector, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		srv.Shutdown()
	}()

	fmt.Printf("Starting Facegate server on %s:%d (backend: %s)\n", cfg.Server.Host, cfg.Server.Port, svc.Backend())
	fmt.Println("Press Ctrl+C to stop")

	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("running server: %w", err)
	}
	return nil
}
