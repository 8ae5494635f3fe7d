// This file wires the gdal-image-service HTTP endpoints to GeoServer, the
// index processors and the NATS status stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/airbusgeo/godal"
	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/ganeshsharma25-official/gdal-image-service/internal/geoserver"
	"github.com/ganeshsharma25-official/gdal-image-service/internal/processor"
	"github.com/ganeshsharma25-official/gdal-image-service/internal/server"
	"github.com/ganeshsharma25-official/gdal-image-service/internal/status"
)

// config represents the project.toml file.
type config struct {
	HTTP      httpConfig      `toml:"http"`
	GeoServer geoserverConfig `toml:"geoserver"`
	NATS      natsConfig      `toml:"nats"`
	Paths     pathsConfig     `toml:"paths"`
}

type httpConfig struct {
	Addr string `toml:"addr"`
}

type geoserverConfig struct {
	BaseURL  string `toml:"base_url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type natsConfig struct {
	URL           string `toml:"url"`
	Stream        string `toml:"stream"`
	SubjectPrefix string `toml:"subject_prefix"`
}

type pathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

const (
	defaultAddr          = ":8000"
	defaultGeoServerURL  = "http://localhost:8080/geoserver"
	defaultGeoServerUser = "admin"
	defaultGeoServerPass = "geoserver"
	defaultStream        = "IMAGE_PROCESSING_STATUS"
	defaultSubjectPrefix = "image.processing.status"

	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	if runErr := run(ctx); runErr != nil {
		log.Printf("Fatal application error: %v", runErr)
		os.Exit(1)
	}

	log.Println("Application shut down gracefully.")
}

// run initializes all components and serves until the context is canceled.
func run(ctx context.Context) error {
	godal.RegisterAll()

	cfg, appLogger, setupErr := setupConfigAndLogger()
	if setupErr != nil {
		return setupErr
	}
	defer func() {
		if closeErr := appLogger.Close(); closeErr != nil {
			log.Printf("Warning: failed to close app logger: %v", closeErr)
		}
	}()

	publisher, publisherErr := status.New(ctx, status.Config{
		URL:           cfg.NATS.URL,
		Stream:        cfg.NATS.Stream,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
	}, appLogger)
	if publisherErr != nil {
		return fmt.Errorf("failed to set up status publisher: %w", publisherErr)
	}
	defer publisher.Close()

	catalog := geoserver.New(
		cfg.GeoServer.BaseURL,
		cfg.GeoServer.Username,
		cfg.GeoServer.Password,
		appLogger,
	)

	srv := server.New(
		catalog,
		publisher,
		processor.NewNDVI(appLogger),
		processor.NewNDWI(appLogger),
		appLogger,
	)

	return serveHTTP(ctx, cfg.HTTP.Addr, srv.Handler(), appLogger)
}

// setupConfigAndLogger loads project.toml and opens the application logger.
func setupConfigAndLogger() (*config, *logger.Logger, error) {
	projectRoot, configPath, rootErr := configurator.FindProjectRoot(".")
	if rootErr != nil {
		return nil, nil, fmt.Errorf("could not find project root: %w", rootErr)
	}

	cfg, cfgErr := loadConfig(configPath)
	if cfgErr != nil {
		return nil, nil, cfgErr
	}

	logDir := cfg.Paths.BaseLogsDir
	if logDir == "" {
		logDir = filepath.Join(projectRoot, "logs", "gdal_image_service")
	}

	appLogger, loggerErr := logger.New(logDir, "gdal-image-service.log")
	if loggerErr != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", loggerErr)
	}

	return cfg, appLogger, nil
}

// loadConfig reads project.toml, tolerating a missing file, and fills
// defaults for anything unset.
func loadConfig(path string) (*config, error) {
	var cfg config

	_, decodeErr := toml.DecodeFile(path, &cfg)
	if decodeErr != nil && !errors.Is(decodeErr, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to decode config file: %w", decodeErr)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = defaultAddr
	}

	if cfg.GeoServer.BaseURL == "" {
		cfg.GeoServer.BaseURL = defaultGeoServerURL
	}

	if cfg.GeoServer.Username == "" {
		cfg.GeoServer.Username = defaultGeoServerUser
	}

	if cfg.GeoServer.Password == "" {
		cfg.GeoServer.Password = defaultGeoServerPass
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = nats.DefaultURL
	}

	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = defaultStream
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = defaultSubjectPrefix
	}
}

// serveHTTP runs the HTTP server until ctx is canceled, then shuts it down.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, appLogger *logger.Logger) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	appLogger.Info("Listening on %s", addr)

	select {
	case err := <-serveErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		return fmt.Errorf("HTTP shutdown failed: %w", shutdownErr)
	}

	return nil
}
