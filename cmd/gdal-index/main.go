// Command gdal-index batch-computes spectral indices for every GeoTIFF in a
// directory, writing the derived rasters next to their inputs.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/airbusgeo/godal"
	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/cheggaaa/pb/v3"

	"github.com/ganeshsharma25-official/gdal-image-service/internal/processor"
)

type configPaths struct {
	InputDir string `toml:"input_dir"`
}

type configLogsDir struct {
	GdalIndex string `toml:"gdal_index"`
}

// config represents the structure of the project.toml file.
type config struct {
	Paths   configPaths   `toml:"paths"`
	LogsDir configLogsDir `toml:"logs_dir"`
}

// ErrNoInputDir is returned when neither the config file nor the flags name
// an input directory.
var ErrNoInputDir = errors.New("input directory is required")

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flags represents the command-line arguments.
type flags struct {
	inputDir  string
	indexName string
}

func parseFlags() flags {
	var flagsVar flags
	flag.StringVar(
		&flagsVar.inputDir,
		"input",
		"",
		"Input directory containing GeoTIFF files (required unless configured).",
	)
	flag.StringVar(
		&flagsVar.indexName,
		"index",
		"ndvi",
		"Index to compute: ndvi, ndwi or both.",
	)
	flag.Parse()

	return flagsVar
}

func run() error {
	godal.RegisterAll()

	projectRoot, configPath, rootErr := configurator.FindProjectRoot(".")
	if rootErr != nil {
		return fmt.Errorf("could not find project root: %w", rootErr)
	}

	cfg, cfgErr := safeLoadConfig(configPath)
	if cfgErr != nil {
		return cfgErr
	}

	flgs := parseFlags()

	inputDir := cfg.Paths.InputDir
	if flgs.inputDir != "" {
		inputDir = flgs.inputDir
	}

	if inputDir == "" {
		return ErrNoInputDir
	}

	log, logErr := setupLogger(projectRoot, cfg.LogsDir.GdalIndex)
	if logErr != nil {
		return logErr
	}
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	runners, runnersErr := selectRunners(flgs.indexName, log)
	if runnersErr != nil {
		return runnersErr
	}

	return processAll(inputDir, runners, log)
}

// safeLoadConfig loads the TOML config, allowing a missing file.
func safeLoadConfig(path string) (config, error) {
	var cfg config

	_, decodeErr := toml.DecodeFile(path, &cfg)
	if decodeErr != nil && !errors.Is(decodeErr, os.ErrNotExist) {
		return config{}, fmt.Errorf("error loading config file: %w", decodeErr)
	}

	return cfg, nil
}

// ErrUnknownIndex is returned when the -index flag names no known index.
var ErrUnknownIndex = errors.New("unknown index, want ndvi, ndwi or both")

// selectRunners maps the -index flag to processors.
func selectRunners(indexName string, log *logger.Logger) ([]*processor.Processor, error) {
	switch indexName {
	case "ndvi":
		return []*processor.Processor{processor.NewNDVI(log)}, nil
	case "ndwi":
		return []*processor.Processor{processor.NewNDWI(log)}, nil
	case "both":
		return []*processor.Processor{processor.NewNDVI(log), processor.NewNDWI(log)}, nil
	default:
		return nil, fmt.Errorf("%q: %w", indexName, ErrUnknownIndex)
	}
}

// setupLogger initializes the logger, creating the log directory if needed.
func setupLogger(projectRoot, logDirConfig string) (*logger.Logger, error) {
	logDir := logDirConfig
	if logDir == "" {
		logDir = filepath.Join(projectRoot, "logs", "gdal_index")
	}

	logFileName := fmt.Sprintf("log_%s.log", time.Now().Format("20060102_150405"))

	log, err := logger.New(logDir, logFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// processAll runs every selected index over every discovered raster. One
// failed file does not stop the batch.
func processAll(inputDir string, runners []*processor.Processor, log *logger.Logger) error {
	rasterPaths, discoverErr := processor.DiscoverRasters(inputDir)
	if discoverErr != nil {
		return fmt.Errorf("failed to discover rasters: %w", discoverErr)
	}

	if len(rasterPaths) == 0 {
		return fmt.Errorf("no GeoTIFF files found in %s: %w", inputDir, os.ErrNotExist)
	}

	log.Info("Found %d raster(s) to process.", len(rasterPaths))

	bar := pb.New(len(rasterPaths) * len(runners)).
		SetTemplateString(`{{ bar . " " "━" "━" " " " "}} {{percent .}} {{rtime .}}`).
		SetWriter(os.Stdout).
		Start()
	defer bar.Finish()

	for _, rasterPath := range rasterPaths {
		layerName := processor.LayerNameFromPath(rasterPath)

		for _, runner := range runners {
			bar.Increment()

			outputPath, processErr := runner.Process(rasterPath, layerName)
			if processErr != nil {
				log.Error(
					"Failed to process %s (%s): %v",
					filepath.Base(rasterPath),
					runner.Formula(),
					processErr,
				)

				continue
			}

			log.Success("%s -> %s", filepath.Base(rasterPath), outputPath)
		}
	}

	return nil
}
