// Package server exposes the index processing endpoints over HTTP and ties
// together the catalog, the processors and the status publisher.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/book-expert/logger"

	"github.com/ganeshsharma25-official/gdal-image-service/internal/geoserver"
	"github.com/ganeshsharma25-official/gdal-image-service/internal/index"
	"github.com/ganeshsharma25-official/gdal-image-service/internal/raster"
)

// layerNamePattern is the accepted request identifier: workspace:layer.
var layerNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+:[A-Za-z0-9_-]+$`)

// Catalog resolves and registers layers in the backing map server.
type Catalog interface {
	LayerFilePath(ctx context.Context, workspace, layer string) (string, error)
	LayerExists(ctx context.Context, workspace, layer string) (bool, error)
	PublishLayer(ctx context.Context, workspace, store, filePath string) error
}

// Runner executes one index computation against an input file.
type Runner interface {
	Formula() index.Formula
	Process(inputPath, layerName string) (string, error)
}

// StatusPublisher emits one event per finished run.
type StatusPublisher interface {
	PublishSuccess(ctx context.Context, workspace, store, layerType, originalLayer, filePath string) error
	PublishFailure(ctx context.Context, workspace, store, layerType, originalLayer, errorMessage string) error
}

// Server handles the processing endpoints.
type Server struct {
	catalog   Catalog
	publisher StatusPublisher
	ndvi      Runner
	ndwi      Runner
	log       *logger.Logger
}

// New assembles a Server from its collaborators.
func New(catalog Catalog, publisher StatusPublisher, ndvi, ndwi Runner, log *logger.Logger) *Server {
	return &Server{
		catalog:   catalog,
		publisher: publisher,
		ndvi:      ndvi,
		ndwi:      ndwi,
		log:       log,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /process-ndvi/", func(w http.ResponseWriter, r *http.Request) {
		s.handleProcess(w, r, s.ndvi)
	})
	mux.HandleFunc("POST /process-ndwi/", func(w http.ResponseWriter, r *http.Request) {
		s.handleProcess(w, r, s.ndwi)
	})

	return mux
}

// processRequest is the request body of both endpoints.
type processRequest struct {
	LayerName string `json:"layer_name"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request, runner Runner) {
	var request processRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&request); decodeErr != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")

		return
	}

	if !layerNamePattern.MatchString(request.LayerName) {
		writeError(w, http.StatusBadRequest, "Invalid layer format. Expected workspace:layer_name")

		return
	}

	workspace, layer, _ := strings.Cut(request.LayerName, ":")
	ctx := r.Context()

	inputPath, lookupErr := s.catalog.LayerFilePath(ctx, workspace, layer)
	if lookupErr != nil {
		if errors.Is(lookupErr, geoserver.ErrLayerNotFound) {
			writeError(w, http.StatusNotFound, "Layer "+request.LayerName+" not found")

			return
		}

		s.log.Error("Catalog lookup for %s failed: %v", request.LayerName, lookupErr)
		writeError(w, http.StatusInternalServerError, "Catalog lookup failed")

		return
	}

	storeName := layer + storeSuffix(runner.Formula())

	exists, existsErr := s.catalog.LayerExists(ctx, workspace, storeName)
	if existsErr != nil {
		s.log.Error("Existence check for %s:%s failed: %v", workspace, storeName, existsErr)
		writeError(w, http.StatusInternalServerError, "Catalog lookup failed")

		return
	}

	if exists {
		writeError(w, http.StatusConflict, "Layer "+workspace+":"+storeName+" already exists")

		return
	}

	s.runAndPublish(ctx, w, runner, workspace, layer, storeName, inputPath)
}

// runAndPublish invokes the processor, registers a successful output with the
// catalog and emits exactly one status event for the run.
func (s *Server) runAndPublish(
	ctx context.Context,
	w http.ResponseWriter,
	runner Runner,
	workspace, layer, storeName, inputPath string,
) {
	layerType := runner.Formula().String()

	outputPath, processErr := runner.Process(inputPath, layer)
	if processErr != nil {
		s.log.Error("%s processing of %s:%s failed: %v", layerType, workspace, layer, processErr)
		s.emitFailure(ctx, workspace, storeName, layerType, layer, processErr)

		if errors.Is(processErr, raster.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, layerType+" output already exists")

			return
		}

		writeError(w, http.StatusInternalServerError, layerType+" processing failed")

		return
	}

	if publishErr := s.catalog.PublishLayer(ctx, workspace, storeName, outputPath); publishErr != nil {
		s.log.Error("Failed to publish %s:%s: %v", workspace, storeName, publishErr)
		s.removeFile(outputPath)
		s.emitFailure(ctx, workspace, storeName, layerType, layer, publishErr)
		writeError(w, http.StatusInternalServerError, "Failed to publish "+layerType+" layer")

		return
	}

	if eventErr := s.publisher.PublishSuccess(
		ctx, workspace, storeName, layerType, layer, outputPath,
	); eventErr != nil {
		s.log.Warn("Failed to publish success event for %s:%s: %v", workspace, storeName, eventErr)
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message":    layerType + " layer " + storeName + " successfully created",
		"layer_name": workspace + ":" + storeName,
		"file_path":  outputPath,
	})
}

// emitFailure sends the run's failure event; a publisher error is logged and
// swallowed so it cannot mask the run's own failure.
func (s *Server) emitFailure(
	ctx context.Context,
	workspace, storeName, layerType, layer string,
	cause error,
) {
	eventErr := s.publisher.PublishFailure(
		ctx, workspace, storeName, layerType, layer, cause.Error(),
	)
	if eventErr != nil {
		s.log.Warn("Failed to publish failure event for %s:%s: %v", workspace, storeName, eventErr)
	}
}

func (s *Server) removeFile(path string) {
	if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
		s.log.Warn("Failed to clean up %s: %v", path, removeErr)
	}
}

// storeSuffix is the derived layer name suffix per index type, matching the
// output file base name.
func storeSuffix(formula index.Formula) string {
	if formula == index.NDWI {
		return "_NDWI_styled"
	}

	return "_NDVI"
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, payload map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// Encoding a flat string map cannot fail; the write itself is best-effort.
	_ = json.NewEncoder(w).Encode(payload)
}
