// Package processor orchestrates a spectral index run: validate the input
// raster, compute the index grid, optionally style it, and persist a single
// georeferenced GeoTIFF output.
package processor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/book-expert/logger"

	"github.com/ganeshsharma25-official/gdal-image-service/internal/index"
	"github.com/ganeshsharma25-official/gdal-image-service/internal/ramp"
	"github.com/ganeshsharma25-official/gdal-image-service/internal/raster"
)

var (
	// ErrInputNotFound is returned when the input path does not exist.
	ErrInputNotFound = errors.New("input file not found")
	// ErrInputUnreadable is returned when the input exists but cannot be
	// opened as a raster.
	ErrInputUnreadable = errors.New("input file unreadable")
	// ErrStylingFailed is returned when the NDWI color ramp stage fails.
	ErrStylingFailed = errors.New("styling failed")
	// ErrWrite is returned when persisting an output raster fails.
	ErrWrite = errors.New("write failed")
)

// styleFunc turns a scalar index raster into a styled RGB raster. It exists
// as a field so tests can substitute a failing implementation.
type styleFunc func(scalarPath, styledPath string) error

// Processor runs one spectral index end to end. A Processor is stateless
// across runs; each Process call owns its own handles and working files.
type Processor struct {
	formula index.Formula
	log     *logger.Logger
	style   styleFunc
}

// NewNDVI returns a processor producing the vegetation index.
func NewNDVI(log *logger.Logger) *Processor {
	return newProcessor(index.NDVI, log)
}

// NewNDWI returns a processor producing the styled water index.
func NewNDWI(log *logger.Logger) *Processor {
	return newProcessor(index.NDWI, log)
}

func newProcessor(formula index.Formula, log *logger.Logger) *Processor {
	processor := &Processor{
		formula: formula,
		log:     log,
		style:   nil,
	}
	processor.style = processor.applyRamp

	return processor
}

// Formula returns the index this processor computes.
func (p *Processor) Formula() index.Formula { return p.formula }

// Process computes the index for the raster at inputPath and writes the
// derived product next to it, named after layerName. It returns the final
// output path. On failure no output file is left behind.
func (p *Processor) Process(inputPath, layerName string) (string, error) {
	if _, statErr := os.Stat(inputPath); statErr != nil {
		if os.IsNotExist(statErr) {
			return "", fmt.Errorf("%s: %w", inputPath, ErrInputNotFound)
		}

		return "", fmt.Errorf("%w: %w", ErrInputUnreadable, statErr)
	}

	input, openErr := raster.Open(inputPath)
	if openErr != nil {
		return "", fmt.Errorf("%w: %w", ErrInputUnreadable, openErr)
	}
	defer p.closeRaster(input)

	if validateErr := index.Validate(input, p.formula); validateErr != nil {
		return "", validateErr
	}

	outputDir := filepath.Dir(inputPath)
	finalPath := filepath.Join(outputDir, layerName+p.finalSuffix())

	// Advisory early check; raster.Create holds the authoritative
	// exclusive-create barrier.
	if _, statErr := os.Stat(finalPath); statErr == nil {
		return "", fmt.Errorf("%s: %w", finalPath, raster.ErrAlreadyExists)
	}

	indexGrid, computeErr := p.compute(input)
	if computeErr != nil {
		return "", computeErr
	}

	if p.formula == index.NDWI {
		scalarPath := filepath.Join(outputDir, layerName+"_NDWI.tif")

		return p.writeStyled(input, indexGrid, scalarPath, finalPath)
	}

	if writeErr := p.writeScalar(input, finalPath, indexGrid); writeErr != nil {
		return "", writeErr
	}

	p.log.Success("%s processing completed: %s", p.formula, finalPath)

	return finalPath, nil
}

// finalSuffix returns the file name suffix of the run's end product.
func (p *Processor) finalSuffix() string {
	if p.formula == index.NDWI {
		return "_NDWI_styled.tif"
	}

	return "_NDVI.tif"
}

// compute reads the two required bands and evaluates the formula.
func (p *Processor) compute(input *raster.Raster) ([]float32, error) {
	firstIdx, secondIdx := p.formula.BandIndices()

	first, firstErr := index.ReadBand(input, firstIdx)
	if firstErr != nil {
		return nil, firstErr
	}

	second, secondErr := index.ReadBand(input, secondIdx)
	if secondErr != nil {
		return nil, secondErr
	}

	grid, computeErr := index.Compute(p.formula, first, second)
	if computeErr != nil {
		return nil, fmt.Errorf("%s computation failed: %w", p.formula, computeErr)
	}

	return grid, nil
}

// writeScalar persists a single-band float32 index raster carrying the
// input's georeferencing. A partially written file is removed on failure.
func (p *Processor) writeScalar(input *raster.Raster, path string, grid []float32) error {
	geoTransform, gtErr := input.GeoTransform()
	if gtErr != nil {
		return fmt.Errorf("%w: %w", ErrWrite, gtErr)
	}

	output, createErr := raster.Create(path, raster.CreateOptions{
		Width:        input.Width(),
		Height:       input.Height(),
		Bands:        1,
		DataType:     godal.Float32,
		GeoTransform: geoTransform,
		Projection:   input.Projection(),
		RGB:          false,
	})
	if createErr != nil {
		if errors.Is(createErr, raster.ErrAlreadyExists) {
			return createErr
		}

		return fmt.Errorf("%w: %w", ErrWrite, createErr)
	}

	writeErr := output.WriteFloatBand(1, grid)
	if writeErr == nil {
		writeErr = output.SetNoData(1, float64(index.NoDataValue))
	}

	closeErr := output.Close()
	if writeErr == nil && closeErr != nil {
		writeErr = closeErr
	}

	if writeErr != nil {
		p.removeFile(path)

		return fmt.Errorf("%w: %w", ErrWrite, writeErr)
	}

	return nil
}

// writeStyled persists the transient scalar water-index raster, styles it
// into the final RGB product and removes the transient file. Neither file
// survives a failure, except that a styled path occupied by another writer
// is never this run's to delete.
func (p *Processor) writeStyled(
	input *raster.Raster,
	grid []float32,
	scalarPath, styledPath string,
) (string, error) {
	if writeErr := p.writeScalar(input, scalarPath, grid); writeErr != nil {
		return "", writeErr
	}

	styleErr := p.style(scalarPath, styledPath)

	p.removeFile(scalarPath)

	if styleErr != nil {
		if errors.Is(styleErr, raster.ErrAlreadyExists) {
			return "", styleErr
		}

		p.removeFile(styledPath)

		return "", fmt.Errorf("%w: %w", ErrStylingFailed, styleErr)
	}

	p.log.Success("%s processing completed: %s", p.formula, styledPath)

	return styledPath, nil
}

// applyRamp reads a scalar index raster back and writes its RGB rendering
// with the same georeferencing.
func (p *Processor) applyRamp(scalarPath, styledPath string) error {
	scalar, openErr := raster.Open(scalarPath)
	if openErr != nil {
		return openErr
	}
	defer p.closeRaster(scalar)

	grid, readErr := scalar.ReadBand(1)
	if readErr != nil {
		return readErr
	}

	valid := make([]bool, len(grid))
	noData, hasNoData := scalar.NoData(1)

	for i, v := range grid {
		valid[i] = !hasNoData || float64(v) != noData
	}

	rgb, rampErr := ramp.Colorize(grid, valid, ramp.NDWITable)
	if rampErr != nil {
		return rampErr
	}

	geoTransform, gtErr := scalar.GeoTransform()
	if gtErr != nil {
		return gtErr
	}

	output, createErr := raster.Create(styledPath, raster.CreateOptions{
		Width:        scalar.Width(),
		Height:       scalar.Height(),
		Bands:        3,
		DataType:     godal.Byte,
		GeoTransform: geoTransform,
		Projection:   scalar.Projection(),
		RGB:          true,
	})
	if createErr != nil {
		return createErr
	}

	var writeErr error

	for band, plane := range [][]uint8{rgb.R, rgb.G, rgb.B} {
		writeErr = output.WriteByteBand(band+1, plane)
		if writeErr != nil {
			break
		}
	}

	closeErr := output.Close()
	if writeErr == nil && closeErr != nil {
		writeErr = closeErr
	}

	if writeErr != nil {
		p.removeFile(styledPath)

		return writeErr
	}

	return nil
}

// closeRaster releases a read handle; a failed close is logged, not escalated.
func (p *Processor) closeRaster(r *raster.Raster) {
	if closeErr := r.Close(); closeErr != nil {
		p.log.Warn("Failed to close raster %s: %v", r.Path(), closeErr)
	}
}

// removeFile deletes a working file best-effort. A deletion failure must not
// mask the run's own failure reason.
func (p *Processor) removeFile(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		p.log.Warn("Failed to clean up %s: %v", path, removeErr)
	}
}
