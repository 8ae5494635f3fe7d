// Package index computes normalized-difference spectral indices (NDVI, NDWI)
// from pairs of reflectance bands under a shared no-data masking discipline.
package index

import (
	"errors"
	"fmt"

	"github.com/ganeshsharma25-official/gdal-image-service/internal/raster"
)

var (
	// ErrInsufficientBands is returned when a raster has fewer bands than a
	// formula requires.
	ErrInsufficientBands = errors.New("insufficient bands")
	// ErrShapeMismatch is returned when the two input bands differ in length.
	ErrShapeMismatch = errors.New("input bands have different sizes")
	// ErrUnknownFormula is returned for a Formula value outside the known set.
	ErrUnknownFormula = errors.New("unknown index formula")
)

// NoDataValue is the sentinel stored at pixels excluded from computation.
const NoDataValue float32 = -9999.0

// Sentinel-2 band numbering used by both formulas.
const (
	greenBand = 3
	redBand   = 4
	nirBand   = 8
)

// Formula selects which spectral index is computed. The masking pipeline is
// identical for all formulas; only the band pair and the ratio arithmetic
// differ.
type Formula int

const (
	// NDVI is the normalized difference vegetation index, (nir-red)/(nir+red).
	NDVI Formula = iota
	// NDWI is the normalized difference water index, (green-nir)/(green+nir).
	NDWI
)

// String returns the conventional name of the index.
func (f Formula) String() string {
	switch f {
	case NDVI:
		return "NDVI"
	case NDWI:
		return "NDWI"
	default:
		return fmt.Sprintf("Formula(%d)", int(f))
	}
}

// BandIndices returns the two 1-based band numbers the formula reads, in the
// order expected by Compute.
func (f Formula) BandIndices() (first, second int) {
	switch f {
	case NDWI:
		return greenBand, nirBand
	default:
		return redBand, nirBand
	}
}

// ratio computes the index value for one valid pixel. The denominator is
// guaranteed non-zero by the mask.
func (f Formula) ratio(first, second float32) float32 {
	den := first + second
	if f == NDWI {
		return (first - second) / den
	}

	return (second - first) / den
}

// Band is one input band: its pixel grid and optional no-data metadata.
type Band struct {
	Pixels    []float32
	NoData    float64
	HasNoData bool
}

// ReadBand loads the 1-based band index of r, carrying its no-data value.
func ReadBand(r *raster.Raster, index int) (Band, error) {
	pixels, err := r.ReadBand(index)
	if err != nil {
		return Band{}, err
	}

	noData, hasNoData := r.NoData(index)

	return Band{Pixels: pixels, NoData: noData, HasNoData: hasNoData}, nil
}

// Validate confirms that r exposes the bands required by the formula: the
// band count covers the highest required index and both band handles open.
func Validate(r *raster.Raster, formula Formula) error {
	first, second := formula.BandIndices()

	required := first
	if second > required {
		required = second
	}

	if count := r.BandCount(); count < required {
		return fmt.Errorf(
			"%s needs band %d, dataset has %d: %w",
			formula, required, count, ErrInsufficientBands,
		)
	}

	if err := r.CheckBand(first); err != nil {
		return err
	}

	return r.CheckBand(second)
}

// Compute evaluates the formula over two equally shaped bands.
//
// A pixel participates only when it differs from both bands' no-data values
// (exact float comparison), both samples are strictly positive, and the
// denominator is non-zero. Valid pixels hold the ratio clipped to [-1, 1];
// every other pixel holds NoDataValue. The returned slice is freshly
// allocated; inputs are never mutated.
func Compute(formula Formula, first, second Band) ([]float32, error) {
	if formula != NDVI && formula != NDWI {
		return nil, fmt.Errorf("%d: %w", int(formula), ErrUnknownFormula)
	}

	if len(first.Pixels) != len(second.Pixels) {
		return nil, fmt.Errorf(
			"%d vs %d pixels: %w",
			len(first.Pixels), len(second.Pixels), ErrShapeMismatch,
		)
	}

	result := make([]float32, len(first.Pixels))

	for i := range result {
		a, b := first.Pixels[i], second.Pixels[i]

		if !validPixel(first, second, a, b) {
			result[i] = NoDataValue

			continue
		}

		result[i] = clipUnit(formula.ratio(a, b))
	}

	return result, nil
}

// validPixel applies the shared mask: no-data, domain and denominator checks.
func validPixel(first, second Band, a, b float32) bool {
	if first.HasNoData && float64(a) == first.NoData {
		return false
	}

	if second.HasNoData && float64(b) == second.NoData {
		return false
	}

	if a <= 0 || b <= 0 {
		return false
	}

	return a+b != 0
}

// clipUnit clips v into [-1, 1].
func clipUnit(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}

	if v < -1.0 {
		return -1.0
	}

	return v
}
