// Package raster wraps GDAL dataset access for reading multi-band imagery and
// writing georeferenced GeoTIFF outputs.
package raster

import (
	"errors"
	"fmt"
	"os"

	"github.com/airbusgeo/godal"
)

var (
	// ErrBandUnavailable is returned when a requested band index cannot be
	// opened on a dataset.
	ErrBandUnavailable = errors.New("band unavailable")
	// ErrAlreadyExists is returned when an output path is already occupied.
	ErrAlreadyExists = errors.New("output file already exists")
)

const (
	// outputFileMode is the permission set used when claiming output paths.
	outputFileMode = 0o640
)

// Raster is a read-only handle to an opened GDAL dataset.
type Raster struct {
	ds   *godal.Dataset
	path string
}

// Open opens the raster at path read-only.
func Open(path string) (*Raster, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raster %s: %w", path, err)
	}

	return &Raster{ds: ds, path: path}, nil
}

// Path returns the filesystem path the raster was opened from.
func (r *Raster) Path() string { return r.path }

// Width returns the raster width in pixels.
func (r *Raster) Width() int { return r.ds.Structure().SizeX }

// Height returns the raster height in pixels.
func (r *Raster) Height() int { return r.ds.Structure().SizeY }

// BandCount returns the number of bands in the dataset.
func (r *Raster) BandCount() int { return r.ds.Structure().NBands }

// GeoTransform returns the six affine coefficients mapping pixel space to
// world space.
func (r *Raster) GeoTransform() ([6]float64, error) {
	gt, err := r.ds.GeoTransform()
	if err != nil {
		return [6]float64{}, fmt.Errorf("failed to read geotransform of %s: %w", r.path, err)
	}

	return gt, nil
}

// Projection returns the dataset projection as a WKT string. May be empty.
func (r *Raster) Projection() string { return r.ds.Projection() }

// band resolves a 1-based band index.
func (r *Raster) band(index int) (godal.Band, error) {
	bands := r.ds.Bands()
	if index < 1 || index > len(bands) {
		return godal.Band{}, fmt.Errorf(
			"band %d of %s (dataset has %d): %w",
			index, r.path, len(bands), ErrBandUnavailable,
		)
	}

	return bands[index-1], nil
}

// CheckBand verifies that the 1-based band index can be opened.
func (r *Raster) CheckBand(index int) error {
	_, err := r.band(index)

	return err
}

// ReadBand reads the full pixel grid of the 1-based band index as float32
// samples in row-major order.
func (r *Raster) ReadBand(index int) ([]float32, error) {
	band, err := r.band(index)
	if err != nil {
		return nil, err
	}

	width, height := r.Width(), r.Height()

	pixels := make([]float32, width*height)

	readErr := band.Read(0, 0, pixels, width, height)
	if readErr != nil {
		return nil, fmt.Errorf(
			"failed to read band %d of %s: %w",
			index, r.path, readErr,
		)
	}

	return pixels, nil
}

// NoData returns the no-data value of the 1-based band index, if one is set.
func (r *Raster) NoData(index int) (float64, bool) {
	band, err := r.band(index)
	if err != nil {
		return 0, false
	}

	return band.NoData()
}

// Close releases the dataset handle.
func (r *Raster) Close() error {
	if closeErr := r.ds.Close(); closeErr != nil {
		return fmt.Errorf("failed to close raster %s: %w", r.path, closeErr)
	}

	return nil
}

// Output is a newly created GeoTIFF being written. It is created once, written
// once and then closed.
type Output struct {
	ds   *godal.Dataset
	path string
}

// CreateOptions collects the georeferencing and layout of a new output raster.
type CreateOptions struct {
	Width        int
	Height       int
	Bands        int
	DataType     godal.DataType
	GeoTransform [6]float64
	Projection   string
	RGB          bool
}

// Create creates a tiled, LZW-compressed GeoTIFF at path. The path is claimed
// with an exclusive create so that two concurrent runs targeting the same
// output cannot both succeed; an occupied path fails with ErrAlreadyExists.
func Create(path string, opts CreateOptions) (*Output, error) {
	claim, claimErr := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, outputFileMode)
	if claimErr != nil {
		if os.IsExist(claimErr) {
			return nil, fmt.Errorf("%s: %w", path, ErrAlreadyExists)
		}

		return nil, fmt.Errorf("failed to claim output path %s: %w", path, claimErr)
	}

	if closeErr := claim.Close(); closeErr != nil {
		return nil, fmt.Errorf("failed to close claimed output path %s: %w", path, closeErr)
	}

	creation := []string{"COMPRESS=LZW", "TILED=YES"}
	if opts.RGB {
		creation = append(creation, "PHOTOMETRIC=RGB")
	}

	ds, createErr := godal.Create(
		godal.GTiff,
		path,
		opts.Bands,
		opts.DataType,
		opts.Width,
		opts.Height,
		godal.CreationOption(creation...),
	)
	if createErr != nil {
		// The claimed placeholder is useless without a dataset behind it.
		_ = os.Remove(path)

		return nil, fmt.Errorf("failed to create output %s: %w", path, createErr)
	}

	if gtErr := ds.SetGeoTransform(opts.GeoTransform); gtErr != nil {
		discardFailedCreate(ds, path)

		return nil, fmt.Errorf("failed to set geotransform on %s: %w", path, gtErr)
	}

	if opts.Projection != "" {
		if projErr := ds.SetProjection(opts.Projection); projErr != nil {
			discardFailedCreate(ds, path)

			return nil, fmt.Errorf("failed to set projection on %s: %w", path, projErr)
		}
	}

	return &Output{ds: ds, path: path}, nil
}

// discardFailedCreate releases a dataset whose metadata could not be set and
// removes its partial file. The caller's error is the one worth reporting.
func discardFailedCreate(ds *godal.Dataset, path string) {
	_ = ds.Close()
	_ = os.Remove(path)
}

// Path returns the filesystem path of the output.
func (o *Output) Path() string { return o.path }

// WriteFloatBand writes float32 samples into the 1-based band index.
func (o *Output) WriteFloatBand(index int, pixels []float32) error {
	return o.writeBand(index, pixels)
}

// WriteByteBand writes 8-bit samples into the 1-based band index.
func (o *Output) WriteByteBand(index int, pixels []uint8) error {
	return o.writeBand(index, pixels)
}

func (o *Output) writeBand(index int, pixels interface{}) error {
	bands := o.ds.Bands()
	if index < 1 || index > len(bands) {
		return fmt.Errorf(
			"band %d of output %s (dataset has %d): %w",
			index, o.path, len(bands), ErrBandUnavailable,
		)
	}

	width := o.ds.Structure().SizeX
	height := o.ds.Structure().SizeY

	writeErr := bands[index-1].Write(0, 0, pixels, width, height)
	if writeErr != nil {
		return fmt.Errorf("failed to write band %d of %s: %w", index, o.path, writeErr)
	}

	return nil
}

// SetNoData sets the no-data value on the 1-based band index.
func (o *Output) SetNoData(index int, noData float64) error {
	bands := o.ds.Bands()
	if index < 1 || index > len(bands) {
		return fmt.Errorf(
			"band %d of output %s (dataset has %d): %w",
			index, o.path, len(bands), ErrBandUnavailable,
		)
	}

	if ndErr := bands[index-1].SetNoData(noData); ndErr != nil {
		return fmt.Errorf("failed to set nodata on band %d of %s: %w", index, o.path, ndErr)
	}

	return nil
}

// Close flushes buffered pixel data and releases the dataset handle. It must
// be called on every exit path once Create has succeeded.
func (o *Output) Close() error {
	if closeErr := o.ds.Close(); closeErr != nil {
		return fmt.Errorf("failed to close output %s: %w", o.path, closeErr)
	}

	return nil
}
