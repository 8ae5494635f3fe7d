package processor_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ganeshsharma25-official/gdal-image-service/internal/index"
	"github.com/ganeshsharma25-official/gdal-image-service/internal/processor"
	"github.com/ganeshsharma25-official/gdal-image-service/internal/raster"
)

func TestMain(m *testing.M) {
	godal.RegisterAll()
	os.Exit(m.Run())
}

var testGeoTransform = [6]float64{399960, 10, 0, 6200040, 0, -10}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

// createInputRaster writes a float32 GTiff fixture. bands maps 1-based band
// numbers to pixel grids; unnamed bands stay zero. noData maps band numbers
// to their no-data value.
func createInputRaster(
	t *testing.T,
	path string,
	width, height, bandCount int,
	bands map[int][]float32,
	noData map[int]float64,
) {
	t.Helper()

	output, err := raster.Create(path, raster.CreateOptions{
		Width:        width,
		Height:       height,
		Bands:        bandCount,
		DataType:     godal.Float32,
		GeoTransform: testGeoTransform,
		Projection:   "",
		RGB:          false,
	})
	require.NoError(t, err)

	for band, pixels := range bands {
		require.NoError(t, output.WriteFloatBand(band, pixels))
	}

	for band, value := range noData {
		require.NoError(t, output.SetNoData(band, value))
	}

	require.NoError(t, output.Close())
}

func readBand(t *testing.T, path string, band int) []float32 {
	t.Helper()

	opened, err := raster.Open(path)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, opened.Close()) })

	pixels, readErr := opened.ReadBand(band)
	require.NoError(t, readErr)

	return pixels
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	return names
}

func TestProcessNDVIEndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "scene.tif")
	createInputRaster(t, inputPath, 3, 1, 8, map[int][]float32{
		4: {100, 0, 200},
		8: {150, 50, 200},
	}, nil)

	proc := processor.NewNDVI(newTestLogger(t))

	outputPath, err := proc.Process(inputPath, "scene")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scene_NDVI.tif"), outputPath)

	assert.Equal(t, []float32{0.2, index.NoDataValue, 0.0}, readBand(t, outputPath, 1))

	opened, openErr := raster.Open(outputPath)
	require.NoError(t, openErr)

	t.Cleanup(func() { require.NoError(t, opened.Close()) })

	assert.Equal(t, 1, opened.BandCount())

	noData, hasNoData := opened.NoData(1)
	require.True(t, hasNoData)
	assert.InDelta(t, float64(index.NoDataValue), noData, 0)

	geoTransform, gtErr := opened.GeoTransform()
	require.NoError(t, gtErr)
	assert.Equal(t, testGeoTransform, geoTransform)
}

// utm33NWKT is WGS 84 / UTM zone 33N (EPSG:32633).
const utm33NWKT = `PROJCS["WGS 84 / UTM zone 33N",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",15],PARAMETER["scale_factor",0.9996],PARAMETER["false_easting",500000],PARAMETER["false_northing",0],UNIT["metre",1],AUTHORITY["EPSG","32633"]]`

func TestProcessNDVICarriesProjection(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "projected.tif")

	output, createErr := raster.Create(inputPath, raster.CreateOptions{
		Width:        2,
		Height:       1,
		Bands:        8,
		DataType:     godal.Float32,
		GeoTransform: testGeoTransform,
		Projection:   utm33NWKT,
		RGB:          false,
	})
	require.NoError(t, createErr)
	require.NoError(t, output.WriteFloatBand(4, []float32{100, 200}))
	require.NoError(t, output.WriteFloatBand(8, []float32{300, 200}))
	require.NoError(t, output.Close())

	input, inputErr := raster.Open(inputPath)
	require.NoError(t, inputErr)

	inputProjection := input.Projection()
	require.NotEmpty(t, inputProjection)
	require.NoError(t, input.Close())

	proc := processor.NewNDVI(newTestLogger(t))

	outputPath, err := proc.Process(inputPath, "projected")
	require.NoError(t, err)

	opened, openErr := raster.Open(outputPath)
	require.NoError(t, openErr)

	t.Cleanup(func() { require.NoError(t, opened.Close()) })

	assert.Equal(t, inputProjection, opened.Projection())
}

func TestProcessNDVIRespectsBandNoData(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "masked.tif")
	createInputRaster(t, inputPath, 2, 1, 8, map[int][]float32{
		4: {100, 200},
		8: {300, 200},
	}, map[int]float64{4: 100})

	proc := processor.NewNDVI(newTestLogger(t))

	outputPath, err := proc.Process(inputPath, "masked")
	require.NoError(t, err)

	assert.Equal(t, []float32{index.NoDataValue, 0.0}, readBand(t, outputPath, 1))
}

func TestProcessTwiceRejectsExistingOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "scene.tif")
	createInputRaster(t, inputPath, 3, 1, 8, map[int][]float32{
		4: {100, 0, 200},
		8: {150, 50, 200},
	}, nil)

	proc := processor.NewNDVI(newTestLogger(t))

	outputPath, err := proc.Process(inputPath, "scene")
	require.NoError(t, err)

	_, secondErr := proc.Process(inputPath, "scene")
	require.ErrorIs(t, secondErr, raster.ErrAlreadyExists)

	// The first run's output is untouched.
	assert.Equal(t, []float32{0.2, index.NoDataValue, 0.0}, readBand(t, outputPath, 1))
}

func TestProcessInputNotFound(t *testing.T) {
	t.Parallel()

	proc := processor.NewNDVI(newTestLogger(t))

	_, err := proc.Process(filepath.Join(t.TempDir(), "missing.tif"), "missing")
	require.ErrorIs(t, err, processor.ErrInputNotFound)
}

func TestProcessInputStatFailure(t *testing.T) {
	t.Parallel()

	// A path component beyond NAME_MAX makes the stat itself fail, which is
	// not the same condition as a missing file.
	inputPath := filepath.Join(t.TempDir(), strings.Repeat("a", 300)+".tif")

	proc := processor.NewNDVI(newTestLogger(t))

	_, err := proc.Process(inputPath, "unstattable")
	require.ErrorIs(t, err, processor.ErrInputUnreadable)
	require.NotErrorIs(t, err, processor.ErrInputNotFound)
}

func TestProcessInputUnreadable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "garbage.tif")
	require.NoError(t, os.WriteFile(inputPath, []byte("not a raster"), 0o600))

	proc := processor.NewNDVI(newTestLogger(t))

	_, err := proc.Process(inputPath, "garbage")
	require.ErrorIs(t, err, processor.ErrInputUnreadable)
}

func TestProcessInsufficientBandsCreatesNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "short.tif")
	createInputRaster(t, inputPath, 2, 1, 6, map[int][]float32{
		4: {100, 200},
	}, nil)

	proc := processor.NewNDVI(newTestLogger(t))

	_, err := proc.Process(inputPath, "short")
	require.ErrorIs(t, err, index.ErrInsufficientBands)

	assert.Equal(t, []string{"short.tif"}, dirEntries(t, dir))
}

func TestProcessNDWIEndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "lake.tif")
	createInputRaster(t, inputPath, 2, 1, 8, map[int][]float32{
		3: {200, 0},
		8: {100, 50},
	}, nil)

	proc := processor.NewNDWI(newTestLogger(t))

	outputPath, err := proc.Process(inputPath, "lake")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "lake_NDWI_styled.tif"), outputPath)

	// The transient scalar index file is gone.
	assert.NoFileExists(t, filepath.Join(dir, "lake_NDWI.tif"))

	opened, openErr := raster.Open(outputPath)
	require.NoError(t, openErr)

	t.Cleanup(func() { require.NoError(t, opened.Close()) })

	assert.Equal(t, 3, opened.BandCount())

	geoTransform, gtErr := opened.GeoTransform()
	require.NoError(t, gtErr)
	assert.Equal(t, testGeoTransform, geoTransform)

	// First pixel: NDWI 1/3 sits on the ramp's blue plateau. Second pixel is
	// invalid (green == 0) and renders black.
	assert.Equal(t, []float32{0x40, 0}, readBand(t, outputPath, 1))
	assert.Equal(t, []float32{0x40, 0}, readBand(t, outputPath, 2))
	assert.Equal(t, []float32{0xB0, 0}, readBand(t, outputPath, 3))
}

func TestProcessNDWIStylingFailureLeavesNoFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "lake.tif")
	createInputRaster(t, inputPath, 2, 1, 8, map[int][]float32{
		3: {200, 100},
		8: {100, 200},
	}, nil)

	proc := processor.NewNDWI(newTestLogger(t))
	proc.SetStyleForTest(func(_, _ string) error {
		return errors.New("ramp exploded")
	})

	_, err := proc.Process(inputPath, "lake")
	require.ErrorIs(t, err, processor.ErrStylingFailed)

	assert.Equal(t, []string{"lake.tif"}, dirEntries(t, dir))
}

func TestProcessNDWIStylingCollisionKeepsOtherOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "lake.tif")
	createInputRaster(t, inputPath, 2, 1, 8, map[int][]float32{
		3: {200, 100},
		8: {100, 200},
	}, nil)

	// A concurrent run finishes the styled output after the early existence
	// check, so the styling stage itself hits the exclusive-create barrier.
	proc := processor.NewNDWI(newTestLogger(t))
	proc.SetStyleForTest(func(_, styledPath string) error {
		require.NoError(t, os.WriteFile(styledPath, []byte("first writer"), 0o600))

		return fmt.Errorf("%s: %w", styledPath, raster.ErrAlreadyExists)
	})

	_, err := proc.Process(inputPath, "lake")
	require.ErrorIs(t, err, raster.ErrAlreadyExists)
	require.NotErrorIs(t, err, processor.ErrStylingFailed)

	// The other run's output survives; only the transient scalar is cleaned up.
	content, readErr := os.ReadFile(filepath.Join(dir, "lake_NDWI_styled.tif"))
	require.NoError(t, readErr)
	assert.Equal(t, []byte("first writer"), content)

	assert.Equal(t, []string{"lake.tif", "lake_NDWI_styled.tif"}, dirEntries(t, dir))
}

func TestProcessNDWIStyledOutputCollision(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "lake.tif")
	createInputRaster(t, inputPath, 2, 1, 8, map[int][]float32{
		3: {200, 100},
		8: {100, 200},
	}, nil)

	styledPath := filepath.Join(dir, "lake_NDWI_styled.tif")
	require.NoError(t, os.WriteFile(styledPath, []byte("occupied"), 0o600))

	proc := processor.NewNDWI(newTestLogger(t))

	_, err := proc.Process(inputPath, "lake")
	require.ErrorIs(t, err, raster.ErrAlreadyExists)

	// The pre-existing file is untouched.
	content, readErr := os.ReadFile(styledPath)
	require.NoError(t, readErr)
	assert.Equal(t, []byte("occupied"), content)
}

func TestDiscoverRasters(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tif"), []byte(""), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.TIFF"), []byte(""), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte(""), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub.tif"), 0o750))

	paths, err := processor.DiscoverRasters(dir)
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	_, missingErr := processor.DiscoverRasters(filepath.Join(dir, "nope"))
	require.Error(t, missingErr)
}

func TestLayerNameFromPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "scene_42", processor.LayerNameFromPath("/data/images/scene_42.tif"))
	assert.Equal(t, "plain", processor.LayerNameFromPath("plain"))
}
