package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiscoverRasters finds all GeoTIFF files in a given directory. It performs a
// case-insensitive search and does not recurse into subdirectories.
func DiscoverRasters(dirPath string) ([]string, error) {
	dirEntries, readErr := os.ReadDir(dirPath)
	if readErr != nil {
		return nil, fmt.Errorf(
			"could not read directory %s: %w",
			dirPath,
			readErr,
		)
	}

	var rasterPaths []string

	for _, entry := range dirEntries {
		if entry.IsDir() {
			continue
		}

		name := strings.ToLower(entry.Name())
		if strings.HasSuffix(name, ".tif") || strings.HasSuffix(name, ".tiff") {
			rasterPaths = append(rasterPaths, filepath.Join(dirPath, entry.Name()))
		}
	}

	return rasterPaths, nil
}

// LayerNameFromPath derives the layer name used for output naming from a
// raster file path: the base name without its extension.
func LayerNameFromPath(path string) string {
	base := filepath.Base(path)

	return strings.TrimSuffix(base, filepath.Ext(base))
}
