package geoserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ganeshsharma25-official/gdal-image-service/internal/geoserver"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func TestLayerFilePath(t *testing.T) {
	t.Parallel()

	backingFile := filepath.Join(t.TempDir(), "scene.tif")
	require.NoError(t, os.WriteFile(backingFile, []byte("tif"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/workspaces/demo/coveragestores/scene.json", r.URL.Path)

		username, password, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "admin", username)
		assert.Equal(t, "geoserver", password)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"coverageStore": map[string]any{"url": "file://" + backingFile},
		})
	}))
	defer srv.Close()

	client := geoserver.New(srv.URL, "admin", "geoserver", newTestLogger(t))

	path, err := client.LayerFilePath(context.Background(), "demo", "scene")
	require.NoError(t, err)
	assert.Equal(t, backingFile, path)
}

func TestLayerFilePathNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := geoserver.New(srv.URL, "admin", "geoserver", newTestLogger(t))

	_, err := client.LayerFilePath(context.Background(), "demo", "scene")
	require.ErrorIs(t, err, geoserver.ErrLayerNotFound)
}

func TestLayerFilePathMissingBackingFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"coverageStore": map[string]any{"url": "file:///nonexistent/scene.tif"},
		})
	}))
	defer srv.Close()

	client := geoserver.New(srv.URL, "admin", "geoserver", newTestLogger(t))

	_, err := client.LayerFilePath(context.Background(), "demo", "scene")
	require.ErrorIs(t, err, geoserver.ErrLayerNotFound)
}

func TestLayerExists(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/workspaces/demo/layers/present.json" {
			w.WriteHeader(http.StatusOK)

			return
		}

		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := geoserver.New(srv.URL, "admin", "geoserver", newTestLogger(t))

	exists, err := client.LayerExists(context.Background(), "demo", "present")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.LayerExists(context.Background(), "demo", "absent")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPublishLayer(t *testing.T) {
	t.Parallel()

	var storeCreated, coverageCreated bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload map[string]map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		switch r.URL.Path {
		case "/rest/workspaces/demo/coveragestores":
			storeCreated = true

			assert.Equal(t, "scene_NDVI", payload["coverageStore"]["name"])
			assert.Equal(t, "GeoTIFF", payload["coverageStore"]["type"])
			assert.Equal(t, "file:///data/scene_NDVI.tif", payload["coverageStore"]["url"])
		case "/rest/workspaces/demo/coveragestores/scene_NDVI/coverages":
			coverageCreated = true

			assert.Equal(t, "scene_NDVI", payload["coverage"]["name"])
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := geoserver.New(srv.URL, "admin", "geoserver", newTestLogger(t))

	err := client.PublishLayer(context.Background(), "demo", "scene_NDVI", "/data/scene_NDVI.tif")
	require.NoError(t, err)
	assert.True(t, storeCreated)
	assert.True(t, coverageCreated)
}

func TestPublishLayerStoreCreationFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := geoserver.New(srv.URL, "admin", "geoserver", newTestLogger(t))

	err := client.PublishLayer(context.Background(), "demo", "scene_NDVI", "/data/scene_NDVI.tif")
	require.ErrorIs(t, err, geoserver.ErrUnexpectedStatus)
}
