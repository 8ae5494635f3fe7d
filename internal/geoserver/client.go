// Package geoserver is a minimal REST client for the catalog operations the
// image service needs: resolving a layer to its backing file, checking for
// name collisions and publishing a produced GeoTIFF as a new layer.
package geoserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/book-expert/logger"
)

var (
	// ErrLayerNotFound is returned when a workspace:layer pair has no
	// coverage store, or its backing file is gone.
	ErrLayerNotFound = errors.New("layer not found")
	// ErrUnexpectedStatus is returned on any other non-success response.
	ErrUnexpectedStatus = errors.New("unexpected geoserver response status")
)

const (
	lookupTimeout  = 30 * time.Second
	publishTimeout = 60 * time.Second
)

// Client talks to one GeoServer instance with basic auth.
type Client struct {
	restURL    string
	username   string
	password   string
	httpClient *http.Client
	log        *logger.Logger
}

// New builds a client for the GeoServer at baseURL (e.g.
// "http://localhost:8080/geoserver").
func New(baseURL, username, password string, log *logger.Logger) *Client {
	return &Client{
		restURL:  baseURL + "/rest",
		username: username,
		password: password,
		httpClient: &http.Client{
			Transport:     nil,
			CheckRedirect: nil,
			Jar:           nil,
			Timeout:       publishTimeout,
		},
		log: log,
	}
}

// coverageStoreResponse mirrors the subset of the coverage store document the
// client reads.
type coverageStoreResponse struct {
	CoverageStore struct {
		URL string `json:"url"`
	} `json:"coverageStore"`
}

// LayerFilePath resolves workspace:layer to the local file behind its
// coverage store. The file must exist on this filesystem.
func (c *Client) LayerFilePath(ctx context.Context, workspace, layer string) (string, error) {
	requestURL := fmt.Sprintf(
		"%s/workspaces/%s/coveragestores/%s.json",
		c.restURL, workspace, layer,
	)

	body, status, getErr := c.get(ctx, requestURL, lookupTimeout)
	if getErr != nil {
		return "", getErr
	}

	if status == http.StatusNotFound {
		return "", fmt.Errorf("coverage store %s:%s: %w", workspace, layer, ErrLayerNotFound)
	}

	if status != http.StatusOK {
		return "", fmt.Errorf("coverage store lookup returned %d: %w", status, ErrUnexpectedStatus)
	}

	var doc coverageStoreResponse
	if decodeErr := json.Unmarshal(body, &doc); decodeErr != nil {
		return "", fmt.Errorf("invalid coverage store document: %w", decodeErr)
	}

	filePath, pathErr := extractFilePath(doc.CoverageStore.URL)
	if pathErr != nil {
		return "", pathErr
	}

	if info, statErr := os.Stat(filePath); statErr != nil || info.IsDir() {
		return "", fmt.Errorf("backing file %s: %w", filePath, ErrLayerNotFound)
	}

	return filePath, nil
}

// LayerExists reports whether workspace:layer is already registered.
func (c *Client) LayerExists(ctx context.Context, workspace, layer string) (bool, error) {
	requestURL := fmt.Sprintf(
		"%s/workspaces/%s/layers/%s.json",
		c.restURL, workspace, layer,
	)

	_, status, getErr := c.get(ctx, requestURL, lookupTimeout)
	if getErr != nil {
		return false, getErr
	}

	return status == http.StatusOK, nil
}

// PublishLayer registers filePath as a new GeoTIFF-backed layer named store
// in the workspace: first the coverage store, then the coverage itself.
func (c *Client) PublishLayer(ctx context.Context, workspace, store, filePath string) error {
	storePayload := map[string]any{
		"coverageStore": map[string]any{
			"name":      store,
			"type":      "GeoTIFF",
			"enabled":   true,
			"workspace": map[string]any{"name": workspace},
			"url":       "file://" + filePath,
		},
	}

	storeURL := fmt.Sprintf("%s/workspaces/%s/coveragestores", c.restURL, workspace)

	c.log.Info("Creating coverage store %s in workspace %s for %s", store, workspace, filePath)

	if postErr := c.post(ctx, storeURL, storePayload, http.StatusCreated); postErr != nil {
		return fmt.Errorf("coverage store creation failed: %w", postErr)
	}

	coveragePayload := map[string]any{
		"coverage": map[string]any{
			"name":    store,
			"title":   store,
			"enabled": true,
		},
	}

	coverageURL := fmt.Sprintf(
		"%s/workspaces/%s/coveragestores/%s/coverages",
		c.restURL, workspace, store,
	)

	if postErr := c.post(ctx, coverageURL, coveragePayload, http.StatusCreated); postErr != nil {
		return fmt.Errorf("coverage creation failed: %w", postErr)
	}

	return nil
}

// get performs an authenticated GET and returns the body and status code.
// Non-2xx statuses are returned to the caller undecoded.
func (c *Client) get(
	ctx context.Context,
	requestURL string,
	timeout time.Duration,
) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	request, reqErr := http.NewRequestWithContext(reqCtx, http.MethodGet, requestURL, nil)
	if reqErr != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", reqErr)
	}

	request.SetBasicAuth(c.username, c.password)

	response, doErr := c.httpClient.Do(request)
	if doErr != nil {
		return nil, 0, fmt.Errorf("geoserver request failed: %w", doErr)
	}
	defer c.closeBody(response)

	var body bytes.Buffer
	if _, readErr := body.ReadFrom(response.Body); readErr != nil {
		return nil, 0, fmt.Errorf("failed to read geoserver response: %w", readErr)
	}

	return body.Bytes(), response.StatusCode, nil
}

// post sends a JSON payload and requires the given status in response.
func (c *Client) post(ctx context.Context, requestURL string, payload any, want int) error {
	encoded, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return fmt.Errorf("failed to encode payload: %w", marshalErr)
	}

	reqCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	request, reqErr := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		requestURL,
		bytes.NewReader(encoded),
	)
	if reqErr != nil {
		return fmt.Errorf("failed to build request: %w", reqErr)
	}

	request.SetBasicAuth(c.username, c.password)
	request.Header.Set("Content-Type", "application/json")

	response, doErr := c.httpClient.Do(request)
	if doErr != nil {
		return fmt.Errorf("geoserver request failed: %w", doErr)
	}
	defer c.closeBody(response)

	if response.StatusCode != want {
		return fmt.Errorf(
			"%s returned %d, want %d: %w",
			requestURL, response.StatusCode, want, ErrUnexpectedStatus,
		)
	}

	return nil
}

func (c *Client) closeBody(response *http.Response) {
	if closeErr := response.Body.Close(); closeErr != nil {
		c.log.Warn("Failed to close response body: %v", closeErr)
	}
}

// extractFilePath turns a coverage store file:// URL into a local path.
func extractFilePath(storeURL string) (string, error) {
	parsed, parseErr := url.Parse(storeURL)
	if parseErr != nil {
		return "", fmt.Errorf("invalid coverage store url %q: %w", storeURL, parseErr)
	}

	if parsed.Path == "" {
		return "", fmt.Errorf("coverage store url %q has no path: %w", storeURL, ErrLayerNotFound)
	}

	return parsed.Path, nil
}
