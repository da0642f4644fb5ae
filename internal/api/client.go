// Package api is a client for the viewer's HTTP API, used by the command
// line tools.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mriview/viewer/internal/export"
	"github.com/mriview/viewer/pkg/core"
)

// Client talks to a running viewer server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Healthcheck checks if the server is reachable.
func (c *Client) Healthcheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/healthcheck")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// Series lists the catalog.
func (c *Client) Series() ([]core.Series, error) {
	var body struct {
		Series []core.Series `json:"series"`
	}
	if err := c.do(http.MethodGet, "/api/series", nil, &body); err != nil {
		return nil, err
	}
	return body.Series, nil
}

// Annotations downloads the annotation document for the given series, or
// for all series when none are given.
func (c *Client) Annotations(seriesIDs ...string) (core.Document, error) {
	q := url.Values{}
	for _, id := range seriesIDs {
		q.Add("series", id)
	}
	path := "/api/annotations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var doc core.Document
	err := c.do(http.MethodGet, path, nil, &doc)
	return doc, err
}

// Import uploads an annotation document and returns how many sets were stored.
func (c *Client) Import(doc core.Document) (int, error) {
	var body struct {
		Imported int `json:"imported"`
	}
	if err := c.do(http.MethodPost, "/api/annotations", doc, &body); err != nil {
		return 0, err
	}
	return body.Imported, nil
}

// Export asks the server to burn annotations into image copies.
func (c *Client) Export(req export.Request) (export.Result, error) {
	var res export.Result
	err := c.do(http.MethodPost, "/api/export", req, &res)
	return res, err
}

func (c *Client) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s returned status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
