// Package assembly talks to the Document Assembly Chunk Service, which grows
// an output document one page at a time.
package assembly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Document names the output document a chunk is appended to.
type Document string

const (
	DocumentCustomer Document = "customer"
	DocumentInterior Document = "interior"
)

type Metadata struct {
	Title    string `json:"title,omitempty"`
	HeroName string `json:"heroName,omitempty"`
	Language string `json:"language,omitempty"`
}

type PageChunk struct {
	JobID         string   `json:"jobId"`
	Document      Document `json:"document"`
	TargetKey     string   `json:"targetKey"`
	PositionIndex int      `json:"positionIndex"`
	AssetPath     string   `json:"assetPath"`
	Metadata      Metadata `json:"metadata"`
}

type CoverRequest struct {
	JobID          string   `json:"jobId"`
	FrontAssetPath string   `json:"frontAssetPath"`
	BackAssetPath  string   `json:"backAssetPath"`
	Metadata       Metadata `json:"metadata"`
}

type response struct {
	Success     bool   `json:"success"`
	DocumentURL string `json:"documentUrl"`
	Error       string `json:"error"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AppendPage appends one page and returns the current public location of the
// in-progress document.
func (c *Client) AppendPage(ctx context.Context, chunk PageChunk) (string, error) {
	endpoint := fmt.Sprintf("%s/documents/%s/pages", c.baseURL, url.PathEscape(chunk.JobID))
	return c.post(ctx, endpoint, chunk)
}

// BuildCoverDocument builds the two-page print cover in one call.
func (c *Client) BuildCoverDocument(ctx context.Context, req CoverRequest) (string, error) {
	endpoint := fmt.Sprintf("%s/documents/%s/cover", c.baseURL, url.PathEscape(req.JobID))
	return c.post(ctx, endpoint, req)
}

func (c *Client) post(ctx context.Context, endpoint string, body any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("assembly: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("assembly: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("assembly: call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("assembly: read response: %w", err)
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return "", fmt.Errorf("assembly: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return "", fmt.Errorf("assembly: decode response: %w", err)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", errors.New("assembly: " + msg)
	}
	if out.DocumentURL == "" {
		return "", errors.New("assembly: response has no documentUrl")
	}
	return out.DocumentURL, nil
}
