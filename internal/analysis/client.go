// Package analysis is the HTTP client for the external Python analysis service.
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/retailiq/hub/internal/models"
)

// ErrInvalidResponse is returned when the service answers 2xx with a body that is not a JSON object.
var ErrInvalidResponse = errors.New("analysis: response is not a JSON object")

// maxErrorBody bounds how much of a failed response is kept in the error message.
const maxErrorBody = 4 << 10

// ClientOptions configures the analysis client.
type ClientOptions struct {
	BaseURL string
	// Timeout bounds one HTTP attempt (default: 600 seconds).
	Timeout time.Duration
	// RetryMax is the number of retries on transport errors, 429 and 5xx (default: 0).
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client calls POST {BaseURL}/analyze.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// Request is the body sent to /analyze.
type Request struct {
	FileID        string   `json:"file_id"`
	FileData      string   `json:"file_data"`
	AnalysisTypes []string `json:"analysis_types"`
}

// NewClient creates a new analysis service client.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 600 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil // we log at the worker layer
	// Return the last response instead of a generic "giving up" error so its status reaches the file row.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	if opts.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = opts.RetryWaitMax
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: retryClient,
	}
}

// Analyze sends the file bytes (base64) with the fixed list of analysis types and returns the
// analysis map: the "analysis" object of the response, or the whole body when that key is absent.
func (c *Client) Analyze(ctx context.Context, fileID string, data []byte) (map[string]json.RawMessage, error) {
	body, err := json.Marshal(Request{
		FileID:        fileID,
		FileData:      base64.StdEncoding.EncodeToString(data),
		AnalysisTypes: models.RequestedAnalysisTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("analysis service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var envelope map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	if nested, ok := envelope["analysis"]; ok {
		var analysis map[string]json.RawMessage
		if err := json.Unmarshal(nested, &analysis); err == nil && analysis != nil {
			return analysis, nil
		}
	}

	if envelope == nil {
		return nil, ErrInvalidResponse
	}

	return envelope, nil
}
