package zoom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/curtbushko/zoom-to-vault/internal/logging"
)

// APIError represents a Zoom API error response
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zoom API error %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// HTTPError represents a non-2xx response without a Zoom error body
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Status)
}

// APIClient performs authenticated JSON calls against the Zoom REST API.
// A 401 invalidates the credential and the request is repeated once with a fresh one.
type APIClient struct {
	httpClient *http.Client
	creds      CredentialSource
	baseURL    string
	logger     logging.Logger
}

// NewAPIClient creates an API client rooted at baseURL
func NewAPIClient(httpClient *http.Client, creds CredentialSource, baseURL string) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &APIClient{
		httpClient: httpClient,
		creds:      creds,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logging.GetDefaultLogger(),
	}
}

// Do sends method to path with query and decodes a JSON body into out when non-nil
func (c *APIClient) Do(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	resp, err := c.send(ctx, method, endpoint)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.creds.Invalidate()
		resp, err = c.send(ctx, method, endpoint)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return parseErrorResponse(resp, body)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *APIClient) send(ctx context.Context, method, endpoint string) (*http.Response, error) {
	cred, err := c.creds.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token for request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", cred.AuthorizationHeader())
	req.Header.Set("Accept", "application/json")

	requestID, _ := logging.GetRequestID(ctx)
	c.logger.LogAPIRequest(logging.APIRequest{
		Method:    method,
		URL:       endpoint,
		Headers:   map[string]string{"Authorization": req.Header.Get("Authorization")},
		RequestID: requestID,
	})

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.LogAPIResponse(logging.APIResponse{RequestID: requestID, Duration: time.Since(start), Error: err.Error()})
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logger.LogAPIResponse(logging.APIResponse{
		StatusCode: resp.StatusCode,
		RequestID:  requestID,
		Duration:   time.Since(start),
		Success:    resp.StatusCode < 400,
	})
	return resp, nil
}

// parseErrorResponse prefers the Zoom {code,message} body and falls back to HTTPError
func parseErrorResponse(resp *http.Response, body []byte) error {
	if len(body) > 0 {
		var apiErr APIError
		if err := json.Unmarshal(body, &apiErr); err == nil && (apiErr.Code != 0 || apiErr.Message != "") {
			apiErr.Status = resp.StatusCode
			return &apiErr
		}
	}
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}

// StatusCode extracts the HTTP status from an APIError or HTTPError, or 0
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
