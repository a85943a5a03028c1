package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mredag/eformLockerRoom-sub013/internal/broadcast"
	"github.com/mredag/eformLockerRoom-sub013/internal/commands"
	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

// HTTPClient implements Client using the lockerd HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Status ---

// Health returns the server health. A degraded server answers 503 with a
// body; that body is returned alongside the APIError.
func (c *HTTPClient) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp)
	if err != nil && resp.Status == "" {
		return nil, err
	}
	return &resp, err
}

func (c *HTTPClient) Stats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Latency(ctx context.Context) (*broadcast.LatencyMetrics, error) {
	var resp broadcast.LatencyMetrics
	if err := c.doJSON(ctx, http.MethodGet, "/v1/latency", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Events ---

func (c *HTTPClient) Emit(ctx context.Context, req *EmitRequest) (*model.Event, error) {
	var ev model.Event
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events", req, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *HTTPClient) Replay(ctx context.Context, r *ReplayRequest) ([]*model.Event, error) {
	q := url.Values{}
	if r.Namespace != "" {
		q.Set("namespace", r.Namespace)
	}
	if r.Room != "" {
		q.Set("room", r.Room)
	}
	if len(r.Types) > 0 {
		q.Set("type", strings.Join(r.Types, ","))
	}
	if !r.Since.IsZero() {
		q.Set("since", r.Since.UTC().Format(time.RFC3339))
	}
	if r.Limit > 0 {
		q.Set("limit", strconv.Itoa(r.Limit))
	}
	if r.IncludeExpired {
		q.Set("include_expired", "true")
	}

	path := "/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Events []*model.Event `json:"events"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *HTTPClient) Broadcast(ctx context.Context, req *BroadcastRequest) (int, error) {
	var resp struct {
		Delivered int `json:"delivered"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/broadcast", req, &resp); err != nil {
		return 0, err
	}
	return resp.Delivered, nil
}

// --- Commands ---

func (c *HTTPClient) Dispatch(ctx context.Context, req commands.Request) (*model.Command, error) {
	var cmd model.Command
	if err := c.doJSON(ctx, http.MethodPost, "/v1/commands", req, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

func (c *HTTPClient) DispatchBulk(ctx context.Context, req commands.BulkRequest) (*model.Command, error) {
	var cmd model.Command
	if err := c.doJSON(ctx, http.MethodPost, "/v1/commands/bulk", req, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

func (c *HTTPClient) Complete(ctx context.Context, commandID string, res commands.Result) (*model.Event, error) {
	var resp struct {
		Event *model.Event `json:"event"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/commands/"+url.PathEscape(commandID)+"/complete", res, &resp); err != nil {
		return nil, err
	}
	return resp.Event, nil
}

func (c *HTTPClient) LockInfo(ctx context.Context, kioskID string, lockerID int) (*LockInfo, error) {
	var info LockInfo
	path := fmt.Sprintf("/v1/locks/%s/%d", url.PathEscape(kioskID), lockerID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// On an error status the body is still decoded into result when it parses,
// and an *APIError is returned.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			return &APIError{StatusCode: resp.StatusCode, Code: errResp.Code, Message: errResp.Message}
		}
		if result != nil {
			_ = json.Unmarshal(respBody, result)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
