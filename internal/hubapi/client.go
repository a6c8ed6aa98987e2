// Package hubapi is the request/response client for the hub's REST
// endpoints. It backs the polling transport, the fallback refetch and the
// workspace commands.
package hubapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"synapse/cli/internal/model"
	"synapse/cli/internal/protocol"
)

var ErrWorkspaceNotFound = errors.New("workspace not found")

// StatusError is returned for non-2xx responses other than a missing
// workspace.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s failed with status: %d", e.Method, e.Path, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetState fetches the unscoped hub snapshot.
func (c *Client) GetState(ctx context.Context) (model.Snapshot, error) {
	raw, err := c.do(ctx, http.MethodGet, "/state", nil, false)
	if err != nil {
		return model.Snapshot{}, err
	}
	return protocol.DecodeSnapshot(raw)
}

func (c *Client) GetWorkspace(ctx context.Context, id string) (model.Snapshot, error) {
	raw, err := c.do(ctx, http.MethodGet, "/workspaces/"+url.PathEscape(id), nil, true)
	if err != nil {
		return model.Snapshot{}, err
	}
	return protocol.DecodeSnapshot(raw)
}

// GetSnapshot fetches the snapshot for workspaceID, or the unscoped state
// when workspaceID is empty.
func (c *Client) GetSnapshot(ctx context.Context, workspaceID string) (model.Snapshot, error) {
	if workspaceID == "" {
		return c.GetState(ctx)
	}
	return c.GetWorkspace(ctx, workspaceID)
}

func (c *Client) GetChanges(ctx context.Context, workspaceID string, since int64) (protocol.Changes, error) {
	p := "/changes"
	if workspaceID != "" {
		p = "/workspaces/" + url.PathEscape(workspaceID) + "/changes"
	}
	p += "?since=" + strconv.FormatInt(since, 10)
	raw, err := c.do(ctx, http.MethodGet, p, nil, workspaceID != "")
	if err != nil {
		return protocol.Changes{}, err
	}
	return protocol.DecodeChanges(raw)
}

func (c *Client) ListWorkspaces(ctx context.Context) ([]model.Workspace, error) {
	raw, err := c.do(ctx, http.MethodGet, "/workspaces", nil, false)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeWorkspaces(raw)
}

type createWorkspaceRequest struct {
	Name  string `json:"name"`
	Reset bool   `json:"reset,omitempty"`
}

func (c *Client) CreateWorkspace(ctx context.Context, name string, reset bool) (model.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Workspace{}, errors.New("workspace name is required")
	}
	body, err := json.Marshal(createWorkspaceRequest{Name: name, Reset: reset})
	if err != nil {
		return model.Workspace{}, err
	}
	raw, err := c.do(ctx, http.MethodPost, "/workspaces", body, false)
	if err != nil {
		return model.Workspace{}, err
	}
	ws, err := protocol.DecodeWorkspace(raw)
	if err != nil {
		return model.Workspace{}, fmt.Errorf("decode created workspace: %w", err)
	}
	if ws.Name == "" {
		ws.Name = name
	}
	return ws, nil
}

// ResetHub clears the hub's unscoped state.
func (c *Client) ResetHub(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/reset", nil, false)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, workspaceScoped bool) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = res.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if res.StatusCode == http.StatusNotFound && workspaceScoped {
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrWorkspaceNotFound)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &StatusError{
			Method: method,
			Path:   path,
			Code:   res.StatusCode,
			Body:   strings.TrimSpace(string(raw[:min(len(raw), 256)])),
		}
	}
	return raw, nil
}
