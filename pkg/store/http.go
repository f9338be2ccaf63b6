package store

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/taskdeck/taskgraph/pkg/errors"
	"github.com/taskdeck/taskgraph/pkg/graph"
	"github.com/taskdeck/taskgraph/pkg/observability"
)

// HTTPStore implements Store against the taskgraph REST API. Server
// rejections decode back into the same error codes the local guard
// produces, so callers handle a remote conflict and a local one
// identically. Transport failures surface as transient persistence
// errors and are safe to retry.
type HTTPStore struct {
	base   string
	client *http.Client

	// SessionID, when set, is sent as the X-Session-ID header on every
	// mutation so server-published events carry this session as their
	// origin and the reconcile layer can skip its own echoes.
	SessionID string
}

// NewHTTPStore creates a client for the API at base, e.g.
// "http://localhost:8080". A nil client uses http.DefaultClient.
func NewHTTPStore(base string, client *http.Client) *HTTPStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPStore{base: strings.TrimRight(base, "/"), client: client}
}

func (s *HTTPStore) scopeURL(scopeID string, parts ...string) string {
	segs := append([]string{"api", "v1", "graphs", url.PathEscape(scopeID)}, parts...)
	return s.base + "/" + strings.Join(segs, "/")
}

// ListDependencies returns every edge in the scope.
func (s *HTTPStore) ListDependencies(ctx context.Context, scopeID string) ([]DependencyRecord, error) {
	var out []DependencyRecord
	err := s.do(ctx, http.MethodGet, s.scopeURL(scopeID, "dependencies"), nil, &out)
	return out, err
}

// ListPositions returns every saved position in the scope.
func (s *HTTPStore) ListPositions(ctx context.Context, scopeID string) ([]PositionRecord, error) {
	var out []PositionRecord
	err := s.do(ctx, http.MethodGet, s.scopeURL(scopeID, "positions"), nil, &out)
	return out, err
}

// CreateDependency asks the server to validate and persist an edge,
// returning the server-assigned edge ID.
func (s *HTTPStore) CreateDependency(ctx context.Context, scopeID, fromTaskID, toTaskID string) (string, error) {
	observability.Store().OnRequest(ctx, "create_dependency", scopeID)
	body := map[string]string{"from": fromTaskID, "to": toTaskID}
	var rec DependencyRecord
	if err := s.do(ctx, http.MethodPost, s.scopeURL(scopeID, "dependencies"), body, &rec); err != nil {
		if errors.IsValidation(err) {
			observability.Store().OnConflict(ctx, "create_dependency", scopeID, err)
		} else {
			observability.Store().OnError(ctx, "create_dependency", scopeID, err)
		}
		return "", err
	}
	return rec.EdgeID, nil
}

// DeleteDependency removes an edge by ID.
func (s *HTTPStore) DeleteDependency(ctx context.Context, scopeID, edgeID string) error {
	observability.Store().OnRequest(ctx, "delete_dependency", scopeID)
	err := s.do(ctx, http.MethodDelete, s.scopeURL(scopeID, "dependencies", url.PathEscape(edgeID)), nil, nil)
	if err != nil && !errors.Is(err, errors.ErrCodeNotFound) {
		observability.Store().OnError(ctx, "delete_dependency", scopeID, err)
	}
	return err
}

// UpdateTaskPosition saves or clears a task position.
func (s *HTTPStore) UpdateTaskPosition(ctx context.Context, scopeID, taskID string, pos *graph.Point) error {
	observability.Store().OnRequest(ctx, "update_position", scopeID)
	body := map[string]*graph.Point{"pos": pos}
	err := s.do(ctx, http.MethodPut, s.scopeURL(scopeID, "tasks", url.PathEscape(taskID), "position"), body, nil)
	if err != nil {
		observability.Store().OnError(ctx, "update_position", scopeID, err)
	}
	return err
}

// do executes one request: JSON in, JSON out, API error bodies decoded
// into coded errors.
func (s *HTTPStore) do(ctx context.Context, method, rawURL string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "encode request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.SessionID != "" {
		req.Header.Set("X-Session-ID", s.SessionID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistence, err, "%s %s", method, rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "decode response")
		}
	}
	return nil
}

// decodeAPIError turns an API error body back into a coded error. A body
// that does not parse still maps the status class: 5xx is transient, 4xx
// is not.
func decodeAPIError(resp *http.Response) error {
	var apiErr struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Code != "" {
		return errors.New(errors.Code(apiErr.Error.Code), "%s", apiErr.Error.Message)
	}
	if resp.StatusCode >= 500 {
		return errors.New(errors.ErrCodePersistence, "server returned %s", resp.Status)
	}
	return errors.New(errors.ErrCodeInvalidInput, "server returned %s", resp.Status)
}

var _ Store = (*HTTPStore)(nil)
