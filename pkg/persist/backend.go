package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/prabin-acharya/atlas-map/pkg/api"
	"github.com/prabin-acharya/atlas-map/pkg/canvas"
	"github.com/prabin-acharya/atlas-map/pkg/storage"
)

// Backend is the persistence service as the adapter sees it.
type Backend interface {
	Elements(ctx context.Context, sessionID string) ([]canvas.Element, *storage.MapMeta, error)
	CreateElement(ctx context.Context, sessionID, userID string, e canvas.Element) error
	UpdateElement(ctx context.Context, id string, p canvas.Patch) error
	DeleteElement(ctx context.Context, id string) error
	UpdateMap(ctx context.Context, sessionID string, m storage.MapMeta) error
}

// HTTPBackend talks to the persistence API.
type HTTPBackend struct {
	base   *url.URL
	client *http.Client
}

var _ Backend = (*HTTPBackend)(nil)

func NewHTTPBackend(base string, client *http.Client) (*HTTPBackend, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{base: u, client: client}, nil
}

func (h *HTTPBackend) Elements(ctx context.Context, sessionID string) ([]canvas.Element, *storage.MapMeta, error) {
	u := h.base.JoinPath("elements")
	u.RawQuery = url.Values{"sessionId": {sessionID}}.Encode()
	var resp api.ElementsResponse
	if err := h.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Elements, resp.Map, nil
}

func (h *HTTPBackend) CreateElement(ctx context.Context, sessionID, userID string, e canvas.Element) error {
	return h.do(ctx, http.MethodPost, h.base.JoinPath("element"),
		api.CreateElementRequest{SessionID: sessionID, UserID: userID, Element: e}, nil)
}

func (h *HTTPBackend) UpdateElement(ctx context.Context, id string, p canvas.Patch) error {
	return h.do(ctx, http.MethodPut, h.base.JoinPath("element", id), api.UpdateElementRequest{UpdatedFields: p}, nil)
}

func (h *HTTPBackend) DeleteElement(ctx context.Context, id string) error {
	return h.do(ctx, http.MethodDelete, h.base.JoinPath("element", id), nil, nil)
}

func (h *HTTPBackend) UpdateMap(ctx context.Context, sessionID string, m storage.MapMeta) error {
	return h.do(ctx, http.MethodPut, h.base.JoinPath("mapMetadata", sessionID), m, nil)
}

func (h *HTTPBackend) do(ctx context.Context, method string, u *url.URL, body, into any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var status api.StatusResponse
		_ = json.NewDecoder(resp.Body).Decode(&status)
		err := fmt.Errorf("%s %s: unexpected status code %d: %s", method, u.Path, resp.StatusCode, status.Error)
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
		}
		return err
	}
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Direct serves the adapter straight from a repository, for processes that
// embed storage.
type Direct struct {
	Repo storage.Repository
}

var _ Backend = Direct{}

func (d Direct) Elements(ctx context.Context, sessionID string) ([]canvas.Element, *storage.MapMeta, error) {
	elements, err := d.Repo.ListElements(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	m, err := d.Repo.GetMap(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return elements, nil, nil
	} else if err != nil {
		return nil, nil, err
	}
	return elements, &m, nil
}

func (d Direct) CreateElement(ctx context.Context, sessionID, userID string, e canvas.Element) error {
	return d.Repo.UpsertElement(ctx, sessionID, userID, e)
}

func (d Direct) UpdateElement(ctx context.Context, id string, p canvas.Patch) error {
	_, err := d.Repo.PatchElement(ctx, id, p)
	return err
}

func (d Direct) DeleteElement(ctx context.Context, id string) error {
	return d.Repo.DeleteElement(ctx, id)
}

func (d Direct) UpdateMap(ctx context.Context, sessionID string, m storage.MapMeta) error {
	return d.Repo.PutMap(ctx, sessionID, m)
}
