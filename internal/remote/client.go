// Package remote is the HTTP client for the authoritative server. All
// legacy payload shapes are normalized here, at the boundary; nothing
// past this package sees an alias field.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"field-sync-service/internal/config"
	"field-sync-service/internal/nmea"
	"field-sync-service/internal/store"
)

// TokenSource supplies the bearer token for outgoing requests. An
// empty token means the request goes out unauthenticated.
type TokenSource interface {
	Token() string
}

// TransportError covers every way a request can fail: no route,
// timeout, non-2xx status, or an undecodable body. Callers convert it
// into a failed result; it must never escape as a crash.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PointPayload is one collected point in an upload batch.
type PointPayload struct {
	ClientID    string                 `json:"client_id"`
	Category    int64                  `json:"category"`
	Type        string                 `json:"type"`
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	ProjectID   int64                  `json:"project_id"`
	Coords      [2]float64             `json:"coords"`
	CreatedBy   string                 `json:"created_by,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	Properties  map[string]interface{} `json:"properties"`
	NMEAData    NMEAPayload            `json:"nmea_data"`
}

type NMEAPayload struct {
	GGA *nmea.GGAData `json:"gga,omitempty"`
	GST *nmea.GSTData `json:"gst,omitempty"`
}

// SyncResponse is the server's acknowledgement of an upload batch. The
// field casing is the server's, not ours.
type SyncResponse struct {
	Success    bool     `json:"success"`
	SyncedIDs  []string `json:"syncedIds,omitempty"`
	CreatedIDs []int64  `json:"created_ids,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Project is the normalized project listing entry.
type Project struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ServerFeature is the normalized shape of a feature pulled from the
// server.
type ServerFeature struct {
	ID            int64                  `json:"id"`
	ClientID      string                 `json:"client_id,omitempty"`
	Name          string                 `json:"name,omitempty"`
	FeatureTypeID int64                  `json:"feature_type_id"`
	GeometryType  string                 `json:"geometry_type"`
	Coordinates   [][2]float64           `json:"coordinates"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

func NewClient(cfg config.RemoteConfig, tokens TokenSource) *Client {
	timeout := cfg.GetRequestTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

// BuildPointPayload converts a stored point into its wire form.
func BuildPointPayload(p *store.PointCollected) PointPayload {
	payload := PointPayload{
		ClientID:    p.ClientID,
		Category:    p.FeatureTypeID,
		Type:        store.GeometryPoint,
		Name:        p.Name,
		Description: p.Description,
		ProjectID:   p.ProjectID,
		Coords:      [2]float64{p.Longitude, p.Latitude},
		CreatedBy:   p.CreatedBy,
		CreatedAt:   p.CreatedAt,
		Properties:  p.Attributes,
	}
	if payload.Properties == nil {
		payload.Properties = map[string]interface{}{}
	}
	if p.NMEA != nil {
		payload.NMEAData = NMEAPayload{GGA: p.NMEA.GGA, GST: p.NMEA.GST}
	}
	return payload
}

// SyncPoints uploads one batch of points for a project. The body is
// the JSON array of point payloads; the response says which client ids
// the server accepted.
func (c *Client) SyncPoints(ctx context.Context, projectID int64, pts []*store.PointCollected) (*SyncResponse, error) {
	payloads := make([]PointPayload, 0, len(pts))
	for _, p := range pts {
		payloads = append(payloads, BuildPointPayload(p))
	}

	var resp SyncResponse
	if err := c.post(ctx, fmt.Sprintf("/api/projects/%d/sync", projectID), payloads, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchFeatureTypes pulls a project's catalog, normalized.
func (c *Client) FetchFeatureTypes(ctx context.Context, projectID int64) ([]*store.FeatureType, error) {
	var wire []featureTypeWire
	if err := c.get(ctx, fmt.Sprintf("/api/projects/%d/feature-types", projectID), &wire); err != nil {
		return nil, err
	}

	types := make([]*store.FeatureType, 0, len(wire))
	for _, w := range wire {
		types = append(types, w.normalize(projectID))
	}
	return types, nil
}

// FetchActiveFeatures pulls the server's current features for a
// project, for display alongside local captures.
func (c *Client) FetchActiveFeatures(ctx context.Context, projectID int64) ([]*ServerFeature, error) {
	var wire []serverFeatureWire
	if err := c.get(ctx, fmt.Sprintf("/api/projects/%d/active-features", projectID), &wire); err != nil {
		return nil, err
	}

	features := make([]*ServerFeature, 0, len(wire))
	for _, w := range wire {
		f, ok := w.normalize()
		if !ok {
			continue
		}
		features = append(features, f)
	}
	return features, nil
}

// FetchProjects lists the projects the operator can collect into.
func (c *Client) FetchProjects(ctx context.Context) ([]*Project, error) {
	var wire []projectWire
	if err := c.get(ctx, "/api/projects", &wire); err != nil {
		return nil, err
	}

	projects := make([]*Project, 0, len(wire))
	for _, w := range wire {
		projects = append(projects, &Project{ID: w.ID, Name: firstNonEmpty(w.Name, w.Title)})
	}
	return projects, nil
}

// Ping probes the server's health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("encode body: %w", err)}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", readErrorMessage(resp.Body))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// readErrorMessage pulls a server-supplied error string out of a
// failure body when there is one.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "request failed"
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
