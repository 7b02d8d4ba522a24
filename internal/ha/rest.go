package ha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxResponseSize bounds how much of a hub response is read
const maxResponseSize = 16 << 20

// Gateway defines the REST operations the dashboard performs against the hub
type Gateway interface {
	FetchAllStates(ctx context.Context) ([]State, error)
	FetchState(ctx context.Context, entityID string) (*State, error)
	InvokeAction(ctx context.Context, action Action) (json.RawMessage, error)
	FetchHistory(ctx context.Context, entityID string, start, end time.Time) ([]HistoryPoint, error)
}

// RESTClient implements Gateway over the hub's REST API.
// It holds no connection state; every call is a single request with no retry.
type RESTClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

var _ Gateway = (*RESTClient)(nil)

// NewRESTClient creates a new hub REST client
func NewRESTClient(baseURL, token string, httpClient *http.Client, logger *zap.Logger) *RESTClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &RESTClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    httpClient,
		logger:  logger.Named("rest"),
	}
}

// BaseURL returns the normalised hub base URL
func (c *RESTClient) BaseURL() string {
	return c.baseURL
}

// do issues an authenticated request and returns the raw body of a 2xx response
func (c *RESTClient) do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api"+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Hub request", zap.String("method", method), zap.String("endpoint", endpoint))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHubUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrHubUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HubError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       data,
		}
	}

	return data, nil
}

// FetchAllStates returns every entity currently known to the hub
func (c *RESTClient) FetchAllStates(ctx context.Context) ([]State, error) {
	data, err := c.do(ctx, http.MethodGet, "/states", nil)
	if err != nil {
		return nil, err
	}

	var states []State
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("failed to unmarshal states: %w", err)
	}
	return states, nil
}

// FetchState returns a single entity, or ErrNotFound if the hub does not know it
func (c *RESTClient) FetchState(ctx context.Context, entityID string) (*State, error) {
	data, err := c.do(ctx, http.MethodGet, "/states/"+url.PathEscape(entityID), nil)
	if err != nil {
		var hubErr *HubError
		if errors.As(err, &hubErr) && hubErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
		}
		return nil, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// InvokeAction calls a hub service and returns its response unmodified.
// The resulting state change arrives later through the push channel.
func (c *RESTClient) InvokeAction(ctx context.Context, action Action) (json.RawMessage, error) {
	if action.Domain == "" || action.Service == "" {
		return nil, fmt.Errorf("domain and service are required")
	}

	endpoint := fmt.Sprintf("/services/%s/%s", url.PathEscape(action.Domain), url.PathEscape(action.Service))
	data, err := c.do(ctx, http.MethodPost, endpoint, action.Body())
	if err != nil {
		return nil, err
	}

	c.logger.Info("Service called",
		zap.String("domain", action.Domain),
		zap.String("service", action.Service),
		zap.Strings("targets", action.Targets))

	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("[]"), nil
	}
	return json.RawMessage(data), nil
}

// HistoryEntry is one raw record from /api/history/period
type HistoryEntry struct {
	State       string `json:"state"`
	LastChanged string `json:"last_changed"`
	LastUpdated string `json:"last_updated"`
}

// FetchHistory returns the numeric history of one entity between start and end
func (c *RESTClient) FetchHistory(ctx context.Context, entityID string, start, end time.Time) ([]HistoryPoint, error) {
	query := url.Values{}
	query.Set("filter_entity_id", entityID)
	query.Set("end_time", end.UTC().Format(time.RFC3339))
	endpoint := "/history/period/" + url.PathEscape(start.UTC().Format(time.RFC3339)) + "?" + query.Encode()

	data, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var series [][]HistoryEntry
	if err := json.Unmarshal(data, &series); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	if len(series) == 0 {
		return []HistoryPoint{}, nil
	}

	// Only one entity is queried, so only the first series matters
	return NumericHistory(series[0]), nil
}

// NumericHistory keeps the entries whose state is a finite number, in order.
// Sentinel states such as "unavailable" or "unknown" are dropped.
func NumericHistory(entries []HistoryEntry) []HistoryPoint {
	points := make([]HistoryPoint, 0, len(entries))
	for _, entry := range entries {
		value, ok := ParseNumeric(entry.State)
		if !ok {
			continue
		}

		updated := entry.LastUpdated
		if updated == "" {
			updated = entry.LastChanged
		}

		var ts int64
		if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			ts = t.UnixMilli()
		}

		points = append(points, HistoryPoint{
			Timestamp:   ts,
			Value:       value,
			State:       entry.State,
			LastUpdated: updated,
		})
	}
	return points
}

// ParseNumeric parses a state string as a finite decimal float.
// Hex floats and values with trailing text such as "12.5abc" are rejected.
func ParseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "xX") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ToggleAction toggles a single entity using its own domain
func ToggleAction(entityID string) Action {
	return Action{
		Domain:  Domain(entityID),
		Service: "toggle",
		Targets: []string{entityID},
	}
}

// TurnOnAction switches every target on in a single call
func TurnOnAction(domain string, entityIDs []string) Action {
	return Action{Domain: domain, Service: "turn_on", Targets: entityIDs}
}

// TurnOffAction switches every target off in a single call
func TurnOffAction(domain string, entityIDs []string) Action {
	return Action{Domain: domain, Service: "turn_off", Targets: entityIDs}
}
