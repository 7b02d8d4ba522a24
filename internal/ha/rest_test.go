package ha

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"homedash/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestREST(t *testing.T) (*RESTClient, *testutil.MockHAServer) {
	t.Helper()
	server := testutil.NewMockHAServer("test_token")
	t.Cleanup(server.Close)
	return NewRESTClient(server.URL()+"/", "test_token", nil, zap.NewNop()), server
}

func TestRESTClient_BaseURLTrimsSlash(t *testing.T) {
	client := NewRESTClient("http://hub.local:8123/", "t", nil, zap.NewNop())
	assert.Equal(t, "http://hub.local:8123", client.BaseURL())
}

func TestRESTClient_FetchAllStates(t *testing.T) {
	client, server := newTestREST(t)
	server.SetState("switch.kitchen", "on", map[string]any{"friendly_name": "Kitchen"})
	server.SetState("sensor.temp", "21.5", map[string]any{"unit_of_measurement": "°C"})

	states, err := client.FetchAllStates(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "switch.kitchen", states[0].EntityID)
	assert.Equal(t, "on", states[0].State)
	assert.Equal(t, "Kitchen", states[0].Attributes["friendly_name"])
	assert.Equal(t, "sensor.temp", states[1].EntityID)
	assert.NotEmpty(t, states[1].LastUpdated)
}

func TestRESTClient_FetchState(t *testing.T) {
	client, server := newTestREST(t)
	server.SetState("light.office", "off", nil)

	t.Run("known entity", func(t *testing.T) {
		state, err := client.FetchState(context.Background(), "light.office")
		require.NoError(t, err)
		assert.Equal(t, "off", state.State)
		assert.Equal(t, "light", state.Domain())
	})

	t.Run("unknown entity", func(t *testing.T) {
		_, err := client.FetchState(context.Background(), "light.nowhere")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRESTClient_Unauthorized(t *testing.T) {
	server := testutil.NewMockHAServer("test_token")
	defer server.Close()
	client := NewRESTClient(server.URL(), "wrong", nil, zap.NewNop())

	_, err := client.FetchAllStates(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHubRejected)

	var hubErr *HubError
	require.True(t, errors.As(err, &hubErr))
	assert.Equal(t, http.StatusUnauthorized, hubErr.StatusCode)
	assert.Equal(t, "Home Assistant API error: Unauthorized", hubErr.Error())
}

func TestRESTClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewRESTClient(url, "t", &http.Client{Timeout: time.Second}, zap.NewNop())
	_, err := client.FetchAllStates(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHubUnavailable)
}

func TestRESTClient_InvokeAction(t *testing.T) {
	t.Run("single target sent as string", func(t *testing.T) {
		client, server := newTestREST(t)

		result, err := client.InvokeAction(context.Background(), ToggleAction("switch.kitchen"))
		require.NoError(t, err)
		assert.JSONEq(t, "[]", string(result))

		calls := server.GetServiceCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, "switch", calls[0].Domain)
		assert.Equal(t, "toggle", calls[0].Service)
		assert.Equal(t, "switch.kitchen", calls[0].ServiceData["entity_id"])
	})

	t.Run("several targets in one call", func(t *testing.T) {
		client, server := newTestREST(t)
		ids := []string{"switch.a", "switch.b", "switch.c"}

		_, err := client.InvokeAction(context.Background(), TurnOnAction("switch", ids))
		require.NoError(t, err)

		calls := testutil.FilterServiceCalls(server.GetServiceCalls(), "switch", "turn_on")
		require.Len(t, calls, 1)
		assert.Equal(t, ids, calls[0].EntityIDs())
	})

	t.Run("parameters are passed through", func(t *testing.T) {
		client, server := newTestREST(t)

		_, err := client.InvokeAction(context.Background(), Action{
			Domain:     "light",
			Service:    "turn_on",
			Targets:    []string{"light.office"},
			Parameters: map[string]any{"brightness": 128},
		})
		require.NoError(t, err)

		call := testutil.FindServiceCallWithEntityID(server.GetServiceCalls(), "light", "turn_on", "light.office")
		require.NotNil(t, call)
		assert.Equal(t, float64(128), call.ServiceData["brightness"])
	})

	t.Run("hub rejection carries status", func(t *testing.T) {
		client, server := newTestREST(t)
		server.SetServiceResponse(http.StatusBadRequest, `{"message":"Service not found."}`)

		_, err := client.InvokeAction(context.Background(), Action{Domain: "switch", Service: "explode"})
		require.Error(t, err)

		var hubErr *HubError
		require.ErrorAs(t, err, &hubErr)
		assert.Equal(t, http.StatusBadRequest, hubErr.StatusCode)
		assert.Contains(t, string(hubErr.Body), "Service not found")
	})

	t.Run("missing service", func(t *testing.T) {
		client, server := newTestREST(t)

		_, err := client.InvokeAction(context.Background(), Action{Domain: "switch"})
		assert.Error(t, err)
		assert.Empty(t, server.GetServiceCalls())
	})
}

func TestRESTClient_FetchHistory(t *testing.T) {
	client, server := newTestREST(t)
	server.SetHistory("sensor.temp", []testutil.HistoryEntry{
		{State: "21.0", LastUpdated: "2024-01-01T10:00:00+00:00"},
		{State: "unavailable", LastUpdated: "2024-01-01T10:05:00+00:00"},
		{State: "21.4", LastUpdated: "2024-01-01T10:10:00+00:00"},
		{State: "unknown", LastUpdated: "2024-01-01T10:15:00+00:00"},
	})

	end := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	start := end.Add(-4 * time.Hour)

	points, err := client.FetchHistory(context.Background(), "sensor.temp", start, end)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 21.0, points[0].Value)
	assert.Equal(t, 21.4, points[1].Value)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 10, 0, 0, time.UTC).UnixMilli(), points[1].Timestamp)

	queries := server.HistoryQueries()
	require.Len(t, queries, 1)
	assert.Equal(t, "2024-01-01T08:00:00Z", queries[0].Start)
	assert.Equal(t, "2024-01-01T12:00:00Z", queries[0].End)
	assert.Equal(t, "sensor.temp", queries[0].EntityID)
}

func TestRESTClient_FetchHistoryEmpty(t *testing.T) {
	client, _ := newTestREST(t)

	points, err := client.FetchHistory(context.Background(), "sensor.none", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.NotNil(t, points)
	assert.Empty(t, points)
}

func TestNumericHistory(t *testing.T) {
	tests := []struct {
		name    string
		entries []HistoryEntry
		want    []float64
	}{
		{"all numeric", []HistoryEntry{{State: "1"}, {State: "2.5"}}, []float64{1, 2.5}},
		{"sentinels dropped", []HistoryEntry{{State: "unknown"}, {State: "3"}, {State: "unavailable"}}, []float64{3}},
		{"non finite dropped", []HistoryEntry{{State: "NaN"}, {State: "Inf"}, {State: "-4"}}, []float64{-4}},
		{"nothing numeric", []HistoryEntry{{State: "on"}}, []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points := NumericHistory(tt.entries)
			values := make([]float64, 0, len(points))
			for _, p := range points {
				values = append(values, p.Value)
			}
			assert.Equal(t, tt.want, values)
		})
	}
}

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"21.5", 21.5, true},
		{" 7 ", 7, true},
		{"-0.25", -0.25, true},
		{"1e3", 1000, true},
		{"0x1p3", 0, false},
		{"12.5abc", 0, false},
		{"", 0, false},
		{"Infinity", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseNumeric(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNumericHistory_FallsBackToLastChanged(t *testing.T) {
	points := NumericHistory([]HistoryEntry{{State: "5", LastChanged: "2024-01-01T10:00:00Z"}})
	require.Len(t, points, 1)
	assert.Equal(t, "2024-01-01T10:00:00Z", points[0].LastUpdated)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC).UnixMilli(), points[0].Timestamp)
}
