package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"homedash/internal/bridge"
	"homedash/internal/ha"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// validEntityID reports whether id has a non-empty domain and object name
func validEntityID(id string) bool {
	domain, object, ok := strings.Cut(id, ".")
	return ok && domain != "" && object != ""
}

func (s *Server) handleGetStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.gateway.FetchAllStates(r.Context())
	if err != nil {
		s.logger.Warn("Failed to fetch states", zap.Error(err))
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entity_id")
	if !validEntityID(entityID) {
		writeBadRequest(w, "invalid entity_id")
		return
	}

	st, err := s.gateway.FetchState(r.Context(), entityID)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// parseActionBody splits a service body into targets and pass-through parameters.
// entity_id may be a single id or a list.
func parseActionBody(r *http.Request) ([]string, map[string]any, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil, nil
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, nil, fmt.Errorf("body must be a JSON object")
	}

	var targets []string
	switch v := body["entity_id"].(type) {
	case nil:
	case string:
		targets = []string{v}
	case []any:
		for _, item := range v {
			id, ok := item.(string)
			if !ok {
				return nil, nil, fmt.Errorf("entity_id must contain strings")
			}
			targets = append(targets, id)
		}
	default:
		return nil, nil, fmt.Errorf("entity_id must be a string or a list of strings")
	}
	delete(body, "entity_id")

	if len(body) == 0 {
		body = nil
	}
	return targets, body, nil
}

func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	targets, params, err := parseActionBody(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	s.invoke(w, r, ha.Action{
		Domain:     chi.URLParam(r, "domain"),
		Service:    chi.URLParam(r, "service"),
		Targets:    targets,
		Parameters: params,
	})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entity_id")
	if !validEntityID(entityID) {
		writeBadRequest(w, "invalid entity_id")
		return
	}
	s.invoke(w, r, ha.ToggleAction(entityID))
}

// invoke forwards one action and returns the hub's response unmodified
func (s *Server) invoke(w http.ResponseWriter, r *http.Request, action ha.Action) {
	result, err := s.gateway.InvokeAction(r.Context(), action)
	if err != nil {
		s.logger.Warn("Service call failed",
			zap.String("domain", action.Domain),
			zap.String("service", action.Service),
			zap.Strings("targets", action.Targets),
			zap.String("request_id", requestID(r)),
			zap.Error(err))
		writeHubError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(result)
}

// AllLightsResponse reports the calls made by /api/lights/all
type AllLightsResponse struct {
	Service string              `json:"service"`
	Targets map[string][]string `json:"targets"`
	Calls   int                 `json:"calls"`
}

// handleAllLights switches every configured light with one call per domain
func (s *Server) handleAllLights(w http.ResponseWriter, r *http.Request) {
	var build func(string, []string) ha.Action
	switch chi.URLParam(r, "state") {
	case "on":
		build = ha.TurnOnAction
	case "off":
		build = ha.TurnOffAction
	default:
		writeBadRequest(w, "state must be on or off")
		return
	}

	descriptors := s.states.Snapshot().Descriptors()
	if descriptors == nil || len(descriptors.Lights()) == 0 {
		writeNotFound(w, "no lights configured")
		return
	}

	var domains []string
	byDomain := make(map[string][]string)
	for _, id := range descriptors.Lights() {
		domain := ha.Domain(id)
		if _, seen := byDomain[domain]; !seen {
			domains = append(domains, domain)
		}
		byDomain[domain] = append(byDomain[domain], id)
	}

	resp := AllLightsResponse{Targets: byDomain}
	for _, domain := range domains {
		action := build(domain, byDomain[domain])
		resp.Service = action.Service
		if _, err := s.gateway.InvokeAction(r.Context(), action); err != nil {
			writeHubError(w, err)
			return
		}
		resp.Calls++
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.states.Snapshot().Sensors())
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.states.Snapshot().Dashboard())
}

func (s *Server) handleBridgeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Status())
}

func (s *Server) handleBridgeReconnect(w http.ResponseWriter, r *http.Request) {
	err := s.relay.Reconnect()
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
	case errors.Is(err, bridge.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, ErrCodeConflict, "bridge is already running")
	case errors.Is(err, bridge.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "bridge has not started")
	default:
		s.logger.Error("Reconnect failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "bridge is shutting down")
	}
}
