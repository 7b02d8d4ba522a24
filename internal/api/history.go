package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"homedash/internal/ha"

	"go.uber.org/zap"
)

const (
	defaultHistoryHours = 4
	maxHistoryHours     = 7 * 24
)

// HistoryResponse is the body of GET /api/history
type HistoryResponse struct {
	EntityID   string            `json:"entityId"`
	Hours      int               `json:"hours"`
	DataPoints []ha.HistoryPoint `json:"dataPoints"`
	Count      int               `json:"count"`
}

// parseHours validates the hours query parameter
func parseHours(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryHours, nil
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours < 1 || hours > maxHistoryHours {
		return 0, fmt.Errorf("hours must be an integer between 1 and %d", maxHistoryHours)
	}
	return hours, nil
}

// handleHistory returns the numeric history of one entity over the last N hours
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entityId")
	if entityID == "" {
		writeBadRequest(w, "entityId is required")
		return
	}
	if !validEntityID(entityID) {
		writeBadRequest(w, "invalid entityId")
		return
	}

	hours, err := parseHours(r.URL.Query().Get("hours"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	end := s.clock.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	points, err := s.gateway.FetchHistory(r.Context(), entityID, start, end)
	if err != nil {
		s.logger.Warn("Failed to fetch history",
			zap.String("entity_id", entityID),
			zap.Int("hours", hours),
			zap.Error(err))
		writeHubError(w, err)
		return
	}
	if points == nil {
		points = []ha.HistoryPoint{}
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		EntityID:   entityID,
		Hours:      hours,
		DataPoints: points,
		Count:      len(points),
	})
}
