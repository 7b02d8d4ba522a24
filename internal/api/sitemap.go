package api

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// endpoints lists every route served by buildRouter
var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/health", Method: "GET", Description: "Health check with bridge status"},
	{Path: "/api/states", Method: "GET", Description: "All entity states, straight from Home Assistant"},
	{Path: "/api/states/{entity_id}", Method: "GET", Description: "One entity state, straight from Home Assistant"},
	{Path: "/api/services/{domain}/{service}", Method: "POST", Description: "Call a service; body {\"entity_id\": ..., ...}"},
	{Path: "/api/entities/{entity_id}/toggle", Method: "POST", Description: "Toggle one entity"},
	{Path: "/api/lights/all/{on|off}", Method: "POST", Description: "Switch every configured light in one call"},
	{Path: "/api/sensors", Method: "GET", Description: "Live sensor values decorated with labels, units and icons"},
	{Path: "/api/dashboard", Method: "GET", Description: "Rooms, averages, power, doors and lights"},
	{Path: "/api/history?entityId=&hours=", Method: "GET", Description: "Numeric history for one entity (hours defaults to 4)"},
	{Path: "/api/stream", Method: "GET", Description: "Server-sent events relayed from Home Assistant"},
	{Path: "/api/bridge", Method: "GET", Description: "Push channel connection status"},
	{Path: "/api/bridge/reconnect", Method: "POST", Description: "Restart a stopped push channel connection"},
}

// handleSitemap lists the available endpoints. Unknown paths get the same
// body with a 404 status.
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if r.URL.Path != "/" {
		status = http.StatusNotFound
	}

	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Home Dashboard API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        h2 { color: #569cd6; margin-top: 30px; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>Home Dashboard API</h1>
    <h2>Available Endpoints</h2>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, "Home Dashboard API\n")
		fmt.Fprintf(w, "==================\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-36s %s\n", ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "\nExamples:\n\n")
		fmt.Fprintf(w, "  Follow live events:\n")
		fmt.Fprintf(w, "    curl -N -H 'Accept: text/event-stream' http://localhost:8080/api/stream\n\n")
		fmt.Fprintf(w, "  Temperature history:\n")
		fmt.Fprintf(w, "    curl 'http://localhost:8080/api/history?entityId=sensor.kitchen_temperature&hours=12' | jq\n\n")
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}
