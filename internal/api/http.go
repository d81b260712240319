package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
)

// NewHTTPHandler serves the MCP server over streamable HTTP at /mcp, behind
// bearer auth. /health stays open.
func NewHTTPHandler(s *server.MCPServer, token string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(token))
		r.Handle("/mcp", server.NewStreamableHTTPServer(s))
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "not_found", "no route for %s", r.URL.Path)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
