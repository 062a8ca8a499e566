// Package transport implements the External-Interface Adapters of
// spec.md §4.7: an HTTP POST endpoint and a WebSocket stream sharing
// the same Protocol State Machine, grounded on the teacher's
// internal/agentexec.Server (gorilla/websocket upgrade handling,
// permissive CORS, JSON envelope framing).
package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/hearthd/hearthd/internal/dispatch"
	"github.com/hearthd/hearthd/internal/protocol"
	"github.com/hearthd/hearthd/internal/registry"
)

// Server exposes the dispatcher over HTTP and WebSocket.
type Server struct {
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	sess       *protocol.Session
	version    string
	mux        *http.ServeMux
}

// New builds a Server wiring d and reg behind handlers registered on
// its own ServeMux (callers mount it with ListenAndServe or embed
// s.Mux() into a larger router).
func New(d *dispatch.Dispatcher, reg *registry.Registry, version string) *Server {
	s := &Server{
		dispatcher: d,
		registry:   reg,
		sess:       protocol.NewSession(),
		version:    version,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("/mcp", s.handleMCP)
	s.mux.HandleFunc("/mcp/ws", s.handleWebSocket)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// Mux returns the underlying handler so callers can wrap it (e.g. with
// a Prometheus /metrics handler mounted alongside it).
func (s *Server) Mux() *http.ServeMux { return s.mux }

func withCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// handleMCP is the spec.md §4.7 HTTP POST /mcp adapter: decode body,
// invoke the state machine, return the response JSON. If the body
// cannot be read, the envelope carries −32603 and a null id; a body
// that is not valid JSON is answered by the dispatcher with −32700 and
// a null id, since the id cannot be trusted to have survived a failed
// decode.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	withCORS(w)
	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		writeInternalError(w, err)
		return
	}

	resp := s.dispatcher.Handle(r.Context(), s.sess, body)
	if resp == nil {
		// Notification with no id: spec.md says no response body for
		// that case, but HTTP needs a status; 204 signals "accepted, no
		// content" to keep the adapter's contract honest.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Write(resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	resp := protocol.Response{
		JSONRPC: protocol.Version,
		Error:   &protocol.Error{Code: protocol.CodeInternalError, Message: err.Error()},
	}
	encoded, _ := json.Marshal(resp)
	w.Write(encoded)
}

// handleHealth serves GET /health per spec.md §4.7.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	withCORS(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"version":   s.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"plugins":   s.registry.ListPlugins(),
	})
}
