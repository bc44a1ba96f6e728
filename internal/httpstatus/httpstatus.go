// Package httpstatus serves the read-only status page of spec §6: GET /
// lists connected peer names as HTML, GET /connections?json=true returns
// them as JSON. Grounded on service/rpc.go's http.Server + gorilla/mux
// pairing with context-driven shutdown, generalized from a JSON-RPC router
// to a small read-only status router.
package httpstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/CaptainCow95/DatabaseV2/internal/applog"
	"github.com/CaptainCow95/DatabaseV2/internal/registry"
	"github.com/CaptainCow95/DatabaseV2/internal/wire"
)

// ConnectedNodesFunc returns the current set of connected peer names,
// deduplicated across direction (spec §6).
type ConnectedNodesFunc func() []wire.NodeID

// Server is the status page's HTTP server.
type Server struct {
	router   *mux.Router
	srv      *http.Server
	connected ConnectedNodesFunc
}

// New builds a status server that will answer with whatever connected
// returns at request time.
func New(connected ConnectedNodesFunc) *Server {
	s := &Server{router: mux.NewRouter(), connected: connected}
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/connections", s.handleConnections).Methods(http.MethodGet)
	return s
}

// Start binds to port (node port + 1 per spec §6). It first tries to bind
// on every interface ("*"); if that fails it retries on localhost only, the
// same fallback spec §6 specifies.
func (s *Server) Start(ctx context.Context, port int) error {
	s.srv = &http.Server{
		Handler:      s.router,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		applog.Logf(applog.Warning, "[httpstatus] bind to * failed, retrying on localhost: %v", err)
		ln, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			return err
		}
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			applog.Logf(applog.Warning, "[httpstatus] server stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintln(w, "<html><body><h1>Connected peers</h1><ul>")
	for _, n := range s.connected() {
		fmt.Fprintf(w, "<li>%s</li>\n", html.EscapeString(n.String()))
	}
	fmt.Fprintln(w, "</ul></body></html>")
}

type connectionsResponse struct {
	Connections []string `json:"connections"`
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	jsonWanted := r.URL.Query().Get("json")
	if ok, _ := strconv.ParseBool(jsonWanted); !ok && jsonWanted != "" {
		http.Error(w, "unsupported format", http.StatusBadRequest)
		return
	}
	names := make([]string, 0)
	for _, n := range s.connected() {
		names = append(names, n.String())
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(connectionsResponse{Connections: names})
}

// ConnectedFromRegistry builds a ConnectedNodesFunc backed by a connection
// registry, deduplicating a peer that appears in both directions.
func ConnectedFromRegistry(reg *registry.Registry) ConnectedNodesFunc {
	return func() []wire.NodeID {
		seen := make(map[wire.NodeID]struct{})
		var out []wire.NodeID
		for _, n := range reg.ConnectedOutgoing() {
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				out = append(out, n)
			}
		}
		for _, n := range reg.ConnectedIncoming() {
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				out = append(out, n)
			}
		}
		return out
	}
}
