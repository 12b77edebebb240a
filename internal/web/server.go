package web

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"tahoma-go-home/internal/automation"
	"tahoma-go-home/internal/coordinator"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithAutomation sets the automation engine and script manager.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// WithVersion sets the application version string.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server for the status page, REST API, WebSocket feed
// and metrics.
type Server struct {
	coord          *coordinator.Coordinator
	index          *template.Template
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// AccessoryView is the template view of one accessory.
type AccessoryView struct {
	ID        string
	Name      string
	DeviceURL string
	Model     string
	Current   string
	Target    int
	State     string
	Pending   bool
}

// NewServer creates a new web server.
func NewServer(coord *coordinator.Coordinator, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	index, err := template.New("index").Parse(indexTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse index template: %w", err)
	}

	s := &Server{
		coord:  coord,
		index:  index,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	s.unsubEvents = coord.Events().OnAll(func(event coordinator.Event) {
		s.wsHub.Broadcast(event)
	})

	s.routes()
	return s, nil
}

// Stop shuts down the WebSocket hub and waits for its goroutine.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)

	// REST API
	s.mux.HandleFunc("GET /api/accessories", s.handleAPIListAccessories)
	s.mux.HandleFunc("GET /api/accessories/{id}", s.handleAPIGetAccessory)
	s.mux.HandleFunc("POST /api/accessories/{id}/position", s.handleAPISetPosition)
	s.mux.HandleFunc("GET /api/gateway/devices", s.handleAPIGatewayDevices)
	s.mux.HandleFunc("GET /api/discovery", s.handleAPIDiscoveryState)
	s.mux.HandleFunc("POST /api/discovery", s.handleAPIRediscover)
	s.mux.HandleFunc("GET /api/filters", s.handleAPIGetFilters)
	s.mux.HandleFunc("PUT /api/filters", s.handleAPISetFilters)
	s.mux.HandleFunc("POST /api/poll", s.handleAPIPoll)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// Automations
	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	s.mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	s.mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)

	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.coord.Metrics().Registry(), promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// Only /api/ is key-protected: browsers cannot send custom headers on
	// page navigation or WebSocket upgrade.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func accessoryView(acc coordinator.Accessory) AccessoryView {
	v := AccessoryView{
		ID:        acc.ID,
		Name:      acc.DisplayName,
		DeviceURL: acc.DeviceURL,
		Model:     acc.Model,
		Current:   "unknown",
		Target:    acc.Cover.Target,
		State:     string(acc.Cover.State),
		Pending:   acc.PendingExecID != "",
	}
	if acc.LastKnownPosition != nil {
		v.Current = fmt.Sprintf("%d%%", acc.Cover.Current)
	}
	if v.State == "" {
		v.State = string(coordinator.StateStopped)
	}
	return v
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	accessories := s.coord.Registry().List()
	views := make([]AccessoryView, 0, len(accessories))
	for _, acc := range accessories {
		views = append(views, accessoryView(acc))
	}

	var buf bytes.Buffer
	if err := s.index.Execute(&buf, map[string]interface{}{
		"Version":     s.version,
		"Accessories": views,
	}); err != nil {
		s.logger.Error("render index", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Debug("write index response", "err", err)
	}
}

const indexTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Tahoma bridge</title></head>
<body>
<h1>Tahoma bridge</h1>
<table>
<tr><th>Name</th><th>Device</th><th>Model</th><th>Current</th><th>Target</th><th>State</th></tr>
{{range .Accessories}}<tr id="{{.ID}}"><td>{{.Name}}</td><td>{{.DeviceURL}}</td><td>{{.Model}}</td><td>{{.Current}}</td><td>{{.Target}}%</td><td>{{.State}}{{if .Pending}} (pending){{end}}</td></tr>
{{else}}<tr><td colspan="6">No accessories</td></tr>
{{end}}</table>
{{with .Version}}<p>{{.}}</p>{{end}}
</body>
</html>
`
