// Package admin mounts the gateway's facades (templates, instances,
// routing, AI channels, auth) behind a gorilla/mux router plus a
// gorilla/websocket event stream. Route bodies here are deliberately thin
// — translating a request into one facade call and the result into JSON —
// since request parsing, CORS, and error-envelope conventions are an
// external HTTP-surface concern the gateway's core does not own.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mcp-gateway/gateway/daemon/ai"
	"github.com/mcp-gateway/gateway/daemon/auth"
	"github.com/mcp-gateway/gateway/daemon/catalog"
	"github.com/mcp-gateway/gateway/daemon/domain"
	"github.com/mcp-gateway/gateway/daemon/logger"
	"github.com/mcp-gateway/gateway/daemon/registry"
	"github.com/mcp-gateway/gateway/daemon/router"
	"github.com/mcp-gateway/gateway/daemon/supervisor"
)

// Server bundles the facades the admin surface exposes and builds the
// gorilla/mux router over them.
type Server struct {
	Registry *registry.Registry
	Super    *supervisor.Supervisor
	Router   *router.Router
	AI       *ai.Manager
	Auth     *auth.Authenticator
	Bus      *domain.EventBus

	upgrader websocket.Upgrader
}

// NewServer builds a Server and its mux.Router.
func NewServer(reg *registry.Registry, sv *supervisor.Supervisor, rt *router.Router, aiMgr *ai.Manager, authn *auth.Authenticator, bus *domain.EventBus) *Server {
	return &Server{
		Registry: reg,
		Super:    sv,
		Router:   rt,
		AI:       aiMgr,
		Auth:     authn,
		Bus:      bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes builds the mux.Router. The caller mounts it (directly, or behind
// its own CORS/logging middleware) on the listener of its choice.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/templates", s.listTemplates).Methods(http.MethodGet)
	r.HandleFunc("/templates", s.registerTemplate).Methods(http.MethodPost)
	r.HandleFunc("/templates/{name}", s.removeTemplate).Methods(http.MethodDelete)
	r.HandleFunc("/templates/repair", s.repairTemplates).Methods(http.MethodPost)
	r.HandleFunc("/templates/tools", s.listAllTools).Methods(http.MethodGet)

	r.HandleFunc("/instances/{name}/start", s.startInstance).Methods(http.MethodPost)
	r.HandleFunc("/instances/{id}/stop", s.stopInstance).Methods(http.MethodPost)
	r.HandleFunc("/instances/{id}/restart", s.restartInstance).Methods(http.MethodPost)
	r.HandleFunc("/instances/{id}", s.instanceInfo).Methods(http.MethodGet)
	r.HandleFunc("/templates/{name}/health", s.templateHealth).Methods(http.MethodGet)

	r.HandleFunc("/channels", s.listChannels).Methods(http.MethodGet)
	r.HandleFunc("/channels/{id}/enabled", s.setChannelEnabled).Methods(http.MethodPost)

	r.HandleFunc("/auth/tokens", s.createToken).Methods(http.MethodPost)
	r.HandleFunc("/auth/tokens/{value}", s.revokeToken).Methods(http.MethodDelete)
	r.HandleFunc("/auth/apikeys", s.createAPIKey).Methods(http.MethodPost)
	r.HandleFunc("/auth/apikeys/{value}", s.revokeAPIKey).Methods(http.MethodDelete)
	r.HandleFunc("/auth/principals", s.listPrincipals).Methods(http.MethodGet)

	r.HandleFunc("/events", s.streamEvents)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) listTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Registry.List())
}

func (s *Server) registerTemplate(w http.ResponseWriter, r *http.Request) {
	var tmpl catalog.ServiceTemplate
	if err := json.NewDecoder(r.Body).Decode(&tmpl); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Registry.Register(tmpl); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

func (s *Server) removeTemplate(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.Registry.Remove(name); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) repairTemplates(w http.ResponseWriter, _ *http.Request) {
	bad := s.Registry.Repair()
	out := make(map[string]string, len(bad))
	for name, err := range bad {
		out[name] = err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listAllTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.Registry.ListAllTools(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, tools)
}

func (s *Server) startInstance(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	tmpl, ok := s.Registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound(name))
		return
	}
	inst, err := s.Super.StartProcess(r.Context(), tmpl)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) stopInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.Super.StopProcess(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) restartInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, ok := s.Super.GetProcessInfo(id)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound(id))
		return
	}
	tmpl, ok := s.Registry.Get(inst.TemplateName)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound(inst.TemplateName))
		return
	}
	newInst, err := s.Super.RestartProcess(r.Context(), id, tmpl)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, newInst)
}

func (s *Server) instanceInfo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, ok := s.Super.GetProcessInfo(id)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) templateHealth(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	writeJSON(w, http.StatusOK, s.Registry.HealthOf(name))
}

func (s *Server) listChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.AI.List())
}

func (s *Server) setChannelEnabled(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.AI.SetEnabled(id, body.Enabled); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Subject     string        `json:"subject"`
		Permissions []string      `json:"permissions"`
		TTL         time.Duration `json:"ttlSeconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	token, err := s.Auth.CreateToken(body.Subject, body.Permissions, body.TTL*time.Second)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": token})
}

func (s *Server) revokeToken(w http.ResponseWriter, r *http.Request) {
	s.Auth.RevokeToken(mux.Vars(r)["value"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createAPIKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Subject     string   `json:"subject"`
		Permissions []string `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key, err := s.Auth.CreateAPIKey(body.Subject, body.Permissions)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"apiKey": key})
}

func (s *Server) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	s.Auth.RevokeAPIKey(mux.Vars(r)["value"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listPrincipals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Auth.List())
}

// streamEvents upgrades to a websocket and relays every message published
// on the shared event bus until the client disconnects.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warning("admin: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch := s.Bus.Sub("service-events", "channel-events", "audit-events")
	defer s.Bus.Unsub(ch)

	for msg := range ch {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

type notFoundError struct{ what string }

func (e *notFoundError) Error() string { return "not found: " + e.what }

func errNotFound(what string) error { return &notFoundError{what: what} }
