package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcp-gateway/gateway/daemon/ai"
	"github.com/mcp-gateway/gateway/daemon/auth"
	"github.com/mcp-gateway/gateway/daemon/catalog"
	"github.com/mcp-gateway/gateway/daemon/domain"
	"github.com/mcp-gateway/gateway/daemon/registry"
	"github.com/mcp-gateway/gateway/daemon/router"
	"github.com/mcp-gateway/gateway/daemon/sandbox"
	"github.com/mcp-gateway/gateway/daemon/supervisor"
)

func newTestServer() *Server {
	n := 0
	sv := supervisor.New(sandbox.DefaultPolicy(), func() string {
		n++
		return fmt.Sprintf("inst-%d", n)
	})
	reg := registry.New(sv)
	rt := router.New(reg, sv)
	aiMgr := ai.New()
	bus := domain.NewEventBus(8)
	authn := auth.New(auth.ModeLocalTrusted, bus)
	return NewServer(reg, sv, rt, aiMgr, authn, bus)
}

func TestListTemplates_Empty(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/templates", nil)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var got []catalog.ServiceTemplate
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no templates, got %+v", got)
	}
}

func TestRegisterAndListTemplate(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(catalog.ServiceTemplate{
		Name: "echo", Transport: catalog.TransportStdio, Command: "echo",
	})
	req := httptest.NewRequest(http.MethodPost, "/templates", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodGet, "/templates", nil)
	rr2 := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr2, req2)
	var got []catalog.ServiceTemplate
	if err := json.Unmarshal(rr2.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Name != "echo" {
		t.Fatalf("expected one 'echo' template, got %+v", got)
	}
}

func TestRegisterTemplate_RejectsInvalid(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(catalog.ServiceTemplate{Name: "bad", Transport: catalog.TransportStdio})
	req := httptest.NewRequest(http.MethodPost, "/templates", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRemoveTemplate_NotFound(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodDelete, "/templates/nope", nil)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestStartInstance_UnknownTemplate(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/instances/nope/start", nil)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestListChannels_Empty(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var got []ai.Channel
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no channels, got %+v", got)
	}
}

func TestCreateAndRevokeToken(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(map[string]any{"subject": "alice", "permissions": []string{"tools:*"}})
	req := httptest.NewRequest(http.MethodPost, "/auth/tokens", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var got map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	token := got["token"]
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	req2 := httptest.NewRequest(http.MethodDelete, "/auth/tokens/"+token, nil)
	rr2 := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr2.Code)
	}
}
