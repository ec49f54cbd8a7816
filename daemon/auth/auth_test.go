package auth

import (
	"net"
	"testing"
	"time"

	"github.com/mcp-gateway/gateway/daemon/domain"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

func TestPrincipalHasPermissionExactAndWildcard(t *testing.T) {
	p := Principal{Permissions: []string{"read:disks", "write:*"}}
	if !p.HasPermission("read:disks") {
		t.Error("expected exact match to grant permission")
	}
	if !p.HasPermission("write:anything") {
		t.Error("expected write:* to grant write:anything")
	}
	if p.HasPermission("delete:disks") {
		t.Error("expected ungranted permission to be denied")
	}
}

func TestLocalTrustedAcceptsLoopback(t *testing.T) {
	a := New(ModeLocalTrusted, nil)
	_, err := a.Authenticate(fakeAddr("127.0.0.1:5000"), "")
	if err != nil {
		t.Fatalf("expected loopback to be local-trusted, got %v", err)
	}
}

func TestLocalTrustedRejectsRemote(t *testing.T) {
	a := New(ModeLocalTrusted, nil)
	_, err := a.Authenticate(fakeAddr("8.8.8.8:5000"), "")
	if err == nil {
		t.Fatal("expected a non-private address to be rejected under local-trusted")
	}
}

func TestExternalSecureRequiresValidToken(t *testing.T) {
	a := New(ModeExternalSecure, nil)
	token, err := a.CreateToken("alice", []string{"read:*"}, 0)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	p, err := a.Authenticate(nil, token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Subject != "alice" {
		t.Errorf("expected subject alice, got %q", p.Subject)
	}

	if _, err := a.Authenticate(nil, "bogus"); err == nil {
		t.Error("expected an invalid token to be rejected")
	}
}

func TestTokenExpiryIsLazilyPurged(t *testing.T) {
	a := New(ModeExternalSecure, nil)
	token, err := a.CreateToken("bob", nil, time.Millisecond)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := a.Authenticate(nil, token); err == nil {
		t.Error("expected expired token to be rejected")
	}
	if len(a.credentials) != 0 {
		t.Error("expected expired token to be purged from the credential table")
	}
}

func TestDualModeFallsBackToCredential(t *testing.T) {
	a := New(ModeDual, nil)
	key, err := a.CreateAPIKey("svc", []string{"*"})
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	if _, err := a.Authenticate(fakeAddr("8.8.8.8:1"), key); err != nil {
		t.Fatalf("expected dual mode to accept a valid API key for a remote peer, got %v", err)
	}
	if _, err := a.Authenticate(fakeAddr("127.0.0.1:1"), ""); err != nil {
		t.Fatalf("expected dual mode to accept a loopback peer with no credential, got %v", err)
	}
}

func TestRevokeTokenPublishesAudit(t *testing.T) {
	bus := domain.NewEventBus(4)
	a := New(ModeExternalSecure, bus)
	ch := bus.Sub(TopicTokenGenerated, TopicTokenRevoked)

	token, _ := a.CreateToken("carol", nil, 0)
	a.RevokeToken(token)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a tokenGenerated event")
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a tokenRevoked event")
	}

	net.ParseIP("127.0.0.1") // keep net imported for fakeAddr parity with production code
}
