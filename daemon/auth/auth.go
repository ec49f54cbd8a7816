// Package auth is the small table-backed component the HTTP admin surface
// consults: local-trusted, external-secure, or dual mode checks; opaque
// high-entropy tokens and API keys; prefix-wildcard permission strings;
// lazy expiry purge. Audit events are published on the gateway's
// domain.EventBus (a cskr/pubsub-shaped bus), generalized from
// system-metric topics to auth lifecycle topics.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/mcp-gateway/gateway/daemon/domain"
	"github.com/mcp-gateway/gateway/daemon/gwerrors"
)

// Mode selects how Authenticate validates a request.
type Mode string

const (
	ModeLocalTrusted   Mode = "local-trusted"
	ModeExternalSecure Mode = "external-secure"
	ModeDual           Mode = "dual"
)

// Audit topics published on the event bus.
const (
	TopicTokenGenerated EventBus = "tokenGenerated"
	TopicTokenRevoked   EventBus = "tokenRevoked"
	TopicAPIKeyCreated  EventBus = "apiKeyCreated"
	TopicAPIKeyRevoked  EventBus = "apiKeyRevoked"
)

// EventBus is a topic name published on the shared domain.EventBus; kept
// as a distinct type so callers can't accidentally pass an arbitrary
// string where a recognized audit topic is expected.
type EventBus = string

// Principal identifies who a validated credential belongs to and what
// they may do.
type Principal struct {
	Subject     string
	Permissions []string
}

// HasPermission reports whether perm is granted: either an exact match, or
// one of the principal's permissions ends in "*" and perm shares that
// prefix.
func (p Principal) HasPermission(perm string) bool {
	for _, granted := range p.Permissions {
		if granted == perm {
			return true
		}
		if strings.HasSuffix(granted, "*") && strings.HasPrefix(perm, strings.TrimSuffix(granted, "*")) {
			return true
		}
	}
	return false
}

type credential struct {
	value       string
	principal   Principal
	expiresAt   time.Time // zero = never expires
	isAPIKey    bool
}

// Authenticator validates bearer tokens and API keys, and decides
// local-trusted eligibility by peer address.
type Authenticator struct {
	mode Mode
	bus  *domain.EventBus

	mu          sync.Mutex
	credentials map[string]*credential // keyed by opaque value

	localPredicate func(addr net.Addr) bool
}

// New builds an Authenticator in the given mode. bus may be nil to disable
// audit publication (tests, or a gateway instance with no subscribers).
func New(mode Mode, bus *domain.EventBus) *Authenticator {
	return &Authenticator{
		mode:           mode,
		bus:            bus,
		credentials:    make(map[string]*credential),
		localPredicate: isLoopbackOrPrivate,
	}
}

func isLoopbackOrPrivate(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}

func newOpaqueValue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", gwerrors.Wrap(gwerrors.KindServerError, err, "generating credential")
	}
	return hex.EncodeToString(b), nil
}

func (a *Authenticator) publish(topic EventBus, payload any) {
	if a.bus != nil {
		a.bus.Pub(payload, topic)
	}
}

// CreateToken mints a bearer token for subject with perms, expiring after
// ttl (0 = never).
func (a *Authenticator) CreateToken(subject string, perms []string, ttl time.Duration) (string, error) {
	value, err := newOpaqueValue()
	if err != nil {
		return "", err
	}
	cred := &credential{value: value, principal: Principal{Subject: subject, Permissions: perms}}
	if ttl > 0 {
		cred.expiresAt = time.Now().Add(ttl)
	}

	a.mu.Lock()
	a.credentials[value] = cred
	a.mu.Unlock()

	a.publish(TopicTokenGenerated, subject)
	return value, nil
}

// RevokeToken removes a token by value.
func (a *Authenticator) RevokeToken(value string) {
	a.mu.Lock()
	delete(a.credentials, value)
	a.mu.Unlock()
	a.publish(TopicTokenRevoked, value)
}

// CreateAPIKey mints a non-expiring API key for subject with perms.
func (a *Authenticator) CreateAPIKey(subject string, perms []string) (string, error) {
	value, err := newOpaqueValue()
	if err != nil {
		return "", err
	}
	cred := &credential{value: value, principal: Principal{Subject: subject, Permissions: perms}, isAPIKey: true}

	a.mu.Lock()
	a.credentials[value] = cred
	a.mu.Unlock()

	a.publish(TopicAPIKeyCreated, subject)
	return value, nil
}

// RevokeAPIKey removes an API key by value.
func (a *Authenticator) RevokeAPIKey(value string) {
	a.mu.Lock()
	delete(a.credentials, value)
	a.mu.Unlock()
	a.publish(TopicAPIKeyRevoked, value)
}

// List returns subjects of all live (non-expired) credentials, purging
// expired ones as a side effect.
func (a *Authenticator) List() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	out := make([]string, 0, len(a.credentials))
	for value, c := range a.credentials {
		if !c.expiresAt.IsZero() && now.After(c.expiresAt) {
			delete(a.credentials, value)
			continue
		}
		out = append(out, c.principal.Subject)
	}
	return out
}

// validate looks up value, lazily purging it if expired
// "Expired tokens are lazy-purged on validation").
func (a *Authenticator) validate(value string) (Principal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.credentials[value]
	if !ok {
		return Principal{}, false
	}
	if !c.expiresAt.IsZero() && time.Now().After(c.expiresAt) {
		delete(a.credentials, value)
		return Principal{}, false
	}
	return c.principal, true
}

// Authenticate validates a request per the configured mode: local-trusted
// accepts any request whose peerAddr matches the local predicate;
// external-secure requires a bearer token or API key; dual tries
// local-trusted first, then falls back to external-secure.
func (a *Authenticator) Authenticate(peerAddr net.Addr, credentialValue string) (Principal, error) {
	switch a.mode {
	case ModeLocalTrusted:
		if peerAddr != nil && a.localPredicate(peerAddr) {
			return Principal{Subject: "local"}, nil
		}
		return Principal{}, gwerrors.New(gwerrors.KindAuthError, "peer %v is not local-trusted", peerAddr)

	case ModeExternalSecure:
		return a.authenticateCredential(credentialValue)

	case ModeDual:
		if peerAddr != nil && a.localPredicate(peerAddr) {
			return Principal{Subject: "local"}, nil
		}
		return a.authenticateCredential(credentialValue)

	default:
		return Principal{}, gwerrors.New(gwerrors.KindAuthError, "unknown auth mode %q", a.mode)
	}
}

func (a *Authenticator) authenticateCredential(value string) (Principal, error) {
	if value == "" {
		return Principal{}, gwerrors.New(gwerrors.KindAuthError, "no bearer token or API key supplied")
	}
	p, ok := a.validate(value)
	if !ok {
		return Principal{}, gwerrors.New(gwerrors.KindAuthError, "invalid or expired credential")
	}
	return p, nil
}
