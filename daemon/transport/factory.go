package transport

import (
	"github.com/mcp-gateway/gateway/daemon/gwerrors"
)

// FactoryConfig is the resolved, policy-applied configuration a supervisor
// passes to NewAdapter. Exactly one of Stdio/HTTP/Container is read,
// selected by Kind. Kind is computed by the sandbox policy pass, which runs
// before adapter creation — if policy forces container quarantine, Kind is
// KindContainer even when the template requested stdio 
// "Factory rule").
type FactoryConfig struct {
	Kind      Kind
	Stdio     StdioConfig
	HTTP      HTTPConfig
	Container ContainerConfig
}

// NewAdapter builds the concrete Adapter for cfg.Kind.
func NewAdapter(cfg FactoryConfig) (Adapter, error) {
	switch cfg.Kind {
	case KindStdio:
		return NewStdioAdapter(cfg.Stdio), nil
	case KindHTTP:
		return NewHTTPAdapter(cfg.HTTP)
	case KindStreamableHTTP:
		return NewStreamableHTTPAdapter(cfg.HTTP)
	case KindContainer:
		return NewContainerAdapter(cfg.Container)
	default:
		return nil, gwerrors.New(gwerrors.KindConnectionFailed, "unknown transport kind %q", cfg.Kind)
	}
}
