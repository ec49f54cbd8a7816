// Package domain provides core domain models shared by the gateway binary:
// runtime configuration, the application context threaded into command
// handlers, and the event bus every component publishes lifecycle events
// on.
package domain

// Config holds the application configuration settings resolved from CLI
// flags, environment variables, and the optional config file (in that
// precedence order, matching the teacher's kong + file-config layering).
type Config struct {
	Version    string
	Port       int
	CORSOrigin string
	LogLevel   string
	LogsDir    string
	Debug      bool

	SandboxProfile      string
	SandboxDefaultImage string
	SandboxAllowedRoots []string

	AuthMode         string
	AuthTrustedCIDRs []string

	MQTT MQTTConfig
}

// MQTTConfig configures the optional lifecycle-event notifier that mirrors
// service state transitions and AI channel cooldown/disable events onto an
// MQTT broker, repurposing the teacher's own MQTT client for gateway
// events instead of Unraid hardware metrics.
type MQTTConfig struct {
	Enabled     bool
	Broker      string
	Port        int
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
	UseTLS      bool
}
