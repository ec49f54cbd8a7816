package domain

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// DefaultConfigPath is the standard location for the gateway's config file.
const DefaultConfigPath = "/etc/mcp-gateway/config.yml"

// FileConfig represents the YAML configuration file structure. Values set
// in the config file serve as defaults that can be overridden by CLI flags
// and environment variables.
type FileConfig struct {
	Port     *int    `yaml:"port,omitempty"`
	LogLevel *string `yaml:"log_level,omitempty"`
	LogsDir  *string `yaml:"logs_dir,omitempty"`
	Debug    *bool   `yaml:"debug,omitempty"`

	CORSOrigin *string `yaml:"cors_origin,omitempty"`

	SandboxPolicy    *FileConfigSandbox    `yaml:"sandboxPolicy,omitempty"`
	ServiceTemplates []FileConfigTemplate  `yaml:"serviceTemplates,omitempty"`
	Channels         []FileConfigChannel   `yaml:"channels,omitempty"`
	Auth             *FileConfigAuth       `yaml:"auth,omitempty"`
	MQTT             *FileConfigMQTT       `yaml:"mqtt,omitempty"`
}

// FileConfigSandbox overrides the gateway-wide sandbox policy defaults.
type FileConfigSandbox struct {
	Profile          *string  `yaml:"profile,omitempty"` // "strict" | "permissive"
	DefaultImage     *string  `yaml:"defaultImage,omitempty"`
	AllowedHostRoots []string `yaml:"allowedHostRoots,omitempty"`
}

// FileConfigTemplate seeds a service template at boot, in the same shape
// as catalog.ServiceTemplate (kept separate so the YAML surface can evolve
// independently of the in-memory struct's json tags).
type FileConfigTemplate struct {
	Name           string            `yaml:"name"`
	Transport      string            `yaml:"transport"`
	Command        string            `yaml:"command,omitempty"`
	Args           []string          `yaml:"args,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	WorkDir        string            `yaml:"workDir,omitempty"`
	URL            string            `yaml:"url,omitempty"`
	RequestTimeout string            `yaml:"requestTimeout,omitempty"`
}

// FileConfigChannel seeds an AI provider channel at boot.
type FileConfigChannel struct {
	ID       string  `yaml:"id"`
	Provider string  `yaml:"provider"`
	Model    string  `yaml:"model"`
	Keys     string  `yaml:"keys"` // newline/comma-separated, split by ai.ParseKeys
	Weight   int     `yaml:"weight,omitempty"`
	Enabled  bool    `yaml:"enabled"`
	Rotation string  `yaml:"rotation,omitempty"`
	Cost     float64 `yaml:"cost,omitempty"`
}

// FileConfigAuth configures the authenticator's mode and any bootstrap
// tokens to mint at startup.
type FileConfigAuth struct {
	Mode            string   `yaml:"mode,omitempty"` // local-trusted | external-secure | dual
	TrustedCIDRs    []string `yaml:"trustedCIDRs,omitempty"`
	BootstrapTokens []string `yaml:"bootstrapTokens,omitempty"` // subjects to mint non-expiring API keys for
}

// FileConfigMQTT configures the optional lifecycle-event MQTT notifier.
type FileConfigMQTT struct {
	Enabled     *bool   `yaml:"enabled,omitempty"`
	Broker      *string `yaml:"broker,omitempty"`
	ClientID    *string `yaml:"client_id,omitempty"`
	TopicPrefix *string `yaml:"topic_prefix,omitempty"`
}

// LoadConfigFile reads and parses a YAML config file.
// Returns nil without error if the file does not exist.
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is a trusted config file path, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return &cfg, nil
}
