// Package main is the entry point for the MCP gateway.
// It exposes downstream MCP services behind a single sandboxed, routed,
// auditable gateway surface — both as a long-running admin-facing daemon
// and as an MCP server over stdin/stdout for local AI clients.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mcp-gateway/gateway/daemon/cmd"
	"github.com/mcp-gateway/gateway/daemon/domain"
	"github.com/mcp-gateway/gateway/daemon/logger"
)

// Version is the application version, set at build time via ldflags.
var Version = "dev"

var cli struct {
	LogsDir  string `default:"/var/log/mcp-gateway" help:"directory to store logs"`
	Port     int    `default:"8420" help:"admin HTTP/WebSocket facade port"`
	Debug    bool   `default:"false" help:"enable debug mode with stdout logging"`
	LogLevel string `default:"info" help:"log level: debug, info, warning, error"`

	CORSOrigin string `default:"*" env:"CORS_ORIGIN" help:"Access-Control-Allow-Origin value"`

	SandboxProfile      string   `default:"default" env:"SANDBOX_PROFILE" help:"sandbox profile: default, locked-down"`
	SandboxDefaultImage string   `default:"" env:"SANDBOX_DEFAULT_IMAGE" help:"fallback container image for quarantined templates that declare none"`
	SandboxAllowedRoots []string `env:"SANDBOX_ALLOWED_ROOTS" help:"comma-separated host paths allowed as container bind-mount roots"`

	AuthMode string `default:"local-trusted" env:"AUTH_MODE" help:"authentication mode: local-trusted, external-secure, dual"`

	MQTTEnabled     bool   `default:"false" env:"MQTT_ENABLED" help:"publish gateway lifecycle events to MQTT"`
	MQTTBroker      string `default:"" env:"MQTT_BROKER" help:"MQTT broker URL, e.g. tcp://localhost:1883"`
	MQTTUsername    string `default:"" env:"MQTT_USERNAME" help:"MQTT username"`
	MQTTPassword    string `default:"" env:"MQTT_PASSWORD" help:"MQTT password"`
	MQTTClientID    string `default:"mcp-gateway" env:"MQTT_CLIENT_ID" help:"MQTT client ID"`
	MQTTTopicPrefix string `default:"mcp-gateway" env:"MQTT_TOPIC_PREFIX" help:"MQTT topic prefix"`
	MQTTUseTLS      bool   `default:"false" env:"MQTT_USE_TLS" help:"use TLS for the MQTT connection"`

	Serve    cmd.Serve    `cmd:"" default:"1" help:"run the gateway: admin facade, supervisor, router, AI channels"`
	MCPStdio cmd.MCPStdio `cmd:"mcp-stdio" help:"run an MCP server over stdin/stdout, fronting every registered template"`
}

// cleanupOldLogs removes old rotated log files from previous versions.
// Needed because lumberjack's MaxBackups only prevents new backups; it
// doesn't clean up existing ones left behind by an earlier setting.
func cleanupOldLogs(logsDir, baseName string) {
	pattern := filepath.Join(logsDir, baseName+"-*.log")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, f := range files {
		_ = os.Remove(f)
	}
}

func main() {
	kctx := kong.Parse(&cli)

	// Detect STDIO mode — stdout is reserved for MCP JSON-RPC.
	isStdio := kctx.Command() == "mcp-stdio"

	fileCfg, err := domain.LoadConfigFile(domain.DefaultConfigPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "WARNING: Failed to load config file: %v\n", err)
	}
	applyFileConfig(fileCfg)

	switch strings.ToLower(cli.LogLevel) {
	case "debug":
		logger.SetLevel(logger.LevelDebug)
	case "info":
		logger.SetLevel(logger.LevelInfo)
	case "warning", "warn":
		logger.SetLevel(logger.LevelWarning)
	case "error":
		logger.SetLevel(logger.LevelError)
	default:
		logger.SetLevel(logger.LevelInfo)
	}

	if isStdio {
		// STDIO mode: stdout is reserved for MCP JSON-RPC. Log to file +
		// stderr so MCP communication is never corrupted by a log line.
		cleanupOldLogs(cli.LogsDir, "mcp-gateway")
		fileLogger := &lumberjack.Logger{
			Filename:   filepath.Join(cli.LogsDir, "mcp-gateway.log"),
			MaxSize:    5,
			MaxBackups: 1,
			MaxAge:     1,
			Compress:   false,
		}
		log.SetOutput(io.MultiWriter(fileLogger, os.Stderr))
	} else if cli.Debug {
		log.SetOutput(os.Stdout)
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		logger.SetLevel(logger.LevelDebug)
		log.Println("Debug mode enabled - logging to stdout")
	} else {
		cleanupOldLogs(cli.LogsDir, "mcp-gateway")
		fileLogger := &lumberjack.Logger{
			Filename:   filepath.Join(cli.LogsDir, "mcp-gateway.log"),
			MaxSize:    5,
			MaxBackups: 1,
			MaxAge:     1,
			Compress:   false,
		}
		log.SetOutput(io.MultiWriter(fileLogger, os.Stdout))
	}

	log.Printf("Starting mcp-gateway v%s (log level: %s)", Version, cli.LogLevel)

	appCtx := domain.NewContext(domain.Config{
		Version:             Version,
		Port:                cli.Port,
		CORSOrigin:          cli.CORSOrigin,
		LogLevel:            cli.LogLevel,
		LogsDir:             cli.LogsDir,
		Debug:               cli.Debug,
		SandboxProfile:      cli.SandboxProfile,
		SandboxDefaultImage: cli.SandboxDefaultImage,
		SandboxAllowedRoots: cli.SandboxAllowedRoots,
		AuthMode:            cli.AuthMode,
		MQTT: domain.MQTTConfig{
			Enabled:     cli.MQTTEnabled,
			Broker:      cli.MQTTBroker,
			Username:    cli.MQTTUsername,
			Password:    cli.MQTTPassword,
			ClientID:    cli.MQTTClientID,
			TopicPrefix: cli.MQTTTopicPrefix,
			UseTLS:      cli.MQTTUseTLS,
		},
	}, 1024, 1024)

	err = kctx.Run(appCtx)
	kctx.FatalIfErrorf(err)
}

// applyFileConfig merges config file values into the CLI struct. Only
// fields not explicitly set via CLI/env are overridden. Kong sets fields
// to their declared defaults before parsing, so file config values are
// applied after kong.Parse to fill in non-defaulted values: CLI flag > env
// var > config file > struct default.
func applyFileConfig(cfg *domain.FileConfig) {
	if cfg == nil {
		return
	}

	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}

	setInt(&cli.Port, cfg.Port)
	setStr(&cli.LogLevel, cfg.LogLevel)
	setStr(&cli.LogsDir, cfg.LogsDir)
	setBool(&cli.Debug, cfg.Debug)
	setStr(&cli.CORSOrigin, cfg.CORSOrigin)

	if sb := cfg.SandboxPolicy; sb != nil {
		setStr(&cli.SandboxProfile, sb.Profile)
		setStr(&cli.SandboxDefaultImage, sb.DefaultImage)
		if len(sb.AllowedHostRoots) > 0 {
			cli.SandboxAllowedRoots = sb.AllowedHostRoots
		}
	}

	if a := cfg.Auth; a != nil {
		setStr(&cli.AuthMode, a.Mode)
	}

	if m := cfg.MQTT; m != nil {
		setBool(&cli.MQTTEnabled, m.Enabled)
		setStr(&cli.MQTTBroker, m.Broker)
		setStr(&cli.MQTTClientID, m.ClientID)
		setStr(&cli.MQTTTopicPrefix, m.TopicPrefix)
	}
}
