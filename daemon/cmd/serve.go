package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/mcp-gateway/gateway/daemon/admin"
	"github.com/mcp-gateway/gateway/daemon/ai"
	"github.com/mcp-gateway/gateway/daemon/auth"
	"github.com/mcp-gateway/gateway/daemon/catalog"
	"github.com/mcp-gateway/gateway/daemon/domain"
	"github.com/mcp-gateway/gateway/daemon/logger"
	"github.com/mcp-gateway/gateway/daemon/metrics"
	"github.com/mcp-gateway/gateway/daemon/notify"
	"github.com/mcp-gateway/gateway/daemon/registry"
	"github.com/mcp-gateway/gateway/daemon/router"
	"github.com/mcp-gateway/gateway/daemon/sandbox"
	"github.com/mcp-gateway/gateway/daemon/supervisor"
)

// Serve is the gateway's default, long-running subcommand: it wires every
// core package into one running process, serves the admin HTTP/WebSocket
// facade and the Prometheus metrics endpoint, watches the config file for
// hot-reloadable template changes, and blocks until an OS signal asks it
// to shut down.
type Serve struct{}

// Run builds the full component graph and serves until ctx's app context
// is canceled by a signal.
func (s *Serve) Run(appCtx *domain.Context) error {
	policy := buildPolicy(appCtx.Config)

	sv := supervisor.New(policy, uuid.NewString)
	reg := registry.New(sv)
	rt := router.New(reg, sv)
	aiMgr := ai.New()
	tracker := ai.NewTracker(0)
	aiClient := ai.NewClient(aiMgr, tracker, nil)
	_ = aiClient // held so future providers can be registered against it
	authn := auth.New(auth.Mode(appCtx.Config.AuthMode), appCtx.Bus)

	promRegistry := metrics.New()
	mqttNotifier := notify.New(appCtx.Config.MQTT)

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 10*time.Second)
	if err := mqttNotifier.Connect(bootCtx); err != nil {
		logger.Warning("serve: MQTT notifier did not connect: %v", err)
	}
	cancelBoot()
	defer mqttNotifier.Disconnect()

	rt.SetMetricsSink(metrics.RouterFanout{promRegistry})
	aiMgr.SetMetricsSink(metrics.ChannelFanout{promRegistry, mqttNotifier})

	bridge := NewBridge(appCtx)
	sv.OnEvent(func(ev supervisor.Event) {
		mqttNotifier.NotifyServiceEvent(ev)
		bridge.Forward("service-events", ev)
	})

	seedTemplates(reg, appCtx.Config)
	seedChannels(aiMgr, appCtx.Config)
	seedAuth(authn, appCtx.Config)

	adminSrv := admin.NewServer(reg, sv, rt, aiMgr, authn, appCtx.Bus)

	mux := http.NewServeMux()
	mux.Handle("/", adminSrv.Routes())
	mux.Handle("/metrics", promRegistry.Handler())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", appCtx.Config.Port),
		Handler: mux,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Success("serve: admin facade listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()

	stopWatch := watchConfigFile(reg)
	defer stopWatch()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("serve: received signal %v, shutting down", sig)
	case err := <-serveErrCh:
		logger.Error("serve: admin facade stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildPolicy(cfg domain.Config) sandbox.Policy {
	policy := sandbox.DefaultPolicy()
	if cfg.SandboxProfile != "" {
		policy.Profile = sandbox.Profile(cfg.SandboxProfile)
	}
	if len(cfg.SandboxAllowedRoots) > 0 {
		policy.Container.AllowedHostRoots = cfg.SandboxAllowedRoots
	}
	if cfg.SandboxDefaultImage != "" {
		policy.Container.DefaultImage = cfg.SandboxDefaultImage
	}
	return policy
}

func seedTemplates(reg *registry.Registry, cfg domain.Config) {
	fileCfg, err := domain.LoadConfigFile(domain.DefaultConfigPath)
	if err != nil || fileCfg == nil {
		return
	}
	for _, t := range fileCfg.ServiceTemplates {
		tmpl := catalog.ServiceTemplate{
			Name:      t.Name,
			Transport: catalog.TransportKind(t.Transport),
			Command:   t.Command,
			Args:      t.Args,
			Env:       t.Env,
			WorkDir:   t.WorkDir,
			URL:       t.URL,
		}
		if t.RequestTimeout != "" {
			if d, err := time.ParseDuration(t.RequestTimeout); err == nil {
				tmpl.RequestTimeout = d
			}
		}
		if err := reg.Register(tmpl); err != nil {
			logger.Warning("serve: skipping invalid seeded template %q: %v", t.Name, err)
		}
	}
}

func seedChannels(mgr *ai.Manager, cfg domain.Config) {
	fileCfg, err := domain.LoadConfigFile(domain.DefaultConfigPath)
	if err != nil || fileCfg == nil {
		return
	}
	for _, c := range fileCfg.Channels {
		mgr.Register(ai.Channel{
			ID:       c.ID,
			Provider: c.Provider,
			Model:    c.Model,
			Keys:     ai.ParseKeys(c.Keys),
			Weight:   c.Weight,
			Enabled:  c.Enabled,
			Rotation: ai.RotationPolicy(c.Rotation),
			Cost:     c.Cost,
		})
	}
}

func seedAuth(authn *auth.Authenticator, cfg domain.Config) {
	fileCfg, err := domain.LoadConfigFile(domain.DefaultConfigPath)
	if err != nil || fileCfg == nil || fileCfg.Auth == nil {
		return
	}
	for _, subject := range fileCfg.Auth.BootstrapTokens {
		key, err := authn.CreateAPIKey(subject, []string{"*"})
		if err != nil {
			logger.Warning("serve: failed to mint bootstrap API key for %q: %v", subject, err)
			continue
		}
		logger.Info("serve: minted bootstrap API key for %q", subject)
		_ = key
	}
}

// watchConfigFile watches the gateway's config file for writes and repairs
// the registry's running templates against the new revision. The watcher
// is best-effort: if it cannot be established (e.g. the config file does
// not yet exist) the gateway still runs with its initially seeded
// templates.
func watchConfigFile(reg *registry.Registry) func() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warning("serve: config watcher unavailable: %v", err)
		return func() {}
	}
	if err := watcher.Add(domain.DefaultConfigPath); err != nil {
		logger.Debug("serve: not watching config file: %v", err)
		_ = watcher.Close()
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				logger.Info("serve: config file changed, repairing templates")
				for name, err := range reg.Repair() {
					logger.Warning("serve: template %q failed repair: %v", name, err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warning("serve: config watcher error: %v", err)
			}
		}
	}()

	return func() {
		_ = watcher.Close()
		<-done
	}
}
