package registry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/mcp-gateway/gateway/daemon/catalog"
)

// ImportINI loads service templates from a legacy INI file and registers
// each one, one section per template (plus an optional "<name>.env"
// section for environment variables), the same shape operators already use
// for other INI-driven config on this host. Modeled after the teacher's own
// lib.ParseINIFile: ini.Load once, then walk sections by hand rather than
// unmarshalling into a struct, since templates vary in which fields are set.
func (r *Registry) ImportINI(path string) (int, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return 0, fmt.Errorf("importing templates from %s: %w", path, err)
	}

	imported := 0
	for _, sec := range cfg.Sections() {
		name := sec.Name()
		if name == ini.DefaultSection || strings.HasSuffix(name, ".env") {
			continue
		}

		tmpl := catalog.ServiceTemplate{
			Name:      name,
			Transport: catalog.TransportKind(sec.Key("transport").MustString(string(catalog.TransportStdio))),
			Command:   sec.Key("command").String(),
			WorkDir:   sec.Key("workdir").String(),
			URL:       sec.Key("url").String(),
			Trust:     catalog.TrustLevel(sec.Key("trust").MustString(string(catalog.TrustUntrusted))),
		}
		if args := sec.Key("args").String(); args != "" {
			tmpl.Args = strings.Split(args, ",")
		}
		if secs, err := strconv.Atoi(sec.Key("requesttimeoutseconds").String()); err == nil && secs > 0 {
			tmpl.RequestTimeout = time.Duration(secs) * time.Second
		}
		tmpl.Security.RequireContainer = sec.Key("security.requirecontainer").MustBool(false)
		tmpl.Security.AllowShell = sec.Key("security.allowshell").MustBool(false)

		if image := sec.Key("container.image").String(); image != "" {
			tmpl.Container = &catalog.ContainerSpec{
				Image:   image,
				Runtime: sec.Key("container.runtime").String(),
				Network: sec.Key("container.network").String(),
			}
		}

		if envSec, err := cfg.GetSection(name + ".env"); err == nil {
			tmpl.Env = make(map[string]string, len(envSec.Keys()))
			for _, k := range envSec.Keys() {
				tmpl.Env[k.Name()] = k.String()
			}
		}

		if err := r.Register(tmpl); err != nil {
			return imported, fmt.Errorf("importing template %q: %w", name, err)
		}
		imported++
	}
	return imported, nil
}

// ExportINI writes every registered template to path in the same shape
// ImportINI reads, for operators migrating templates between gateway hosts
// or checking them into version control alongside other INI-based config.
func (r *Registry) ExportINI(path string) error {
	cfg := ini.Empty()

	for _, tmpl := range r.List() {
		sec, err := cfg.NewSection(tmpl.Name)
		if err != nil {
			return fmt.Errorf("exporting template %q: %w", tmpl.Name, err)
		}
		sec.Key("transport").SetValue(string(tmpl.Transport))
		if tmpl.Command != "" {
			sec.Key("command").SetValue(tmpl.Command)
		}
		if len(tmpl.Args) > 0 {
			sec.Key("args").SetValue(strings.Join(tmpl.Args, ","))
		}
		if tmpl.WorkDir != "" {
			sec.Key("workdir").SetValue(tmpl.WorkDir)
		}
		if tmpl.URL != "" {
			sec.Key("url").SetValue(tmpl.URL)
		}
		if tmpl.Trust != "" {
			sec.Key("trust").SetValue(string(tmpl.Trust))
		}
		if tmpl.RequestTimeout > 0 {
			sec.Key("requesttimeoutseconds").SetValue(strconv.Itoa(int(tmpl.RequestTimeout / time.Second)))
		}
		sec.Key("security.requirecontainer").SetValue(strconv.FormatBool(tmpl.Security.RequireContainer))
		sec.Key("security.allowshell").SetValue(strconv.FormatBool(tmpl.Security.AllowShell))

		if tmpl.Container != nil {
			sec.Key("container.image").SetValue(tmpl.Container.Image)
			if tmpl.Container.Runtime != "" {
				sec.Key("container.runtime").SetValue(tmpl.Container.Runtime)
			}
			if tmpl.Container.Network != "" {
				sec.Key("container.network").SetValue(tmpl.Container.Network)
			}
		}

		if len(tmpl.Env) > 0 {
			envSec, err := cfg.NewSection(tmpl.Name + ".env")
			if err != nil {
				return fmt.Errorf("exporting template %q env: %w", tmpl.Name, err)
			}
			for k, v := range tmpl.Env {
				envSec.Key(k).SetValue(v)
			}
		}
	}

	if err := cfg.SaveTo(path); err != nil {
		return fmt.Errorf("saving templates to %s: %w", path, err)
	}
	return nil
}
