// Package config reads the TOML settings file of the pkgqueue command:
//
//	repositories = ["main", "extra"]
//	system_packages = ["sys-apps/baselayout", "sys-libs/glibc"]
//
//	[mask_reasons]
//	1 = "user package.mask"
//	2 = "repository mask"
//
//	[resolver]
//	or_strategy = "sat"
//	relaxed = false
//	deep = false
//	build_deps = false
package config

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/rhansen/pkgqueue"
)

type Resolver struct {
	OrStrategy string `toml:"or_strategy"`
	Relaxed    bool   `toml:"relaxed"`
	Deep       bool   `toml:"deep"`
	BuildDeps  bool   `toml:"build_deps"`
}

type Config struct {
	Repositories   []string          `toml:"repositories"`
	SystemPackages []string          `toml:"system_packages"`
	MaskReasons    map[string]string `toml:"mask_reasons"`
	Resolver       Resolver          `toml:"resolver"`
}

// Decode parses a settings document.  Unknown keys are logged and otherwise ignored.
func Decode(data string) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	warnUndecoded(md)
	return &cfg, nil
}

func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	warnUndecoded(md)
	return &cfg, nil
}

func warnUndecoded(md toml.MetaData) {
	for _, k := range md.Undecoded() {
		slog.Warn("unknown settings key", "key", k.String())
	}
}

// Settings converts the configuration into resolver settings.
func (c *Config) Settings() (pkgqueue.Settings, error) {
	s := pkgqueue.Settings{
		Repositories:   c.Repositories,
		SystemPackages: c.SystemPackages,
		MaskReasons:    map[int]string{},
	}
	for k, v := range c.MaskReasons {
		id, err := strconv.Atoi(k)
		if err != nil {
			return pkgqueue.Settings{}, fmt.Errorf("invalid mask reason id %q: %w", k, err)
		}
		s.MaskReasons[id] = v
	}
	return s, nil
}

// GraphOptions returns the resolver defaults.
func (c *Config) GraphOptions() (pkgqueue.GraphOptions, error) {
	strategy, err := pkgqueue.ParseOrStrategy(c.Resolver.OrStrategy)
	if err != nil {
		return pkgqueue.GraphOptions{}, err
	}
	return pkgqueue.GraphOptions{
		Relaxed:    c.Resolver.Relaxed,
		Deep:       c.Resolver.Deep,
		BuildDeps:  c.Resolver.BuildDeps,
		OrStrategy: strategy,
	}, nil
}
