package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"traxis/internal/logger"
)

// Snapshot is an immutable, versioned view of the configuration. Every
// decision reads exactly one snapshot so its inputs stay reproducible.
type Snapshot struct {
	Version int64
	Config  Config
}

// Provider serves config snapshots and hot-reloads them when the file
// changes. A reload that fails validation is dropped and the previous
// snapshot stays active.
type Provider struct {
	current atomic.Pointer[Snapshot]
	version atomic.Int64

	mu        sync.Mutex
	listeners []func(Snapshot)
}

// NewProvider wraps an already loaded config as snapshot version 1.
func NewProvider(cfg *Config) *Provider {
	p := &Provider{}
	p.version.Store(1)
	p.current.Store(&Snapshot{Version: 1, Config: *cfg})
	return p
}

// Current returns the active snapshot.
func (p *Provider) Current() Snapshot {
	return *p.current.Load()
}

// OnReload registers a callback invoked with each accepted snapshot.
func (p *Provider) OnReload(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Watch starts watching path for changes. Runs until the process exits;
// viper handles the fsnotify plumbing.
func (p *Provider) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config watch: initial read failed: %w", err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := v.ReadInConfig(); err != nil {
			logger.Warnf("config reload: re-read failed (%s), keeping version %d: %v", e.Name, p.version.Load(), err)
			return
		}
		p.apply(v)
	})
	v.WatchConfig()
	return nil
}

func (p *Provider) apply(v *viper.Viper) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		logger.Warnf("config reload: parse failed, keeping version %d: %v", p.version.Load(), err)
		return
	}
	cfg.applyDefaults()
	if err := Validate(&cfg); err != nil {
		logger.Warnf("config reload: rejected, keeping version %d: %v", p.version.Load(), err)
		return
	}
	version := p.version.Add(1)
	snap := Snapshot{Version: version, Config: cfg}
	p.current.Store(&snap)
	logger.Infof("config reload: snapshot version %d active", version)

	p.mu.Lock()
	listeners := make([]func(Snapshot), len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
