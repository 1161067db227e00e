// Copyright 2026 Redpanda Data, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads engine settings from YAML and turns them into a
// sandbox backend and engine options.
package config

import (
	"context"
	"os"
	"regexp"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/redpanda-data/common-go/jsbridge"
	"github.com/redpanda-data/common-go/jsbridge/cache"
	"github.com/redpanda-data/common-go/jsbridge/sandbox"
	"github.com/redpanda-data/common-go/jsbridge/sandbox/gojs"
	"github.com/redpanda-data/common-go/jsbridge/sandbox/wasm"
)

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Config selects a sandbox backend and tunes the engine running on it.
type Config struct {
	// Plugin is the path of a WebAssembly JavaScript plugin. When empty the
	// embedded interpreter is used.
	Plugin string `koanf:"plugin"`
	// HostModule is the import namespace the plugin expects the host call
	// primitive under.
	HostModule string        `koanf:"host_module"`
	Timeout    time.Duration `koanf:"timeout"`
	CloseGrace time.Duration `koanf:"close_grace"`
	// MaxMemory bounds sandbox memory, in bytes. Zero keeps the backend
	// default.
	MaxMemory uint32 `koanf:"max_memory"`
	// Realtime exposes the host clock to plugins instead of a deterministic
	// one.
	Realtime bool          `koanf:"realtime"`
	Cache    CacheConfig   `koanf:"cache"`
	Metrics  MetricsConfig `koanf:"metrics"`
}

// CacheConfig configures the bytecode cache.
type CacheConfig struct {
	// Size bounds the number of cached entries. Zero means unbounded.
	Size     int  `koanf:"size"`
	Disabled bool `koanf:"disabled"`
}

type MetricsConfig struct {
	Namespace   string            `koanf:"namespace"`
	ConstLabels map[string]string `koanf:"const_labels"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HostModule: sandbox.DefaultHostModule,
		CloseGrace: 5 * time.Second,
		Metrics:    MetricsConfig{Namespace: "jsbridge"},
	}
}

// LoadFromFile loads a Config from a YAML file on top of [Default].
func LoadFromFile(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Config{}, errors.Wrapf(err, "failed to load config file %s", path)
	}
	return unmarshal(k)
}

// LoadFromBytes loads a Config from YAML bytes on top of [Default].
func LoadFromBytes(data []byte) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return Config{}, errors.Wrap(err, "failed to load config data")
	}
	return unmarshal(k)
}

func unmarshal(k *koanf.Koanf) (Config, error) {
	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Timeout < 0 {
		errs = append(errs, errors.Newf("timeout must not be negative, got %s", c.Timeout))
	}
	if c.CloseGrace < 0 {
		errs = append(errs, errors.Newf("close_grace must not be negative, got %s", c.CloseGrace))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, errors.Newf("cache.size must not be negative, got %d", c.Cache.Size))
	}
	if !identifier.MatchString(c.HostModule) {
		errs = append(errs, errors.Newf("host_module %q is not an identifier", c.HostModule))
	}
	return errors.Join(errs...)
}

// Backend is a sandbox factory together with the resources shared by the
// sandboxes it creates.
type Backend struct {
	Factory sandbox.Factory
	close   func(context.Context) error
}

// Close releases the backend. Engines created from it must be closed first.
func (b *Backend) Close(ctx context.Context) error {
	if b.close == nil {
		return nil
	}
	return b.close(ctx)
}

// Backend builds the sandbox backend selected by Plugin.
func (c *Config) Backend(ctx context.Context) (*Backend, error) {
	if c.Plugin == "" {
		var opts []gojs.Opt
		if c.MaxMemory > 0 {
			opts = append(opts, gojs.WithMaxMemory(c.MaxMemory))
		}
		return &Backend{Factory: gojs.Factory(opts...)}, nil
	}

	bin, err := os.ReadFile(c.Plugin)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read plugin")
	}
	interp, err := wasm.NewInterpreter(ctx, bin, wasm.WithHostModule(c.HostModule))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load plugin %s", c.Plugin)
	}
	var opts []wasm.SandboxOpt
	if c.MaxMemory > 0 {
		opts = append(opts, wasm.WithMaxMemory(c.MaxMemory))
	}
	if c.Realtime {
		opts = append(opts, wasm.WithRealtime())
	}
	return &Backend{Factory: interp.Factory(opts...), close: interp.Close}, nil
}

// EngineOptions returns the engine options matching c.
func (c *Config) EngineOptions() ([]jsbridge.Option, error) {
	opts := []jsbridge.Option{
		jsbridge.WithTimeout(c.Timeout),
		jsbridge.WithCloseGrace(c.CloseGrace),
		jsbridge.WithMetricsNamespace(c.Metrics.Namespace),
	}
	if len(c.Metrics.ConstLabels) > 0 {
		opts = append(opts, jsbridge.WithConstLabels(c.Metrics.ConstLabels))
	}
	switch {
	case c.Cache.Disabled:
		opts = append(opts, jsbridge.WithCache(cache.Nop()))
	case c.Cache.Size > 0:
		lru, err := cache.NewLRU(c.Cache.Size)
		if err != nil {
			return nil, err
		}
		opts = append(opts, jsbridge.WithCache(lru))
	}
	return opts, nil
}

// WatchCallback is called when a watched file is reloaded. On error cfg is
// the zero value.
type WatchCallback func(cfg Config, err error)

// Unwatch stops watching.
type Unwatch func() error

// WatchFile loads path and calls callback every time it changes, including
// symlink swaps of mounted config maps.
func WatchFile(path string, callback WatchCallback) (Config, Unwatch, error) {
	fp := file.Provider(path)
	k := koanf.New(".")
	if err := k.Load(fp, yaml.Parser()); err != nil {
		return Config{}, nil, errors.Wrapf(err, "failed to load config file %s", path)
	}
	cfg, err := unmarshal(k)
	if err != nil {
		return Config{}, nil, err
	}

	// Watch arms the watcher before it returns.
	err = fp.Watch(func(_ any, err error) {
		if err != nil {
			callback(Config{}, errors.Wrap(err, "watcher error"))
			return
		}
		k := koanf.New(".")
		if err := k.Load(fp, yaml.Parser()); err != nil {
			callback(Config{}, errors.Wrapf(err, "failed to reload config file %s", path))
			return
		}
		callback(unmarshal(k))
	})
	if err != nil {
		return Config{}, nil, errors.Wrap(err, "failed to watch config for changes")
	}
	return cfg, fp.Unwatch, nil
}
