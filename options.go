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

package jsbridge

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/redpanda-data/common-go/jsbridge/cache"
	"github.com/redpanda-data/common-go/jsbridge/registry"
)

type engineCfg struct {
	modules          []*registry.Module
	invokables       []*registry.Invokables
	cache            cache.Cache
	timeout          time.Duration
	closeGrace       time.Duration
	logger           logr.Logger
	registerer       prometheus.Registerer
	metricsNamespace string
	constLabels      map[string]string
}

// Option configures an [Engine].
type Option func(*engineCfg)

// WithModules registers host modules callable from sandboxed code.
func WithModules(modules ...*registry.Module) Option {
	return func(c *engineCfg) { c.modules = append(c.modules, modules...) }
}

// WithInvokables registers guest functions the host can invoke.
func WithInvokables(invokables ...*registry.Invokables) Option {
	return func(c *engineCfg) { c.invokables = append(c.invokables, invokables...) }
}

// WithCache sets the bytecode cache. A cache passed here is shared, not owned:
// closing the engine leaves its entries in place.
//
// Default: a private [cache.Memory]
func WithCache(c cache.Cache) Option {
	return func(cfg *engineCfg) { cfg.cache = c }
}

// WithTimeout bounds every execution. An execution that exceeds it fails with
// a [*TimeoutError] and poisons the engine.
//
// Default: no bound
func WithTimeout(d time.Duration) Option {
	return func(c *engineCfg) { c.timeout = d }
}

// WithCloseGrace sets how long Close waits for a running execution.
//
// Default: 5s
func WithCloseGrace(d time.Duration) Option {
	return func(c *engineCfg) { c.closeGrace = d }
}

// WithLogger sets the logger. Host functions find it in their context.
//
// Default: logr.Discard()
func WithLogger(l logr.Logger) Option {
	return func(c *engineCfg) { c.logger = l }
}

// WithRegisterer registers the engine metrics with reg.
//
// Default: metrics are not registered
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *engineCfg) { c.registerer = reg }
}

// WithMetricsNamespace sets the namespace of the engine metrics.
func WithMetricsNamespace(ns string) Option {
	return func(c *engineCfg) { c.metricsNamespace = ns }
}

// WithConstLabels attaches static labels to the engine metrics.
func WithConstLabels(labels map[string]string) Option {
	return func(c *engineCfg) { c.constLabels = labels }
}
