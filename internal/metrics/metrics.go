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

// Package metrics exposes engine activity as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects engine activity. The zero registry leaves collectors
// unregistered, which keeps them usable but invisible.
type Metrics struct {
	registry         prometheus.Registerer
	constLabels      prometheus.Labels
	metricsNamespace string

	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	hostCalls       *prometheus.CounterVec
	timeouts        prometheus.Counter
	compileDuration prometheus.Histogram
	execDuration    *prometheus.HistogramVec
}

// Option configures [New].
type Option func(*Metrics)

// WithRegistry sets the registry the collectors are registered with.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(m *Metrics) {
		m.registry = registry
	}
}

// WithConstLabels can be used to attach static labels to the exported metrics.
func WithConstLabels(labels map[string]string) Option {
	return func(m *Metrics) {
		m.constLabels = labels
	}
}

// WithMetricsNamespace can be used to set the metrics namespace for all exported metrics.
func WithMetricsNamespace(metricsNamespace string) Option {
	return func(m *Metrics) {
		m.metricsNamespace = metricsNamespace
	}
}

// New creates the engine collectors. Collectors already registered by another
// engine with the same registry, namespace and labels are shared.
func New(opts ...Option) (*Metrics, error) {
	m := &Metrics{}
	for _, o := range opts {
		o(m)
	}

	var err error
	if m.cacheHits, err = register(m.registry, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   m.metricsNamespace,
		Name:        "bytecode_cache_hits_total",
		Help:        "Number of compilations served from the bytecode cache",
		ConstLabels: m.constLabels,
	})); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = register(m.registry, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   m.metricsNamespace,
		Name:        "bytecode_cache_misses_total",
		Help:        "Number of compilations that had to run in the sandbox",
		ConstLabels: m.constLabels,
	})); err != nil {
		return nil, err
	}
	if m.hostCalls, err = register(m.registry, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.metricsNamespace,
		Name:        "host_calls_total",
		Help:        "Number of host function calls made by sandboxed code",
		ConstLabels: m.constLabels,
	}, []string{"module", "function", "status"})); err != nil {
		return nil, err
	}
	if m.timeouts, err = register(m.registry, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   m.metricsNamespace,
		Name:        "execution_timeouts_total",
		Help:        "Number of executions abandoned after exceeding their time bound",
		ConstLabels: m.constLabels,
	})); err != nil {
		return nil, err
	}
	if m.compileDuration, err = register(m.registry, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.metricsNamespace,
		Name:        "compile_duration_seconds",
		Help:        "Time (in seconds) spent compiling source in the sandbox",
		ConstLabels: m.constLabels,
		Buckets:     prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}
	if m.execDuration, err = register(m.registry, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.metricsNamespace,
		Name:        "exec_duration_seconds",
		Help:        "Time (in seconds) spent executing bytecode in the sandbox",
		ConstLabels: m.constLabels,
		Buckets:     prometheus.DefBuckets,
	}, []string{"status"})); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if reg == nil {
		return c, nil
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "register collector")
	}
	return c, nil
}

// CacheHit counts a compilation served from the cache.
func (m *Metrics) CacheHit() { m.cacheHits.Inc() }

// CacheMiss counts a compilation that ran in the sandbox.
func (m *Metrics) CacheMiss() { m.cacheMisses.Inc() }

// Timeout counts an abandoned execution.
func (m *Metrics) Timeout() { m.timeouts.Inc() }

// HostCall counts a host function call and its outcome.
func (m *Metrics) HostCall(module, function, status string) {
	m.hostCalls.WithLabelValues(module, function, status).Inc()
}

// ObserveCompile records the duration of a sandbox compilation.
func (m *Metrics) ObserveCompile(d time.Duration) {
	m.compileDuration.Observe(d.Seconds())
}

// ObserveExec records the duration and outcome of an execution.
func (m *Metrics) ObserveExec(d time.Duration, status string) {
	m.execDuration.WithLabelValues(status).Observe(d.Seconds())
}
