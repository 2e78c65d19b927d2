// Copyright (C) 2019-2025 Algorand, Inc.
// This file is part of go-algorand
//
// go-algorand is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// go-algorand is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with go-algorand.  If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"fmt"

	"github.com/algorand/go-deadlock"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry represents a single set of metrics registry
type Registry struct {
	reg *prometheus.Registry

	mu         deadlock.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

var defaultRegistry = MakeRegistry()

// DefaultRegistry returns the process-wide registry
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// MakeRegistry creates a new, empty, registry
func MakeRegistry() *Registry {
	return &Registry{
		reg:        prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// Prometheus exposes the underlying registry, e.g. for an HTTP handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

// Counter returns the counter vector for the metric, registering it on first use.
// Every caller for the same metric must pass the same label names.
func (r *Registry) Counter(metric MetricName, labels ...string) *prometheus.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[metric.Name]; ok {
		return c
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metric.Name,
		Help: metric.Description,
	}, labels)
	r.reg.MustRegister(c)
	r.counters[metric.Name] = c
	return c
}

// Gauge returns the gauge for the metric, registering it on first use.
func (r *Registry) Gauge(metric MetricName) prometheus.Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[metric.Name]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: metric.Name,
		Help: metric.Description,
	})
	r.reg.MustRegister(g)
	r.gauges[metric.Name] = g
	return g
}

// Histogram returns the histogram for the metric, registering it on first use.
func (r *Registry) Histogram(metric MetricName) prometheus.Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[metric.Name]; ok {
		return h
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    metric.Name,
		Help:    metric.Description,
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	r.reg.MustRegister(h)
	r.histograms[metric.Name] = h
	return h
}

// CounterValue reads the current value of a counter for the given label values.
func (r *Registry) CounterValue(metric MetricName, labelValues ...string) (float64, error) {
	r.mu.Lock()
	c, ok := r.counters[metric.Name]
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("counter %s not registered", metric.Name)
	}
	counter, err := c.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return 0, err
	}
	var m dto.Metric
	if err := counter.Write(&m); err != nil {
		return 0, err
	}
	return m.GetCounter().GetValue(), nil
}

// Gather collects every registered metric family.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	return r.reg.Gather()
}
