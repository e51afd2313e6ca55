/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics exports the store's state as Prometheus metrics. The
// exporter is a store subscriber and never writes back.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carverauto/healthradar/pkg/models"
	"github.com/carverauto/healthradar/pkg/store"
)

const (
	namespace = "healthradar"

	labelService = "service"
	labelStatus  = "status"
	labelTier    = "tier"
)

// LatencyBuckets covers fast local health endpoints up to the daemon's 10s
// probe timeout.
var LatencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Exporter keeps Prometheus gauges in step with the store.
type Exporter struct {
	registry *prometheus.Registry

	up                *prometheus.GaugeVec
	ready             *prometheus.GaugeVec
	status            *prometheus.GaugeVec
	consecutiveErrors *prometheus.GaugeVec
	interval          *prometheus.GaugeVec
	probes            *prometheus.CounterVec
	probeFailures     *prometheus.CounterVec
	latency           *prometheus.HistogramVec

	overall      *prometheus.GaugeVec
	healthyCount prometheus.Gauge
	memoryMB     prometheus.Gauge
	cpuPercent   prometheus.Gauge
	systemReady  prometheus.Gauge
}

// NewExporter registers the health metrics on reg. A nil reg gets a fresh
// registry.
func NewExporter(reg *prometheus.Registry) *Exporter {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	e := &Exporter{
		registry: reg,
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "healthy",
			Help:      "Whether the last probe found the service fully healthy and ready (0/1)",
		}, []string{labelService}),
		ready: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "ready",
			Help:      "Readiness reported by the service (0/1)",
		}, []string{labelService}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "status",
			Help:      "Current status of the service, one series per status value (0/1)",
		}, []string{labelService, labelStatus}),
		consecutiveErrors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "consecutive_errors",
			Help:      "Consecutive failed probes",
		}, []string{labelService}),
		interval: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "polling_interval_seconds",
			Help:      "Current polling interval and the tier it was chosen from",
		}, []string{labelService, labelTier}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "total",
			Help:      "Probe results applied to the store",
		}, []string{labelService}),
		probeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "failures_total",
			Help:      "Probe results that counted as failures",
		}, []string{labelService}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Probe round trip time",
			Buckets:   LatencyBuckets,
		}, []string{labelService}),
		overall: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "health",
			Help:      "Overall health verdict, one series per verdict (0/1)",
		}, []string{labelStatus}),
		healthyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "healthy_services",
			Help:      "Number of fully healthy services",
		}),
		memoryMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_megabytes",
			Help:      "Memory reported by all services combined",
		}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "cpu_percent",
			Help:      "Average CPU over ready services that report it",
		}),
		systemReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "ready",
			Help:      "Whether every service is ready (0/1)",
		}),
	}

	reg.MustRegister(
		e.up,
		e.ready,
		e.status,
		e.consecutiveErrors,
		e.interval,
		e.probes,
		e.probeFailures,
		e.latency,
		e.overall,
		e.healthyCount,
		e.memoryMB,
		e.cpuPercent,
		e.systemReady,
	)

	return e
}

// Registry returns the registry the exporter writes to.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Attach seeds the gauges from st and keeps them current. The returned
// function detaches the exporter.
func (e *Exporter) Attach(st *store.Store) func() {
	e.observeSnapshot(st.Snapshot())

	return st.Subscribe(e.Observe)
}

// Observe applies one store change.
func (e *Exporter) Observe(c store.Change) {
	if c.Kind == store.ChangeResult {
		name := string(c.Service)

		e.probes.WithLabelValues(name).Inc()

		if c.Current.ConsecutiveErrors > 0 {
			e.probeFailures.WithLabelValues(name).Inc()
		}

		e.latency.WithLabelValues(name).Observe(float64(c.Current.LastLatency) / 1000)
	}

	e.observeSnapshot(c.Snapshot)
}

func (e *Exporter) observeSnapshot(snap models.Snapshot) {
	for name, svc := range snap.Services {
		e.observeService(string(name), svc)
	}

	c := snap.Consolidated

	for _, verdict := range []models.OverallHealth{models.HealthHealthy, models.HealthDegraded, models.HealthCritical} {
		e.overall.WithLabelValues(string(verdict)).Set(boolFloat(c.OverallHealth == verdict))
	}

	e.healthyCount.Set(float64(c.HealthyCount))
	e.memoryMB.Set(c.AggregateMemoryMB)
	e.cpuPercent.Set(c.AggregateCPUPercent)
	e.systemReady.Set(boolFloat(c.Ready))
}

func (e *Exporter) observeService(name string, svc models.ServiceSnapshot) {
	e.ready.WithLabelValues(name).Set(boolFloat(svc.Ready))
	e.up.WithLabelValues(name).Set(boolFloat(svc.Healthy))
	e.consecutiveErrors.WithLabelValues(name).Set(float64(svc.ConsecutiveErrors))

	e.status.DeletePartialMatch(prometheus.Labels{labelService: name})
	e.status.WithLabelValues(name, string(svc.Status)).Set(1)

	e.interval.DeletePartialMatch(prometheus.Labels{labelService: name})
	e.interval.WithLabelValues(name, string(svc.Tier)).Set(float64(svc.PollingInterval) / 1000)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}

	return 0
}
