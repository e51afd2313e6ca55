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

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/carverauto/healthradar/pkg/logger"
)

const hostSampleTimeout = 2 * time.Second

// HostCollector reports the memory and CPU of the machine the services run
// on, so service usage can be read against host capacity. Values are
// sampled on scrape.
type HostCollector struct {
	log             logger.Logger
	memoryCollector func(context.Context) (*mem.VirtualMemoryStat, error)
	usageCollector  func(context.Context, time.Duration, bool) ([]float64, error)

	memTotal *prometheus.Desc
	memUsed  *prometheus.Desc
	cpuUsage *prometheus.Desc
}

// NewHostCollector creates a collector backed by gopsutil.
func NewHostCollector(log logger.Logger) *HostCollector {
	if log == nil {
		log = logger.Wrap(zerolog.Nop())
	}

	return &HostCollector{
		log:             log,
		memoryCollector: mem.VirtualMemoryWithContext,
		usageCollector:  cpu.PercentWithContext,
		memTotal: prometheus.NewDesc(prometheus.BuildFQName(namespace, "host", "memory_total_bytes"),
			"Total physical memory of the host", nil, nil),
		memUsed: prometheus.NewDesc(prometheus.BuildFQName(namespace, "host", "memory_used_bytes"),
			"Used physical memory of the host", nil, nil),
		cpuUsage: prometheus.NewDesc(prometheus.BuildFQName(namespace, "host", "cpu_percent"),
			"Host CPU utilization since the previous scrape", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *HostCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.memTotal
	ch <- c.memUsed
	ch <- c.cpuUsage
}

// Collect implements prometheus.Collector. A failed sample drops only its
// own series.
func (c *HostCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), hostSampleTimeout)
	defer cancel()

	if vm, err := c.memoryCollector(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Host memory collection failed")
	} else {
		ch <- prometheus.MustNewConstMetric(c.memTotal, prometheus.GaugeValue, float64(vm.Total))
		ch <- prometheus.MustNewConstMetric(c.memUsed, prometheus.GaugeValue, float64(vm.Used))
	}

	// A zero interval compares against the previous call instead of blocking.
	percent, err := c.usageCollector(ctx, 0, false)
	if err != nil || len(percent) == 0 {
		c.log.Warn().Err(err).Msg("Host CPU collection failed")
		return
	}

	ch <- prometheus.MustNewConstMetric(c.cpuUsage, prometheus.GaugeValue, percent[0])
}
