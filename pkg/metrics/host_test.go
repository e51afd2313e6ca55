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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/healthradar/pkg/logger"
)

func fakeHostCollector(memErr, cpuErr error) *HostCollector {
	c := NewHostCollector(logger.NewTestLogger())
	c.memoryCollector = func(context.Context) (*mem.VirtualMemoryStat, error) {
		if memErr != nil {
			return nil, memErr
		}

		return &mem.VirtualMemoryStat{Total: 8 << 30, Used: 2 << 30}, nil
	}
	c.usageCollector = func(context.Context, time.Duration, bool) ([]float64, error) {
		if cpuErr != nil {
			return nil, cpuErr
		}

		return []float64{37.5}, nil
	}

	return c
}

func TestHostCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(fakeHostCollector(nil, nil)))

	expected := `
# HELP healthradar_host_cpu_percent Host CPU utilization since the previous scrape
# TYPE healthradar_host_cpu_percent gauge
healthradar_host_cpu_percent 37.5
# HELP healthradar_host_memory_used_bytes Used physical memory of the host
# TYPE healthradar_host_memory_used_bytes gauge
healthradar_host_memory_used_bytes 2.147483648e+09
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"healthradar_host_cpu_percent", "healthradar_host_memory_used_bytes"))
}

func TestHostCollectorPartialFailure(t *testing.T) {
	c := fakeHostCollector(errors.New("no /proc"), nil)
	assert.Equal(t, 1, testutil.CollectAndCount(c))

	c = fakeHostCollector(nil, errors.New("no stat"))
	assert.Equal(t, 2, testutil.CollectAndCount(c))
}
