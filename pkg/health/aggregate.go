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

package health

import (
	"time"

	"github.com/carverauto/healthradar/pkg/models"
)

// IsFullyHealthy reports whether the service is in its healthy state and ready.
func IsFullyHealthy(def *Definition, status models.ServiceStatus) bool {
	return status.Ready && def.IsHealthyStatus(status.Status)
}

// Verdict applies the threshold rule: healthy when every service is, critical
// when none is, degraded in between. The rule is symmetric so no single
// service can mask the others.
func Verdict(healthy, total int) models.OverallHealth {
	switch {
	case total > 0 && healthy == total:
		return models.HealthHealthy
	case healthy > 0:
		return models.HealthDegraded
	default:
		return models.HealthCritical
	}
}

// Consolidate folds per-service statuses into the system snapshot. Services
// without a definition are ignored.
func Consolidate(
	defs map[models.ServiceName]*Definition,
	statuses map[models.ServiceName]models.ServiceStatus,
	now time.Time) models.ConsolidatedSnapshot {
	out := models.ConsolidatedSnapshot{Timestamp: now, Ready: true}

	var (
		cpuSum   float64
		cpuCount int
	)

	for name, status := range statuses {
		def, ok := defs[name]
		if !ok {
			continue
		}

		out.TotalCount++

		if IsFullyHealthy(def, status) {
			out.HealthyCount++
		}

		if !status.Ready {
			out.Ready = false
		}

		if def.Resources == nil {
			continue
		}

		mem, memOK, cpu, cpuOK := def.Resources(status.Detail)
		if memOK {
			out.AggregateMemoryMB += mem
		}

		if cpuOK && status.Ready {
			cpuSum += cpu
			cpuCount++
		}
	}

	if cpuCount > 0 {
		out.AggregateCPUPercent = cpuSum / float64(cpuCount)
	}

	if out.TotalCount == 0 {
		out.Ready = false
	}

	out.OverallHealth = Verdict(out.HealthyCount, out.TotalCount)

	return out
}
