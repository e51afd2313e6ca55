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
	"encoding/json"

	"github.com/carverauto/healthradar/pkg/models"
)

func vectorResources(detail models.Detail) (float64, bool, float64, bool) {
	usage := nested(detail, "memory_usage")
	mem, memOK := number(usage, "process_memory_mb")
	cpu, cpuOK := number(usage, "process_cpu_percent")

	return mem, memOK, cpu, cpuOK
}

func chatResources(detail models.Detail) (float64, bool, float64, bool) {
	usage := nested(detail, "memory_usage")

	mem, memOK := number(usage, "rss_mb")
	if !memOK {
		mem, memOK = number(usage, "process_memory_mb")
	}

	cpu, cpuOK := number(usage, "percent")
	if !cpuOK {
		cpu, cpuOK = number(usage, "process_cpu_percent")
	}

	return mem, memOK, cpu, cpuOK
}

func daemonResources(detail models.Detail) (float64, bool, float64, bool) {
	res := nested(detail, "resources")
	mem, memOK := number(res, "memory_mb")
	cpu, cpuOK := number(res, "cpu_usage")

	return mem, memOK, cpu, cpuOK
}

func noResources(models.Detail) (float64, bool, float64, bool) {
	return 0, false, 0, false
}

func nested(detail map[string]any, key string) map[string]any {
	if detail == nil {
		return nil
	}

	switch v := detail[key].(type) {
	case map[string]any:
		return v
	case models.Detail:
		return v
	default:
		return nil
	}
}

func number(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}

	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
