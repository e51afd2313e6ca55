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

package models

import "time"

// OverallHealth is the system wide verdict folded from every service.
type OverallHealth string

const (
	HealthHealthy  OverallHealth = "healthy"
	HealthDegraded OverallHealth = "degraded"
	HealthCritical OverallHealth = "critical"
)

// ServiceSnapshot is the read-only view of one service handed to consumers.
type ServiceSnapshot struct {
	Name              ServiceName `json:"name"`
	Status            Status      `json:"status"`
	Ready             bool        `json:"ready"`
	Healthy           bool        `json:"healthy"` // ready and in a healthy status for this service
	Message           string      `json:"message"`
	Detail            Detail      `json:"detail"`
	LastUpdated       time.Time   `json:"lastUpdated"`
	LastCheckedAt     time.Time   `json:"lastCheckedAt"`
	ConsecutiveErrors int         `json:"consecutiveErrors"`
	PollingInterval   int64       `json:"pollingIntervalMs"`
	Tier              Tier        `json:"tier"`
	LastLatency       int64       `json:"lastLatencyMs"`
	Checking          bool        `json:"checking"`
	Disabled          bool        `json:"disabled,omitempty"`

	// Provisional lists the fields set by an optimistic patch that no probe
	// has confirmed yet. ConfirmGeneration is the probe generation that will
	// overwrite them.
	Provisional       []string `json:"provisional,omitempty"`
	ConfirmGeneration uint64   `json:"confirmGeneration,omitempty"`
	Generation        uint64   `json:"generation"`
}

// ConsolidatedSnapshot is the derived rollup across all services.
type ConsolidatedSnapshot struct {
	HealthyCount        int           `json:"healthyCount"`
	TotalCount          int           `json:"totalCount"`
	OverallHealth       OverallHealth `json:"overallHealth"`
	AggregateMemoryMB   float64       `json:"aggregateMemoryMB"`
	AggregateCPUPercent float64       `json:"aggregateCPUPercent"`
	Ready               bool          `json:"ready"`
	Timestamp           time.Time     `json:"timestamp"`
}

// Snapshot is a consistent copy of the whole store at one version.
type Snapshot struct {
	Version      uint64                          `json:"version"`
	Services     map[ServiceName]ServiceSnapshot `json:"services"`
	Consolidated ConsolidatedSnapshot            `json:"consolidated"`
	Timestamp    time.Time                       `json:"timestamp"`
}
