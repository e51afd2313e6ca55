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

import (
	"fmt"
	"time"
)

// ServiceName identifies one of the monitored backend services.
type ServiceName string

const (
	ServiceVector          ServiceName = "vector"
	ServiceChat            ServiceName = "chat"
	ServiceBackend         ServiceName = "backend"
	ServiceContainerDaemon ServiceName = "containerDaemon"
)

// AllServices lists the monitored services in display order.
func AllServices() []ServiceName {
	return []ServiceName{ServiceVector, ServiceChat, ServiceBackend, ServiceContainerDaemon}
}

// ParseServiceName validates a service identifier.
func ParseServiceName(s string) (ServiceName, error) {
	for _, name := range AllServices() {
		if string(name) == s {
			return name, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownService, s)
}

// Status is the health state reported by (or synthesized for) a service.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusStarting     Status = "starting"
	StatusLoading      Status = "loading"
	StatusHealthy      Status = "healthy"
	StatusError        Status = "error"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusDegraded     Status = "degraded"
	StatusCritical     Status = "critical"
)

// Transient reports whether the status describes a service that is still
// coming up rather than one that has settled.
func (s Status) Transient() bool {
	switch s {
	case StatusConnecting, StatusStarting, StatusLoading:
		return true
	case StatusHealthy, StatusError, StatusConnected, StatusDisconnected, StatusDegraded, StatusCritical:
		return false
	default:
		return false
	}
}

// Detail carries service specific diagnostics verbatim. The monitor never
// interprets it structurally apart from the resource extractors.
type Detail map[string]any

// Clone returns a shallow copy of the map. Nested maps are shared, which is
// fine because nothing mutates them after decoding.
func (d Detail) Clone() Detail {
	if d == nil {
		return Detail{}
	}

	out := make(Detail, len(d))
	for k, v := range d {
		out[k] = v
	}

	return out
}

// ServiceStatus is the normalized health record for one service.
type ServiceStatus struct {
	Name    ServiceName `json:"name"`
	Status  Status      `json:"status"`
	Ready   bool        `json:"ready"`
	Message string      `json:"message"`
	Detail  Detail      `json:"detail"`
}

// Clone returns a copy that shares nothing mutable with the receiver.
func (s ServiceStatus) Clone() ServiceStatus {
	s.Detail = s.Detail.Clone()
	return s
}

// Result is what a probe hands back to the poller for one check.
type Result struct {
	Status    ServiceStatus `json:"status"`
	Failed    bool          `json:"failed"`
	CheckedAt time.Time     `json:"checked_at"`
	Latency   time.Duration `json:"latency"`
	RequestID string        `json:"request_id,omitempty"`
}

// Tier names one of the three interval classes a service can be polled at.
type Tier string

const (
	TierError     Tier = "error"
	TierTransient Tier = "transient"
	TierStable    Tier = "stable"
)

// PollingState is the per-service scheduling bookkeeping owned by the store.
type PollingState struct {
	ConsecutiveErrors int           `json:"consecutive_errors"`
	Interval          time.Duration `json:"interval"`
	Tier              Tier          `json:"tier"`
	LastCheckedAt     time.Time     `json:"last_checked_at"`
}

// Due reports whether a check is owed at now.
func (p PollingState) Due(now time.Time) bool {
	return now.Sub(p.LastCheckedAt) >= p.Interval
}
