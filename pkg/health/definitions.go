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

// Package health holds the per-service monitoring definitions, the interval
// policy and the consolidated health rollup. Everything here is pure.
package health

import (
	"time"

	"github.com/carverauto/healthradar/pkg/models"
)

const (
	fastProbeTimeout   = 5 * time.Second
	daemonProbeTimeout = 10 * time.Second
	transientInterval  = 2 * time.Minute
)

// Tiers is the bounded interval table for one service.
type Tiers struct {
	Error     time.Duration `json:"error"`
	Transient time.Duration `json:"transient"`
	Stable    time.Duration `json:"stable"`
}

// Get returns the interval for a tier.
func (t Tiers) Get(tier models.Tier) time.Duration {
	switch tier {
	case models.TierError:
		return t.Error
	case models.TierTransient:
		return t.Transient
	case models.TierStable:
		return t.Stable
	default:
		return t.Error
	}
}

// Contains reports whether d is exactly one of the tier values.
func (t Tiers) Contains(d time.Duration) bool {
	return d == t.Error || d == t.Transient || d == t.Stable
}

// ResourceFunc pulls memory (MB) and CPU (percent) figures out of a detail
// map. ok flags report whether the service exposed each figure.
type ResourceFunc func(detail models.Detail) (memoryMB float64, memOK bool, cpuPercent float64, cpuOK bool)

// Definition describes how one service is monitored.
type Definition struct {
	Name        models.ServiceName
	DisplayName string
	Tiers       Tiers
	Timeout     time.Duration

	// Healthy lists the statuses that count as fully healthy for the
	// service. Allowed is the full set a probe accepts from it.
	Healthy []models.Status
	Allowed []models.Status

	Resources ResourceFunc
}

// IsHealthyStatus reports whether s is one of the service's fully healthy values.
func (d *Definition) IsHealthyStatus(s models.Status) bool {
	for _, h := range d.Healthy {
		if h == s {
			return true
		}
	}

	return false
}

// IsAllowed reports whether the service may report s.
func (d *Definition) IsAllowed(s models.Status) bool {
	for _, a := range d.Allowed {
		if a == s {
			return true
		}
	}

	return false
}

// InitialInterval is the short default a freshly created service polls at.
func (d *Definition) InitialInterval() time.Duration {
	return d.Tiers.Error
}

var llmStatuses = []models.Status{
	models.StatusConnecting,
	models.StatusStarting,
	models.StatusLoading,
	models.StatusHealthy,
	models.StatusError,
}

// DefaultDefinitions returns the definitions for the four monitored services.
func DefaultDefinitions() map[models.ServiceName]*Definition {
	return map[models.ServiceName]*Definition{
		models.ServiceVector: {
			Name:        models.ServiceVector,
			DisplayName: "Vector Convert LLM",
			Tiers:       Tiers{Error: 15 * time.Second, Transient: transientInterval, Stable: 5 * time.Minute},
			Timeout:     fastProbeTimeout,
			Healthy:     []models.Status{models.StatusHealthy},
			Allowed:     llmStatuses,
			Resources:   vectorResources,
		},
		models.ServiceChat: {
			Name:        models.ServiceChat,
			DisplayName: "Chat LLM",
			Tiers:       Tiers{Error: 15 * time.Second, Transient: transientInterval, Stable: 5 * time.Minute},
			Timeout:     fastProbeTimeout,
			Healthy:     []models.Status{models.StatusHealthy},
			Allowed:     llmStatuses,
			Resources:   chatResources,
		},
		models.ServiceBackend: {
			Name:        models.ServiceBackend,
			DisplayName: "Convex Backend",
			Tiers:       Tiers{Error: 30 * time.Second, Transient: transientInterval, Stable: 10 * time.Minute},
			Timeout:     fastProbeTimeout,
			Healthy:     []models.Status{models.StatusHealthy, models.StatusConnected},
			Allowed: append(append([]models.Status{}, llmStatuses...),
				models.StatusConnected, models.StatusDisconnected),
			Resources: noResources,
		},
		models.ServiceContainerDaemon: {
			Name:        models.ServiceContainerDaemon,
			DisplayName: "Docker Daemon",
			Tiers:       Tiers{Error: 60 * time.Second, Transient: transientInterval, Stable: 15 * time.Minute},
			Timeout:     daemonProbeTimeout,
			Healthy:     []models.Status{models.StatusHealthy},
			Allowed: []models.Status{
				models.StatusConnecting,
				models.StatusHealthy,
				models.StatusDegraded,
				models.StatusCritical,
				models.StatusError,
			},
			Resources: daemonResources,
		},
	}
}
