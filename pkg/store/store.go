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

// Package store holds the authoritative health and scheduling state for every
// monitored service. It is built explicitly and injected; there is no package
// level instance.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/carverauto/healthradar/pkg/health"
	"github.com/carverauto/healthradar/pkg/logger"
	"github.com/carverauto/healthradar/pkg/models"
)

// Clock supplies the store's notion of now.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

type entry struct {
	def         *health.Definition
	status      models.ServiceStatus
	polling     models.PollingState
	lastUpdated time.Time
	lastLatency time.Duration
	checking    bool
	disabled    bool

	// generation counts applied probe results. Provisional fields are
	// overwritten by the result that brings generation to confirmGen.
	generation  uint64
	provisional []string
	confirmGen  uint64
}

// Store owns every ServiceStatus and PollingState record.
type Store struct {
	defs  map[models.ServiceName]*health.Definition
	order []models.ServiceName

	// writeMu serializes a mutation together with its notifications so
	// subscribers observe changes in mutation order.
	writeMu sync.Mutex

	mu      sync.RWMutex
	entries map[models.ServiceName]*entry
	version uint64

	subMu   sync.Mutex
	subs    map[uint64]Subscriber
	nextSub uint64

	clock  Clock
	logger logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the time source used for timestamps.
func WithClock(c Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDisabled marks services that are never probed. They keep their initial
// state and are left out of the consolidated rollup.
func WithDisabled(names ...models.ServiceName) Option {
	return func(s *Store) {
		for _, n := range names {
			if e, ok := s.entries[n]; ok {
				e.disabled = true
			}
		}
	}
}

// New builds a store seeded with one connecting record per definition. A nil
// defs map means health.DefaultDefinitions.
func New(defs map[models.ServiceName]*health.Definition, opts ...Option) *Store {
	if defs == nil {
		defs = health.DefaultDefinitions()
	}

	s := &Store{
		defs:    defs,
		entries: make(map[models.ServiceName]*entry, len(defs)),
		subs:    make(map[uint64]Subscriber),
		clock:   systemClock{},
		logger:  logger.Wrap(zerolog.Nop()),
	}

	for name, def := range defs {
		s.order = append(s.order, name)
		s.entries[name] = &entry{
			def: def,
			status: models.ServiceStatus{
				Name:    name,
				Status:  models.StatusConnecting,
				Message: fmt.Sprintf("Connecting to %s", def.DisplayName),
				Detail:  models.Detail{},
			},
			polling: models.PollingState{
				Interval: def.InitialInterval(),
				Tier:     models.TierError,
			},
		}
	}

	sort.Slice(s.order, func(i, j int) bool {
		return rank(s.order[i]) < rank(s.order[j])
	})

	for _, o := range opts {
		o(s)
	}

	return s
}

// rank keeps the well-known services in display order and anything else
// after them alphabetically.
func rank(name models.ServiceName) string {
	for i, n := range models.AllServices() {
		if n == name {
			return fmt.Sprintf("0%02d", i)
		}
	}

	return "1" + string(name)
}

// Definition returns the definition the store was built with.
func (s *Store) Definition(name models.ServiceName) (*health.Definition, bool) {
	def, ok := s.defs[name]

	return def, ok
}

// Services lists every service in display order.
func (s *Store) Services() []models.ServiceName {
	return append([]models.ServiceName(nil), s.order...)
}

// Snapshot returns a consistent copy of the whole store.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshotLocked()
}

// Service returns one service's view.
func (s *Store) Service(name models.ServiceName) (models.ServiceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok {
		return models.ServiceSnapshot{}, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}

	return serviceSnapshot(e), nil
}

// Polling returns the scheduling state of one service.
func (s *Store) Polling(name models.ServiceName) (models.PollingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok {
		return models.PollingState{}, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}

	return e.polling, nil
}

// Consolidated derives the system rollup from the current statuses.
func (s *Store) Consolidated() models.ConsolidatedSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.consolidatedLocked()
}

// OverallHealth is shorthand for Consolidated().OverallHealth.
func (s *Store) OverallHealth() models.OverallHealth {
	return s.Consolidated().OverallHealth
}

// IsSystemReady reports whether every enabled service is ready.
func (s *Store) IsSystemReady() bool {
	return s.Consolidated().Ready
}

// DueServices lists the enabled services owed a check at now, in display
// order.
func (s *Store) DueServices(now time.Time) []models.ServiceName {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []models.ServiceName

	for _, name := range s.order {
		e := s.entries[name]
		if e.disabled {
			continue
		}

		if e.polling.Due(now) {
			due = append(due, name)
		}
	}

	return due
}

// Enabled lists services that are probed, in display order.
func (s *Store) Enabled() []models.ServiceName {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ServiceName, 0, len(s.order))

	for _, name := range s.order {
		if !s.entries[name].disabled {
			out = append(out, name)
		}
	}

	return out
}

// InitialIntervals returns the starting interval of every enabled service.
func (s *Store) InitialIntervals() []time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]time.Duration, 0, len(s.order))

	for _, name := range s.order {
		e := s.entries[name]
		if !e.disabled {
			out = append(out, e.def.InitialInterval())
		}
	}

	return out
}

func (s *Store) snapshotLocked() models.Snapshot {
	out := models.Snapshot{
		Version:      s.version,
		Services:     make(map[models.ServiceName]models.ServiceSnapshot, len(s.entries)),
		Consolidated: s.consolidatedLocked(),
		Timestamp:    s.clock.Now(),
	}

	for name, e := range s.entries {
		out.Services[name] = serviceSnapshot(e)
	}

	return out
}

func (s *Store) consolidatedLocked() models.ConsolidatedSnapshot {
	statuses := make(map[models.ServiceName]models.ServiceStatus, len(s.entries))

	for name, e := range s.entries {
		if !e.disabled {
			statuses[name] = e.status
		}
	}

	return health.Consolidate(s.defs, statuses, s.clock.Now())
}

func serviceSnapshot(e *entry) models.ServiceSnapshot {
	st := e.status.Clone()

	return models.ServiceSnapshot{
		Name:              st.Name,
		Status:            st.Status,
		Ready:             st.Ready,
		Healthy:           health.IsFullyHealthy(e.def, st),
		Message:           st.Message,
		Detail:            st.Detail,
		LastUpdated:       e.lastUpdated,
		LastCheckedAt:     e.polling.LastCheckedAt,
		ConsecutiveErrors: e.polling.ConsecutiveErrors,
		PollingInterval:   e.polling.Interval.Milliseconds(),
		LastLatency:       e.lastLatency.Milliseconds(),
		Tier:              e.polling.Tier,
		Checking:          e.checking,
		Disabled:          e.disabled,
		Provisional:       append([]string(nil), e.provisional...),
		ConfirmGeneration: e.confirmGen,
		Generation:        e.generation,
	}
}
