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

package store

import (
	"fmt"
	"sort"

	"github.com/carverauto/healthradar/pkg/health"
	"github.com/carverauto/healthradar/pkg/models"
)

// Patch is an optimistic local change. Nil fields are left alone; Detail keys
// are merged into the existing detail.
type Patch struct {
	Status  *models.Status `json:"status,omitempty"`
	Ready   *bool          `json:"ready,omitempty"`
	Message *string        `json:"message,omitempty"`
	Detail  models.Detail  `json:"detail,omitempty"`
}

func (p Patch) validate(def *health.Definition) error {
	if p.Status == nil && p.Ready == nil && p.Message == nil && len(p.Detail) == 0 {
		return ErrEmptyPatch
	}

	if (p.Status == nil) != (p.Ready == nil) {
		return ErrPartialStatus
	}

	if p.Status != nil && !def.IsAllowed(*p.Status) {
		return fmt.Errorf("%w: %s %q", ErrInvalidStatus, def.Name, *p.Status)
	}

	return nil
}

// ApplyResult records a probe outcome. It always overwrites the previous
// status, clears provisional fields, updates the error count and reschedules
// the service according to the interval policy.
func (s *Store) ApplyResult(name models.ServiceName, result models.Result) error {
	return s.mutate(name, ChangeResult, func(e *entry) error {
		now := s.clock.Now()

		status := result.Status.Clone()
		status.Name = name
		e.status = status

		if result.Failed {
			e.polling.ConsecutiveErrors++
		} else {
			e.polling.ConsecutiveErrors = 0
		}

		checkedAt := result.CheckedAt
		if checkedAt.IsZero() {
			checkedAt = now
		}

		e.polling.LastCheckedAt = checkedAt
		e.lastLatency = result.Latency
		e.polling.Interval, e.polling.Tier = health.NextInterval(e.def, e.status, e.polling.ConsecutiveErrors)

		e.generation++
		e.provisional = nil
		e.confirmGen = 0
		e.checking = false
		e.lastUpdated = now

		s.logger.Debug().
			Str("service", string(name)).
			Str("status", string(e.status.Status)).
			Bool("ready", e.status.Ready).
			Int("consecutive_errors", e.polling.ConsecutiveErrors).
			Dur("interval", e.polling.Interval).
			Str("tier", string(e.polling.Tier)).
			Msg("Applied probe result")

		return nil
	})
}

// OptimisticPatch applies a provisional change that the next probe result
// will overwrite. Error counts and intervals are untouched.
func (s *Store) OptimisticPatch(name models.ServiceName, p Patch) error {
	return s.mutate(name, ChangePatch, func(e *entry) error {
		if err := p.validate(e.def); err != nil {
			return err
		}

		marked := make(map[string]struct{}, len(e.provisional)+len(p.Detail)+3)
		for _, f := range e.provisional {
			marked[f] = struct{}{}
		}

		if p.Status != nil {
			e.status.Status = *p.Status
			e.status.Ready = *p.Ready
			marked["status"] = struct{}{}
			marked["ready"] = struct{}{}
		}

		if p.Message != nil {
			e.status.Message = *p.Message
			marked["message"] = struct{}{}
		}

		if len(p.Detail) > 0 {
			detail := e.status.Detail.Clone()
			for k, v := range p.Detail {
				detail[k] = v
				marked["detail."+k] = struct{}{}
			}

			e.status.Detail = detail
		}

		e.provisional = make([]string, 0, len(marked))
		for f := range marked {
			e.provisional = append(e.provisional, f)
		}

		sort.Strings(e.provisional)

		e.confirmGen = e.generation + 1
		e.lastUpdated = s.clock.Now()

		s.logger.Debug().
			Str("service", string(name)).
			Strs("provisional", e.provisional).
			Uint64("confirm_generation", e.confirmGen).
			Msg("Applied optimistic patch")

		return nil
	})
}

// SetChecking flags whether a probe for name is in flight.
func (s *Store) SetChecking(name models.ServiceName, checking bool) error {
	return s.mutate(name, ChangeChecking, func(e *entry) error {
		e.checking = checking
		return nil
	})
}

func (s *Store) mutate(name models.ServiceName, kind ChangeKind, fn func(*entry) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()

	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownService, name)
	}

	prev := serviceSnapshot(e)

	if err := fn(e); err != nil {
		s.mu.Unlock()
		return err
	}

	s.version++

	change := Change{
		Kind:     kind,
		Service:  name,
		Previous: prev,
		Current:  serviceSnapshot(e),
		Snapshot: s.snapshotLocked(),
	}

	s.mu.Unlock()

	s.notify(change)

	return nil
}
