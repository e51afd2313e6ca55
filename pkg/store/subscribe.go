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
	"sort"
	"sync"

	"github.com/carverauto/healthradar/pkg/models"
)

// ChangeKind names the mutation that produced a Change.
type ChangeKind string

const (
	ChangeResult   ChangeKind = "result"
	ChangePatch    ChangeKind = "patch"
	ChangeChecking ChangeKind = "checking"
)

// Change describes one applied mutation. Previous and Current are the
// affected service before and after; Snapshot is the whole store after.
type Change struct {
	Kind     ChangeKind
	Service  models.ServiceName
	Previous models.ServiceSnapshot
	Current  models.ServiceSnapshot
	Snapshot models.Snapshot
}

// Transition reports whether the visible status or readiness changed.
func (c Change) Transition() bool {
	return c.Previous.Status != c.Current.Status || c.Previous.Ready != c.Current.Ready
}

// Subscriber observes changes. It runs synchronously on the mutating
// goroutine and must not mutate the store.
type Subscriber func(Change)

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// notify runs subscribers in registration order.
func (s *Store) notify(c Change) {
	s.subMu.Lock()

	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fns := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}

	s.subMu.Unlock()

	for _, fn := range fns {
		s.call(fn, c)
	}
}

func (s *Store) call(fn Subscriber, c Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("service", string(c.Service)).
				Msg("Store subscriber panicked")
		}
	}()

	fn(c)
}
