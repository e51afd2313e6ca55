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

// Package poller schedules health probes. Each tick it probes the services
// whose interval has elapsed, in parallel, and applies the results to the
// store as they settle. At most one batch runs at a time.
package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carverauto/healthradar/pkg/common"
	"github.com/carverauto/healthradar/pkg/health"
	"github.com/carverauto/healthradar/pkg/logger"
	"github.com/carverauto/healthradar/pkg/models"
	"github.com/carverauto/healthradar/pkg/probe"
	"github.com/carverauto/healthradar/pkg/store"
)

// Poller drives the probes on a fixed base tick.
type Poller struct {
	store  *store.Store
	probes map[models.ServiceName]probe.Prober
	clock  Clock
	logger logger.Logger
	tick   time.Duration

	inFlight atomic.Bool

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// BatchReport summarizes one batch. Checked is in settle order.
type BatchReport struct {
	ID       string               `json:"id"`
	Started  time.Time            `json:"started"`
	Duration time.Duration        `json:"duration"`
	Checked  []models.ServiceName `json:"checked"`
	Failed   []models.ServiceName `json:"failed,omitempty"`
}

type outcome struct {
	name   models.ServiceName
	result models.Result
}

// New builds a poller over st. The base tick is the GCD of every enabled
// service's initial interval, floored at minTick.
func New(st *store.Store, probes []probe.Prober, minTick time.Duration, clock Clock, log logger.Logger) (*Poller, error) {
	if st == nil {
		return nil, errStoreRequired
	}

	if clock == nil {
		clock = realClock{}
	}

	if log == nil {
		log = logger.Wrap(zerolog.Nop())
	}

	if minTick <= 0 {
		minTick = defaultMinTickInterval
	}

	p := &Poller{
		store:  st,
		probes: make(map[models.ServiceName]probe.Prober, len(probes)),
		clock:  clock,
		logger: log,
		tick:   health.BaseTick(st.InitialIntervals(), minTick),
	}

	for _, pr := range probes {
		if _, ok := st.Definition(pr.Name()); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownService, pr.Name())
		}

		p.probes[pr.Name()] = pr
	}

	for _, name := range st.Enabled() {
		if _, ok := p.probes[name]; !ok {
			return nil, fmt.Errorf("%w: %s", errProbeMissing, name)
		}
	}

	return p, nil
}

// TickInterval is the base tick period.
func (p *Poller) TickInterval() time.Duration {
	return p.tick
}

// Start launches the tick loop and an immediate first tick. It returns at
// once; calling it on a running poller does nothing.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.done = make(chan struct{})

	ticker := p.clock.Ticker(p.tick)

	p.logger.Info().Dur("interval", p.tick).Int("services", len(p.probes)).Msg("Starting poller")

	p.wg.Add(1)

	go p.loop(ctx, ticker, p.done)

	return nil
}

// Stop halts the tick loop. Probes already in flight finish and their results
// are applied; Stop waits for them until ctx expires. Stopping a stopped
// poller does nothing.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()

	if p.running {
		p.running = false
		close(p.done)
	}

	p.mu.Unlock()

	finished := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.logger.Info().Msg("Poller stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight batch: %w", ctx.Err())
	}
}

// IsPolling reports whether the tick loop is running.
func (p *Poller) IsPolling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.running
}

// InFlight reports whether a batch is currently running.
func (p *Poller) InFlight() bool {
	return p.inFlight.Load()
}

func (p *Poller) loop(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer p.wg.Done()
	defer ticker.Stop()

	// Batches outlive Stop so their results still land in the store.
	batchCtx := context.WithoutCancel(ctx)

	p.spawnTick(batchCtx)

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			if p.done == done {
				p.running = false
			}
			p.mu.Unlock()

			return
		case <-done:
			return
		case <-ticker.Chan():
			p.spawnTick(batchCtx)
		}
	}
}

func (p *Poller) spawnTick(ctx context.Context) {
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		if _, err := p.Tick(ctx); err != nil {
			p.logger.Debug().Err(err).Msg("Skipping tick")
		}
	}()
}

// Tick runs one scheduling pass: it probes every due service, or returns
// ErrBatchInFlight without side effects when a batch is already running.
func (p *Poller) Tick(ctx context.Context) (BatchReport, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return BatchReport{}, ErrBatchInFlight
	}
	defer p.inFlight.Store(false)

	now := p.clock.Now()

	due := p.store.DueServices(now)
	if len(due) == 0 {
		return BatchReport{Started: now}, nil
	}

	return p.runBatch(ctx, due, now), nil
}

// Refresh probes the named services, or every enabled one when none are
// named, regardless of whether they are due. It honours the single batch
// guard.
func (p *Poller) Refresh(ctx context.Context, names ...models.ServiceName) (BatchReport, error) {
	targets, err := p.resolve(names)
	if err != nil {
		return BatchReport{}, err
	}

	if !p.inFlight.CompareAndSwap(false, true) {
		return BatchReport{}, ErrBatchInFlight
	}
	defer p.inFlight.Store(false)

	p.logger.Info().Interface("services", targets).Msg("Manual refresh")

	return p.runBatch(ctx, targets, p.clock.Now()), nil
}

func (p *Poller) resolve(names []models.ServiceName) ([]models.ServiceName, error) {
	if len(names) == 0 {
		return p.store.Enabled(), nil
	}

	seen := make(map[models.ServiceName]struct{}, len(names))
	out := make([]models.ServiceName, 0, len(names))

	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}

		seen[name] = struct{}{}

		svc, err := p.store.Service(name)
		if err != nil {
			return nil, err
		}

		if svc.Disabled {
			return nil, fmt.Errorf("%w: %s", ErrServiceDisabled, name)
		}

		out = append(out, name)
	}

	return out, nil
}

// runBatch fans out one goroutine per service and applies results from a
// single collector in the order they settle. Siblings never affect each
// other. Every result is stamped with started, the instant the due set was
// computed, so the next due check measures a full interval from it.
func (p *Poller) runBatch(ctx context.Context, names []models.ServiceName, started time.Time) BatchReport {
	report := BatchReport{ID: uuid.New().String(), Started: started}
	results := make(chan outcome, len(names))

	ctx = common.WithBatchID(ctx, report.ID)

	for _, name := range names {
		if err := p.store.SetChecking(name, true); err != nil {
			p.logger.Warn().Err(err).Str("service", string(name)).Msg("Failed to flag check")
		}

		go func(name models.ServiceName) {
			results <- outcome{name: name, result: p.probe(ctx, name)}
		}(name)
	}

	for range names {
		o := <-results
		o.result.CheckedAt = started

		if err := p.store.ApplyResult(o.name, o.result); err != nil {
			p.logger.Error().Err(err).Str("service", string(o.name)).Msg("Failed to apply probe result")
			continue
		}

		report.Checked = append(report.Checked, o.name)

		if o.result.Failed {
			report.Failed = append(report.Failed, o.name)
		}
	}

	report.Duration = p.clock.Now().Sub(report.Started)

	p.logger.Debug().
		Str("batch_id", report.ID).
		Int("checked", len(report.Checked)).
		Int("failed", len(report.Failed)).
		Dur("duration", report.Duration).
		Msg("Batch complete")

	return report
}

func (p *Poller) probe(ctx context.Context, name models.ServiceName) (res models.Result) {
	defer func() {
		if r := recover(); r != nil {
			def, _ := p.store.Definition(name)
			res = probe.Failure(def, fmt.Errorf("%w: %v", errProbePanicked, r), p.clock.Now())

			p.logger.Error().Interface("panic", r).Str("service", string(name)).Msg("Probe panicked")
		}
	}()

	return p.probes[name].Probe(ctx)
}
