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

package poller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/healthradar/pkg/health"
	"github.com/carverauto/healthradar/pkg/logger"
	"github.com/carverauto/healthradar/pkg/models"
	"github.com/carverauto/healthradar/pkg/probe"
	"github.com/carverauto/healthradar/pkg/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// funcProbe answers with fn and counts calls.
type funcProbe struct {
	name  models.ServiceName
	calls atomic.Int32
	fn    func(ctx context.Context, call int) models.Result
}

func (f *funcProbe) Name() models.ServiceName {
	return f.name
}

func (f *funcProbe) Probe(ctx context.Context) models.Result {
	n := int(f.calls.Add(1))

	res := f.fn(ctx, n)
	res.Status.Name = f.name

	return res
}

func healthy(name models.ServiceName) models.Result {
	status := models.StatusHealthy
	if name == models.ServiceBackend {
		status = models.StatusConnected
	}

	return models.Result{
		Status: models.ServiceStatus{Name: name, Status: status, Ready: true, Message: "ok", Detail: models.Detail{}},
	}
}

func timedOut(name models.ServiceName) models.Result {
	return models.Result{
		Status: models.ServiceStatus{
			Name:    name,
			Status:  models.StatusError,
			Message: "Cannot connect",
			Detail:  models.Detail{"error": "timeout after 5s: context deadline exceeded"},
		},
		Failed: true,
	}
}

func healthyProbes() map[models.ServiceName]*funcProbe {
	out := make(map[models.ServiceName]*funcProbe)

	for _, name := range models.AllServices() {
		name := name
		out[name] = &funcProbe{name: name, fn: func(context.Context, int) models.Result { return healthy(name) }}
	}

	return out
}

func asProbers(m map[models.ServiceName]*funcProbe) []probe.Prober {
	out := make([]probe.Prober, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}

	return out
}

func newTestPoller(t *testing.T, clock *testClock, probes []probe.Prober, opts ...store.Option) (*Poller, *store.Store) {
	t.Helper()

	opts = append([]store.Option{store.WithClock(clock), store.WithLogger(logger.NewTestLogger())}, opts...)
	st := store.New(health.DefaultDefinitions(), opts...)

	ctrl := gomock.NewController(t)
	mc := NewMockClock(ctrl)
	mc.EXPECT().Now().DoAndReturn(clock.Now).AnyTimes()

	p, err := New(st, probes, 5*time.Second, mc, logger.NewTestLogger())
	require.NoError(t, err)

	return p, st
}

func TestNewBaseTick(t *testing.T) {
	p, _ := newTestPoller(t, newTestClock(), asProbers(healthyProbes()))
	assert.Equal(t, 15*time.Second, p.TickInterval())

	defs := health.DefaultDefinitions()
	for _, def := range defs {
		def.Tiers.Error = 2 * time.Second
	}

	st := store.New(defs)
	fast, err := New(st, asProbers(healthyProbes()), 5*time.Second, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, fast.TickInterval())
}

func TestNewValidatesProbes(t *testing.T) {
	_, err := New(nil, nil, 0, nil, nil)
	require.ErrorIs(t, err, errStoreRequired)

	probes := healthyProbes()
	delete(probes, models.ServiceChat)

	_, err = New(store.New(nil), asProbers(probes), 0, nil, nil)
	require.ErrorIs(t, err, errProbeMissing)

	_, err = New(store.New(nil, store.WithDisabled(models.ServiceChat)), asProbers(probes), 0, nil, nil)
	require.NoError(t, err)

	stray := &funcProbe{name: "gpu", fn: func(context.Context, int) models.Result { return models.Result{} }}
	_, err = New(store.New(nil), append(asProbers(healthyProbes()), stray), 0, nil, nil)
	require.ErrorIs(t, err, ErrUnknownService)
}

func TestTickAllHealthy(t *testing.T) {
	clock := newTestClock()
	p, st := newTestPoller(t, clock, asProbers(healthyProbes()))

	report, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, models.AllServices(), report.Checked)
	assert.Empty(t, report.Failed)

	snap := st.Snapshot()
	assert.Equal(t, models.HealthHealthy, snap.Consolidated.OverallHealth)

	defs := health.DefaultDefinitions()
	for name, svc := range snap.Services {
		assert.Equal(t, defs[name].Tiers.Stable.Milliseconds(), svc.PollingInterval, name)
		assert.Equal(t, models.TierStable, svc.Tier, name)
		assert.False(t, svc.Checking, name)
	}
}

func TestTickChatTimesOutTwice(t *testing.T) {
	clock := newTestClock()
	probes := healthyProbes()
	probes[models.ServiceChat].fn = func(context.Context, int) models.Result {
		return timedOut(models.ServiceChat)
	}

	p, st := newTestPoller(t, clock, asProbers(probes))

	_, err := p.Tick(context.Background())
	require.NoError(t, err)

	afterFirst := st.Snapshot()

	clock.Advance(15 * time.Second)

	report, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.ServiceName{models.ServiceChat}, report.Checked)
	assert.Equal(t, []models.ServiceName{models.ServiceChat}, report.Failed)

	snap := st.Snapshot()
	chat := snap.Services[models.ServiceChat]
	assert.Equal(t, 2, chat.ConsecutiveErrors)
	assert.Equal(t, (15 * time.Second).Milliseconds(), chat.PollingInterval)
	assert.Equal(t, models.StatusError, chat.Status)
	assert.False(t, chat.Ready)

	for _, name := range []models.ServiceName{models.ServiceVector, models.ServiceBackend, models.ServiceContainerDaemon} {
		if diff := cmp.Diff(afterFirst.Services[name], snap.Services[name]); diff != "" {
			t.Errorf("%s changed (-before +after):\n%s", name, diff)
		}

		assert.Equal(t, int32(1), probes[name].calls.Load(), name)
	}

	assert.Equal(t, models.HealthDegraded, snap.Consolidated.OverallHealth)
}

func TestTickOverlapIsNoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	clock := newTestClock()

	entered := make(chan struct{})
	release := make(chan struct{})

	var probers []probe.Prober

	for _, name := range models.AllServices() {
		name := name
		m := probe.NewMockProber(ctrl)
		m.EXPECT().Name().Return(name).AnyTimes()

		call := m.EXPECT().Probe(gomock.Any())
		if name == models.ServiceChat {
			call.DoAndReturn(func(context.Context) models.Result {
				close(entered)
				<-release

				return healthy(name)
			})
		} else {
			call.Return(healthy(name))
		}

		probers = append(probers, m)
	}

	p, st := newTestPoller(t, clock, probers)

	done := make(chan BatchReport)

	go func() {
		report, _ := p.Tick(context.Background())
		done <- report
	}()

	<-entered

	// Wait until only chat is outstanding so the first batch is quiet.
	require.Eventually(t, func() bool {
		snap := st.Snapshot()

		for name, svc := range snap.Services {
			if name != models.ServiceChat && svc.Generation == 0 {
				return false
			}
		}

		return true
	}, 5*time.Second, 5*time.Millisecond)

	var changes atomic.Int32

	unsubscribe := st.Subscribe(func(store.Change) { changes.Add(1) })

	clock.Advance(time.Hour)

	_, err := p.Tick(context.Background())
	require.ErrorIs(t, err, ErrBatchInFlight)

	_, err = p.Refresh(context.Background())
	require.ErrorIs(t, err, ErrBatchInFlight)

	unsubscribe()

	assert.True(t, p.InFlight())
	assert.Zero(t, changes.Load(), "rejected batches must not touch the store")
	assert.True(t, st.Snapshot().Services[models.ServiceChat].Checking)

	close(release)

	report := <-done
	assert.Len(t, report.Checked, 4)
	assert.False(t, p.InFlight())
}

func TestTickSkipsServicesNotDue(t *testing.T) {
	clock := newTestClock()
	probes := healthyProbes()
	p, _ := newTestPoller(t, clock, asProbers(probes))

	_, err := p.Tick(context.Background())
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)

	report, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Checked)

	clock.Advance(time.Minute)

	report, err = p.Tick(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.ServiceName{models.ServiceVector, models.ServiceChat}, report.Checked)
	assert.Equal(t, int32(1), probes[models.ServiceBackend].calls.Load())
}

func TestErrorTierRetriesOnTheNextDueTick(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	clock := newTestClock()
	defs := health.DefaultDefinitions()

	// The HTTP check reads its own clock slightly after the tick computed the due set.
	chat, err := probe.NewHTTPProbe(defs[models.ServiceChat], srv.URL, logger.NewTestLogger(),
		probe.WithHTTPClient(srv.Client()),
		probe.WithNow(func() time.Time { return clock.Now().Add(50 * time.Millisecond) }))
	require.NoError(t, err)

	p, st := newTestPoller(t, clock, []probe.Prober{chat},
		store.WithDisabled(models.ServiceVector, models.ServiceBackend, models.ServiceContainerDaemon))

	tickAt := clock.Now()

	for i := 1; i <= 3; i++ {
		report, err := p.Tick(context.Background())
		require.NoError(t, err)
		require.Equal(t, []models.ServiceName{models.ServiceChat}, report.Checked, "tick %d", i)

		polling, err := st.Polling(models.ServiceChat)
		require.NoError(t, err)
		assert.Equal(t, tickAt, polling.LastCheckedAt)
		assert.Equal(t, 15*time.Second, polling.Interval)
		assert.Equal(t, i, polling.ConsecutiveErrors)

		clock.Advance(15 * time.Second)
		tickAt = clock.Now()
	}

	assert.Equal(t, int32(3), hits.Load())
}

func TestRefresh(t *testing.T) {
	clock := newTestClock()
	probes := healthyProbes()
	p, st := newTestPoller(t, clock, asProbers(probes), store.WithDisabled(models.ServiceContainerDaemon))

	_, err := p.Tick(context.Background())
	require.NoError(t, err)
	require.Empty(t, st.DueServices(clock.Now()))

	report, err := p.Refresh(context.Background(), models.ServiceChat, models.ServiceChat)
	require.NoError(t, err)
	assert.Equal(t, []models.ServiceName{models.ServiceChat}, report.Checked)
	assert.Equal(t, int32(2), probes[models.ServiceChat].calls.Load())
	assert.Equal(t, int32(1), probes[models.ServiceVector].calls.Load())

	report, err = p.Refresh(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]models.ServiceName{models.ServiceVector, models.ServiceChat, models.ServiceBackend}, report.Checked)
	assert.Zero(t, probes[models.ServiceContainerDaemon].calls.Load())

	_, err = p.Refresh(context.Background(), "gpu")
	require.ErrorIs(t, err, ErrUnknownService)

	_, err = p.Refresh(context.Background(), models.ServiceContainerDaemon)
	require.ErrorIs(t, err, ErrServiceDisabled)
}

func TestPanickingProbeBecomesFailure(t *testing.T) {
	clock := newTestClock()
	probes := healthyProbes()
	probes[models.ServiceBackend].fn = func(context.Context, int) models.Result {
		panic("nil pointer somewhere")
	}

	p, st := newTestPoller(t, clock, asProbers(probes))

	report, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.ServiceName{models.ServiceBackend}, report.Failed)
	assert.Len(t, report.Checked, 4)

	backend, err := st.Service(models.ServiceBackend)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, backend.Status)
	assert.Equal(t, 1, backend.ConsecutiveErrors)
	assert.Contains(t, backend.Detail["error"], "probe panicked")

	chat, err := st.Service(models.ServiceChat)
	require.NoError(t, err)
	assert.Equal(t, models.StatusHealthy, chat.Status)
}

func TestStartStopLifecycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	clock := newTestClock()
	probes := healthyProbes()

	st := store.New(health.DefaultDefinitions(), store.WithClock(clock))

	ticks := make(chan time.Time)
	mockTicker := NewMockTicker(ctrl)
	mockTicker.EXPECT().Chan().Return((<-chan time.Time)(ticks)).AnyTimes()
	mockTicker.EXPECT().Stop().Times(1)

	mockClock := NewMockClock(ctrl)
	mockClock.EXPECT().Now().DoAndReturn(clock.Now).AnyTimes()
	mockClock.EXPECT().Ticker(15 * time.Second).Return(mockTicker).Times(1)

	p, err := New(st, asProbers(probes), 5*time.Second, mockClock, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.IsPolling())

	require.Eventually(t, func() bool {
		return st.OverallHealth() == models.HealthHealthy && !p.InFlight()
	}, time.Second, 5*time.Millisecond)

	clock.Advance(5 * time.Minute)
	ticks <- clock.Now()

	require.Eventually(t, func() bool {
		return probes[models.ServiceChat].calls.Load() == 2 && !p.InFlight()
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), probes[models.ServiceBackend].calls.Load())

	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, p.Stop(context.Background()))
	assert.False(t, p.IsPolling())
}

func TestStopWaitsForInFlightBatch(t *testing.T) {
	clock := newTestClock()
	probes := healthyProbes()

	release := make(chan struct{})
	entered := make(chan struct{})

	probes[models.ServiceVector].fn = func(context.Context, int) models.Result {
		close(entered)
		<-release

		return healthy(models.ServiceVector)
	}

	st := store.New(health.DefaultDefinitions(), store.WithClock(clock))

	p, err := New(st, asProbers(probes), 5*time.Second, nil, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)
	assert.False(t, p.IsPolling())

	close(release)

	require.NoError(t, p.Stop(context.Background()))

	vector, err := st.Service(models.ServiceVector)
	require.NoError(t, err)
	assert.Equal(t, models.StatusHealthy, vector.Status)
}
