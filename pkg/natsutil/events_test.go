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

package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/healthradar/pkg/health"
	"github.com/carverauto/healthradar/pkg/logger"
	"github.com/carverauto/healthradar/pkg/models"
	"github.com/carverauto/healthradar/pkg/store"
)

var errTestFixture = errors.New("fixture error")

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	f.msgs = append(f.msgs, published{subject: subject, data: data})

	return &jetstream.PubAck{Stream: "events", Sequence: uint64(len(f.msgs))}, nil
}

func (f *fakePublisher) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]published(nil), f.msgs...)
}

func TestPublishServiceHealthEvent(t *testing.T) {
	fp := &fakePublisher{}
	p := NewEventPublisher(fp, "events", "events.health.", logger.NewTestLogger())

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	err := p.PublishServiceHealthEvent(context.Background(), models.ServiceHealthEventData{
		Service:        models.ServiceChat,
		PreviousStatus: models.StatusHealthy,
		CurrentStatus:  models.StatusError,
		PreviousReady:  true,
		Message:        "Cannot connect to Chat LLM",
		Timestamp:      ts,
	})
	require.NoError(t, err)

	msgs := fp.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "events.health.chat", msgs[0].subject)

	var event struct {
		models.CloudEvent
		Data models.ServiceHealthEventData `json:"data"`
	}

	require.NoError(t, json.Unmarshal(msgs[0].data, &event))
	assert.Equal(t, "1.0", event.SpecVersion)
	assert.Equal(t, eventType, event.Type)
	assert.Equal(t, "events.health.chat", event.Subject)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, models.StatusError, event.Data.CurrentStatus)
	assert.True(t, event.Data.PreviousReady)
	assert.True(t, ts.Equal(event.Data.Timestamp))
}

func TestPublishServiceHealthEventError(t *testing.T) {
	p := NewEventPublisher(&fakePublisher{err: errTestFixture}, "events", "", nil)

	err := p.PublishServiceHealthEvent(context.Background(), models.ServiceHealthEventData{Service: models.ServiceVector})
	require.ErrorIs(t, err, errTestFixture)
	assert.Equal(t, "events.health.vector", p.Subject(models.ServiceVector))
}

func TestAttachPublishesTransitionsOnly(t *testing.T) {
	fp := &fakePublisher{}
	p := NewEventPublisher(fp, "events", "", logger.NewTestLogger())
	st := store.New(health.DefaultDefinitions())

	detach := p.Attach(st)

	ok := models.Result{Status: models.ServiceStatus{Status: models.StatusHealthy, Ready: true}}
	down := models.Result{Status: models.ServiceStatus{Status: models.StatusError}, Failed: true}

	require.NoError(t, st.ApplyResult(models.ServiceChat, ok))
	require.NoError(t, st.ApplyResult(models.ServiceChat, ok))
	require.NoError(t, st.SetChecking(models.ServiceChat, true))
	require.NoError(t, st.ApplyResult(models.ServiceChat, down))
	require.NoError(t, st.ApplyResult(models.ServiceChat, down))

	detach()
	detach()

	msgs := fp.messages()
	require.Len(t, msgs, 2)

	var first, second struct {
		Data models.ServiceHealthEventData `json:"data"`
	}

	require.NoError(t, json.Unmarshal(msgs[0].data, &first))
	require.NoError(t, json.Unmarshal(msgs[1].data, &second))

	assert.Equal(t, models.StatusConnecting, first.Data.PreviousStatus)
	assert.Equal(t, models.StatusHealthy, first.Data.CurrentStatus)
	assert.Equal(t, models.StatusHealthy, second.Data.PreviousStatus)
	assert.Equal(t, models.StatusError, second.Data.CurrentStatus)
	assert.Equal(t, 1, second.Data.ConsecutiveErrors)

	require.NoError(t, st.ApplyResult(models.ServiceChat, ok))
	assert.Len(t, fp.messages(), 2)
}

func TestDetachWhileTransitionsArrive(t *testing.T) {
	p := NewEventPublisher(&fakePublisher{}, "events", "", logger.NewTestLogger())
	st := store.New(health.DefaultDefinitions())

	detach := p.Attach(st)

	ok := models.Result{Status: models.ServiceStatus{Status: models.StatusHealthy, Ready: true}}
	down := models.Result{Status: models.ServiceStatus{Status: models.StatusError}, Failed: true}

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		for i := 0; i < 200; i++ {
			r := ok
			if i%2 == 1 {
				r = down
			}

			assert.NoError(t, st.ApplyResult(models.ServiceVector, r))
		}
	}()

	detach()
	wg.Wait()

	require.NoError(t, st.ApplyResult(models.ServiceVector, down))
}

func TestSeverityForStatus(t *testing.T) {
	assert.Equal(t, "error", severityForStatus(models.StatusError))
	assert.Equal(t, "warning", severityForStatus(models.StatusDegraded))
	assert.Equal(t, "notice", severityForStatus(models.StatusLoading))
	assert.Equal(t, "info", severityForStatus(models.StatusConnected))
}

func TestEnsureSubjectList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		subjects []string
		subject  string
		want     []string
	}{
		{
			name:     "adds subject when list empty",
			subjects: nil,
			subject:  "events.health.*",
			want:     []string{"events.health.*"},
		},
		{
			name:     "keeps list when pattern already present",
			subjects: []string{"events.health.*"},
			subject:  "events.health.*",
			want:     []string{"events.health.*"},
		},
		{
			name:     "keeps list when greater wildcard matches",
			subjects: []string{"events.>"},
			subject:  "events.health.chat",
			want:     []string{"events.>"},
		},
		{
			name:     "appends when unmatched",
			subjects: []string{"events.poller.*"},
			subject:  "events.health.*",
			want:     []string{"events.poller.*", "events.health.*"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			result := ensureSubjectList(append([]string(nil), tc.subjects...), tc.subject)
			assert.Equal(t, tc.want, result)
		})
	}
}

func TestMatchesSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pattern  string
		subject  string
		expected bool
	}{
		{"exact match", "events.health.chat", "events.health.chat", true},
		{"single wildcard", "events.*.chat", "events.health.chat", true},
		{"greater wildcard", "events.>", "events.health.chat", true},
		{"greater wildcard needs a token", "events.health.>", "events.health", false},
		{"no match length", "events.*", "events.health.chat", false},
		{"no match tokens", "logs.syslog.*", "events.health.chat", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := matchesSubject(tc.pattern, tc.subject); got != tc.expected {
				t.Fatalf("matchesSubject(%q, %q) = %t, want %t", tc.pattern, tc.subject, got, tc.expected)
			}
		})
	}
}

func TestIsStreamMissingErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"jetstream no stream response", jetstream.ErrNoStreamResponse, true},
		{"jetstream stream not found", jetstream.ErrStreamNotFound, true},
		{"nats no stream response", nats.ErrNoStreamResponse, true},
		{"nats stream not found", nats.ErrStreamNotFound, true},
		{"nats no responders", nats.ErrNoResponders, true},
		{"other error", errTestFixture, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := isStreamMissingErr(tc.err); got != tc.expected {
				t.Fatalf("isStreamMissingErr(%v) = %t, want %t", tc.err, got, tc.expected)
			}
		})
	}
}

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	srv, err := server.NewServer(opts)
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}

	require.Eventually(t, func() bool {
		return srv.JetStreamEnabled()
	}, 5*time.Second, 50*time.Millisecond, "embedded NATS server not ready for JetStream")

	t.Cleanup(srv.Shutdown)

	return srv
}

func connectPublisher(t *testing.T, ctx context.Context, cfg *models.NATSConfig) (*EventPublisher, jetstream.JetStream) {
	t.Helper()

	pub, nc, err := ConnectWithEventPublisher(ctx, cfg, logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	return pub, js
}

func TestConnectWithEventPublisherCreatesStream(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv := runJetStreamServer(t)

	_, js := connectPublisher(t, ctx, &models.NATSConfig{
		URL:           srv.ClientURL(),
		Stream:        "health",
		SubjectPrefix: "events.health.",
	})

	stream, err := js.Stream(ctx, "health")
	require.NoError(t, err)

	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"events.health.*"}, info.Config.Subjects)
}

func TestConnectWithEventPublisherExtendsExistingStream(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv := runJetStreamServer(t)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "events",
		Subjects: []string{"events.poller.health"},
	})
	require.NoError(t, err)

	cfg := &models.NATSConfig{URL: srv.ClientURL(), Stream: "events", SubjectPrefix: "events.health"}

	connectPublisher(t, ctx, cfg)
	connectPublisher(t, ctx, cfg)

	stream, err := js.Stream(ctx, "events")
	require.NoError(t, err)

	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"events.poller.health", "events.health.*"}, info.Config.Subjects)
}

func TestAttachDeliversCloudEventsToJetStream(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv := runJetStreamServer(t)

	pub, js := connectPublisher(t, ctx, &models.NATSConfig{
		URL:           srv.ClientURL(),
		Stream:        "health",
		SubjectPrefix: "events.health",
	})

	st := store.New(health.DefaultDefinitions())
	detach := pub.Attach(st)

	require.NoError(t, st.ApplyResult(models.ServiceBackend, models.Result{
		Status:  models.ServiceStatus{Status: models.StatusError, Message: "backend unreachable"},
		Failed: true,
	}))

	detach()

	consumer, err := js.CreateOrUpdateConsumer(ctx, "health", jetstream.ConsumerConfig{
		Durable:   "healthradar-test",
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	require.NoError(t, err)

	msg, err := consumer.Next(jetstream.FetchMaxWait(5 * time.Second))
	require.NoError(t, err)
	require.NoError(t, msg.Ack())

	assert.Equal(t, "events.health.backend", msg.Subject())

	var event struct {
		models.CloudEvent
		Data models.ServiceHealthEventData `json:"data"`
	}

	require.NoError(t, json.Unmarshal(msg.Data(), &event))
	assert.Equal(t, eventType, event.Type)
	assert.Equal(t, eventSource, event.Source)
	assert.Equal(t, models.ServiceBackend, event.Data.Service)
	assert.Equal(t, models.StatusConnecting, event.Data.PreviousStatus)
	assert.Equal(t, models.StatusError, event.Data.CurrentStatus)
	assert.Equal(t, 1, event.Data.ConsecutiveErrors)
}
