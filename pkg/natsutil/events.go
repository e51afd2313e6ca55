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

// Package natsutil publishes service health transitions as CloudEvents on
// NATS JetStream.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/carverauto/healthradar/pkg/logger"
	"github.com/carverauto/healthradar/pkg/models"
	"github.com/carverauto/healthradar/pkg/store"
)

const (
	eventSource      = "healthradar/poller"
	eventType        = "com.carverauto.healthradar.service.health"
	publishTimeout   = 5 * time.Second
	defaultQueueSize = 64
)

// Publisher is the part of jetstream.JetStream the event publisher uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventPublisher provides methods for publishing CloudEvents to NATS JetStream.
type EventPublisher struct {
	js     Publisher
	stream string
	prefix string
	logger logger.Logger
	now    func() time.Time
}

// NewEventPublisher creates a new EventPublisher for the specified stream.
// Subjects are <prefix>.<service>.
func NewEventPublisher(js Publisher, streamName, subjectPrefix string, log logger.Logger) *EventPublisher {
	if log == nil {
		log = logger.Wrap(zerolog.Nop())
	}

	if subjectPrefix == "" {
		subjectPrefix = models.DefaultEventSubjectPrefix
	}

	return &EventPublisher{
		js:     js,
		stream: streamName,
		prefix: strings.TrimSuffix(subjectPrefix, "."),
		logger: log,
		now:    time.Now,
	}
}

// Subject returns the subject events for service are published on.
func (p *EventPublisher) Subject(service models.ServiceName) string {
	return p.prefix + "." + string(service)
}

// PublishServiceHealthEvent publishes one transition.
func (p *EventPublisher) PublishServiceHealthEvent(ctx context.Context, data models.ServiceHealthEventData) error {
	if data.Timestamp.IsZero() {
		data.Timestamp = p.now()
	}

	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            eventType,
		DataContentType: "application/json",
		Subject:         p.Subject(data.Service),
		Time:            &data.Timestamp,
		Data:            data,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal service health event: %w", err)
	}

	ack, err := p.js.Publish(ctx, event.Subject, eventBytes, jetstream.WithMsgID(event.ID))
	if err != nil {
		return fmt.Errorf("failed to publish service health event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", event.Subject).
		Str("severity", severityForStatus(data.CurrentStatus)).
		Uint64("seq", ack.Sequence).
		Msg("Published service health event")

	return nil
}

// EventFromChange builds the payload for a store change.
func EventFromChange(c store.Change) models.ServiceHealthEventData {
	return models.ServiceHealthEventData{
		Service:           c.Service,
		PreviousStatus:    c.Previous.Status,
		CurrentStatus:     c.Current.Status,
		PreviousReady:     c.Previous.Ready,
		CurrentReady:      c.Current.Ready,
		Message:           c.Current.Message,
		ConsecutiveErrors: c.Current.ConsecutiveErrors,
		OverallHealth:     c.Snapshot.Consolidated.OverallHealth,
		Timestamp:         c.Snapshot.Timestamp,
	}
}

// Attach publishes every probe-confirmed status or readiness transition of
// st. Publishing happens on a worker goroutine so a slow broker never stalls
// the store; when the queue is full the event is dropped and logged. The
// returned function detaches and waits for the worker to drain.
func (p *EventPublisher) Attach(st *store.Store) func() {
	queue := make(chan models.ServiceHealthEventData, defaultQueueSize)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		for data := range queue {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			if err := p.PublishServiceHealthEvent(ctx, data); err != nil {
				p.logger.Warn().Err(err).Str("service", string(data.Service)).Msg("Dropping health event")
			}

			cancel()
		}
	}()

	// mu and closed keep a callback already running in the store from
	// sending on queue after detach has closed it.
	var (
		mu     sync.Mutex
		closed bool
	)

	cancelSub := st.Subscribe(func(c store.Change) {
		if c.Kind != store.ChangeResult || !c.Transition() {
			return
		}

		mu.Lock()
		defer mu.Unlock()

		if closed {
			return
		}

		select {
		case queue <- EventFromChange(c):
		default:
			p.logger.Warn().Str("service", string(c.Service)).Msg("Health event queue full")
		}
	})

	var once sync.Once

	return func() {
		once.Do(func() {
			cancelSub()

			mu.Lock()
			closed = true
			close(queue)
			mu.Unlock()

			wg.Wait()
		})
	}
}

// severityForStatus maps a service status to a syslog style severity.
func severityForStatus(status models.Status) string {
	switch status {
	case models.StatusError, models.StatusCritical, models.StatusDisconnected:
		return "error"
	case models.StatusDegraded:
		return "warning"
	case models.StatusConnecting, models.StatusStarting, models.StatusLoading:
		return "notice"
	case models.StatusHealthy, models.StatusConnected:
		return "info"
	default:
		return "info"
	}
}

// Connect dials NATS with the configured credentials and logs connection
// state changes.
func Connect(cfg *models.NATSConfig, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	if log == nil {
		log = logger.Wrap(zerolog.Nop())
	}

	opts := []nats.Option{nats.Name("healthradar")}

	if cfg.TLS != nil {
		tlsConf, err := TLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	if cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	}

	opts = append(opts,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

// ConnectWithEventPublisher connects, ensures the stream carries the health
// subjects, and returns a publisher.
func ConnectWithEventPublisher(
	ctx context.Context, cfg *models.NATSConfig, log logger.Logger, opts ...nats.Option) (*EventPublisher, *nats.Conn, error) {
	nc, err := Connect(cfg, log, opts...)
	if err != nil {
		return nil, nil, err
	}

	var js jetstream.JetStream

	if cfg.Domain != "" {
		js, err = jetstream.NewWithDomain(nc, cfg.Domain)
	} else {
		js, err = jetstream.New(nc)
	}

	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = models.DefaultEventSubjectPrefix
	}

	if err := ensureStream(ctx, js, cfg.Stream, prefix+".*"); err != nil {
		nc.Close()
		return nil, nil, err
	}

	return NewEventPublisher(js, cfg.Stream, prefix, log), nc, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, name, subject string) error {
	stream, err := js.Stream(ctx, name)

	switch {
	case err == nil:
		cfg := stream.CachedInfo().Config
		existing := len(cfg.Subjects)

		cfg.Subjects = ensureSubjectList(append([]string(nil), cfg.Subjects...), subject)
		if len(cfg.Subjects) == existing {
			return nil
		}

		if _, err := js.UpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("failed to add %s to stream %s: %w", subject, name, err)
		}

		return nil
	case isStreamMissingErr(err):
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     name,
			Subjects: []string{subject},
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", name, err)
		}

		return nil
	default:
		return fmt.Errorf("failed to look up stream %s: %w", name, err)
	}
}

// ensureSubjectList appends subject unless a pattern in subjects already
// covers it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, s := range subjects {
		if matchesSubject(s, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether the NATS pattern matches subject. A pattern
// equal to the subject always matches, including wildcard tokens.
func matchesSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}

		if i >= len(st) {
			return false
		}

		if tok != "*" && tok != st[i] {
			return false
		}
	}

	return len(pt) == len(st)
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}
