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

// Package probe performs bounded-time health requests against the monitored
// services and normalizes every outcome, including failures, into a
// models.Result. Probes never touch shared state.
package probe

//go:generate mockgen -destination=mock_probe.go -package=probe github.com/carverauto/healthradar/pkg/probe Prober

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carverauto/healthradar/pkg/common"
	"github.com/carverauto/healthradar/pkg/health"
	"github.com/carverauto/healthradar/pkg/logger"
	"github.com/carverauto/healthradar/pkg/models"
	"github.com/carverauto/healthradar/pkg/version"
)

const (
	maxBodyBytes    = 1 << 20
	requestIDHeader = "X-Request-ID"
)

var (
	errURLRequired        = errors.New("probe url is required")
	errDefinitionRequired = errors.New("probe definition is required")
)

// Prober checks one service.
type Prober interface {
	Name() models.ServiceName
	Probe(ctx context.Context) models.Result
}

// HTTPProbe issues one GET against a service health endpoint.
type HTTPProbe struct {
	def     *health.Definition
	url     string
	timeout time.Duration
	client  *http.Client
	now     func() time.Time
	logger  logger.Logger
}

// Option customizes an HTTPProbe.
type Option func(*HTTPProbe)

// WithHTTPClient replaces the default client. The probe timeout still applies
// through the request context.
func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPProbe) {
		p.client = c
	}
}

// WithTimeout overrides the definition's timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *HTTPProbe) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithNow injects the clock used for CheckedAt and detail timestamps.
func WithNow(now func() time.Time) Option {
	return func(p *HTTPProbe) {
		p.now = now
	}
}

// NewHTTPProbe creates a probe for def against url.
func NewHTTPProbe(def *health.Definition, url string, log logger.Logger, opts ...Option) (*HTTPProbe, error) {
	if def == nil {
		return nil, errDefinitionRequired
	}

	if url == "" {
		return nil, fmt.Errorf("%w: %s", errURLRequired, def.Name)
	}

	if log == nil {
		log = logger.Wrap(zerolog.Nop())
	}

	p := &HTTPProbe{
		def:     def,
		url:     url,
		timeout: def.Timeout,
		client:  &http.Client{},
		now:     time.Now,
		logger:  log,
	}

	for _, o := range opts {
		o(p)
	}

	return p, nil
}

// Name implements Prober.
func (p *HTTPProbe) Name() models.ServiceName {
	return p.def.Name
}

// Probe implements Prober. It never returns an error: every failure is
// folded into a synthesized error status with Failed set.
func (p *HTTPProbe) Probe(ctx context.Context) models.Result {
	start := p.now()
	requestID := uuid.New().String()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := models.Result{
		CheckedAt: start,
		RequestID: requestID,
	}

	status, failed := p.do(ctx, requestID, start)

	result.Status = status
	result.Failed = failed
	result.Latency = p.now().Sub(start)

	ev := p.logger.Debug()
	if failed {
		ev = p.logger.Warn()
	}

	if batchID, ok := common.GetBatchID(ctx); ok {
		ev = ev.Str("batch_id", batchID)
	}

	ev.Str("service", string(p.def.Name)).
		Str("request_id", requestID).
		Str("status", string(status.Status)).
		Bool("ready", status.Ready).
		Bool("failed", failed).
		Dur("latency", result.Latency).
		Msg("Probe completed")

	return result
}

func (p *HTTPProbe) do(ctx context.Context, requestID string, start time.Time) (models.ServiceStatus, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return p.transportFailure(err, start), true
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set(requestIDHeader, requestID)

	resp, err := p.client.Do(req)
	if err != nil {
		return p.transportFailure(p.describe(ctx, err), start), true
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return p.httpFailure(resp.StatusCode, start), true
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return p.transportFailure(p.describe(ctx, err), start), true
	}

	status, err := Normalize(p.def, body)
	if err != nil {
		return p.decodeFailure(err, start), true
	}

	return status, false
}

// describe distinguishes a probe timeout from other transport errors. The
// distinction only shows up in the detail text.
func (p *HTTPProbe) describe(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timeout after %s: %w", p.timeout, err)
	}

	return err
}

func (p *HTTPProbe) httpFailure(code int, at time.Time) models.ServiceStatus {
	return models.ServiceStatus{
		Name:    p.def.Name,
		Status:  models.StatusError,
		Ready:   false,
		Message: fmt.Sprintf("%s unavailable (%d)", p.def.DisplayName, code),
		Detail: models.Detail{
			"error":       fmt.Sprintf("HTTP %d: %s", code, http.StatusText(code)),
			"status_code": code,
			"timestamp":   at.UTC().Format(time.RFC3339),
		},
	}
}

func (p *HTTPProbe) transportFailure(err error, at time.Time) models.ServiceStatus {
	return models.ServiceStatus{
		Name:    p.def.Name,
		Status:  models.StatusError,
		Ready:   false,
		Message: fmt.Sprintf("Cannot connect to %s", p.def.DisplayName),
		Detail: models.Detail{
			"error":     err.Error(),
			"timestamp": at.UTC().Format(time.RFC3339),
		},
	}
}

func (p *HTTPProbe) decodeFailure(err error, at time.Time) models.ServiceStatus {
	return models.ServiceStatus{
		Name:    p.def.Name,
		Status:  models.StatusError,
		Ready:   false,
		Message: fmt.Sprintf("%s returned an unreadable health report", p.def.DisplayName),
		Detail: models.Detail{
			"error":     err.Error(),
			"timestamp": at.UTC().Format(time.RFC3339),
		},
	}
}

// Failure synthesizes the result for a probe that could not run at all, for
// example one that panicked.
func Failure(def *health.Definition, err error, at time.Time) models.Result {
	p := &HTTPProbe{def: def}

	return models.Result{
		Status:    p.transportFailure(err, at),
		Failed:    true,
		CheckedAt: at,
	}
}
