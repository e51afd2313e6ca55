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

package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/healthradar/pkg/health"
	"github.com/carverauto/healthradar/pkg/logger"
	"github.com/carverauto/healthradar/pkg/models"
)

func newTestProbe(t *testing.T, name models.ServiceName, url string, opts ...Option) *HTTPProbe {
	t.Helper()

	p, err := NewHTTPProbe(health.DefaultDefinitions()[name], url, logger.NewTestLogger(), opts...)
	require.NoError(t, err)

	return p
}

func TestProbeHealthyResponse(t *testing.T) {
	var gotRequestID, gotUserAgent string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get(requestIDHeader)
		gotUserAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "healthy",
			"ready": true,
			"message": "Model loaded",
			"model": "gpt",
			"memory_usage": {"rss_mb": 300.5, "percent": 12}
		}`))
	}))
	defer srv.Close()

	res := newTestProbe(t, models.ServiceChat, srv.URL).Probe(context.Background())

	assert.False(t, res.Failed)
	assert.Equal(t, models.ServiceChat, res.Status.Name)
	assert.Equal(t, models.StatusHealthy, res.Status.Status)
	assert.True(t, res.Status.Ready)
	assert.Equal(t, "Model loaded", res.Status.Message)
	assert.Equal(t, "gpt", res.Status.Detail["model"])
	assert.NotContains(t, res.Status.Detail, "status")
	assert.Equal(t, res.RequestID, gotRequestID)
	assert.Equal(t, "healthradar/dev", gotUserAgent)
	assert.False(t, res.CheckedAt.IsZero())
}

func TestProbeNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := newTestProbe(t, models.ServiceBackend, srv.URL).Probe(context.Background())

	assert.True(t, res.Failed)
	assert.Equal(t, models.StatusError, res.Status.Status)
	assert.False(t, res.Status.Ready)
	assert.Contains(t, res.Status.Message, "503")
	assert.Contains(t, res.Status.Detail["error"], "Service Unavailable")
	assert.Equal(t, http.StatusServiceUnavailable, res.Status.Detail["status_code"])
}

func TestProbeTimeout(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	res := newTestProbe(t, models.ServiceChat, srv.URL, WithTimeout(50*time.Millisecond)).
		Probe(context.Background())

	assert.True(t, res.Failed)
	assert.Equal(t, models.StatusError, res.Status.Status)
	assert.Equal(t, "Cannot connect to Chat LLM", res.Status.Message)
	assert.Contains(t, res.Status.Detail["error"], "timeout after 50ms")
}

func TestProbeConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := newTestProbe(t, models.ServiceVector, url).Probe(context.Background())

	assert.True(t, res.Failed)
	assert.False(t, res.Status.Ready)
	assert.NotEmpty(t, res.Status.Detail["error"])
	assert.NotContains(t, res.Status.Detail["error"], "timeout")
}

func TestProbeMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	res := newTestProbe(t, models.ServiceVector, srv.URL).Probe(context.Background())

	assert.True(t, res.Failed)
	assert.Equal(t, models.StatusError, res.Status.Status)
	assert.NotEmpty(t, res.Status.Detail["error"])
}

func TestNewHTTPProbeValidation(t *testing.T) {
	_, err := NewHTTPProbe(nil, "http://x", nil)
	require.ErrorIs(t, err, errDefinitionRequired)

	_, err = NewHTTPProbe(health.DefaultDefinitions()[models.ServiceChat], "", nil)
	require.ErrorIs(t, err, errURLRequired)
}

func TestFailure(t *testing.T) {
	def := health.DefaultDefinitions()[models.ServiceContainerDaemon]
	at := time.Unix(1700000000, 0)

	res := Failure(def, assert.AnError, at)

	assert.True(t, res.Failed)
	assert.Equal(t, at, res.CheckedAt)
	assert.Equal(t, models.ServiceContainerDaemon, res.Status.Name)
	assert.Equal(t, assert.AnError.Error(), res.Status.Detail["error"])
}
