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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/carverauto/healthradar/pkg/logger"
)

const defaultShutdownTimeout = 10 * time.Second

var errServiceRequired = errors.New("lifecycle: service is required")

// Service is a long-running component with an explicit start and stop.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HTTPServer is served on ServerOptions.ListenAddr.
type HTTPServer interface {
	Start(addr string) error
	Shutdown(ctx context.Context) error
}

// ServerOptions configures RunServer.
type ServerOptions struct {
	ListenAddr      string
	ServiceName     string
	Service         Service
	HTTP            HTTPServer
	ShutdownTimeout time.Duration
	// Cleanup runs after the service has stopped, in order.
	Cleanup []func() error
	Logger  logger.Logger
	// Signals defaults to SIGINT and SIGTERM.
	Signals []os.Signal
}

// RunServer starts the service and HTTP server, blocks until ctx is done, a
// shutdown signal arrives, or the HTTP server fails, then tears everything
// down. All shutdown errors are returned together.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	if opts == nil || opts.Service == nil {
		return errServiceRequired
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	signals := opts.Signals
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	ctx, stop := signal.NotifyContext(ctx, signals...)
	defer stop()

	if err := opts.Service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s: %w", opts.ServiceName, err)
	}

	log.Info().Str("service", opts.ServiceName).Msg("Service started")

	httpErr := make(chan error, 1)

	if opts.HTTP != nil {
		go func() {
			httpErr <- opts.HTTP.Start(opts.ListenAddr)
		}()
	}

	var runErr error

	select {
	case <-ctx.Done():
		log.Info().Str("service", opts.ServiceName).Msg("Shutdown requested")
	case err := <-httpErr:
		if err != nil {
			runErr = err
		}
	}

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := runErr

	if opts.HTTP != nil {
		err = multierr.Append(err, opts.HTTP.Shutdown(shutdownCtx))
	}

	err = multierr.Append(err, opts.Service.Stop(shutdownCtx))

	for _, fn := range opts.Cleanup {
		err = multierr.Append(err, fn())
	}

	if err != nil {
		log.Error().Err(err).Str("service", opts.ServiceName).Msg("Shutdown finished with errors")
	} else {
		log.Info().Str("service", opts.ServiceName).Msg("Service stopped")
	}

	return err
}
