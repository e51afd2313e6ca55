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

package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/carverauto/healthradar/pkg/api"
	"github.com/carverauto/healthradar/pkg/lifecycle"
	"github.com/carverauto/healthradar/pkg/logger"
	"github.com/carverauto/healthradar/pkg/metrics"
	"github.com/carverauto/healthradar/pkg/models"
	"github.com/carverauto/healthradar/pkg/natsutil"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poller and serve the status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			m, err := newMonitor(ctx, *configPath, nil)
			if err != nil {
				return err
			}

			exporter := metrics.NewExporter(prometheus.NewRegistry())
			exporter.Registry().MustRegister(metrics.NewHostCollector(logger.Wrap(m.log.WithComponent("host"))))

			detachMetrics := exporter.Attach(m.store)

			cleanup := []func() error{
				func() error { detachMetrics(); return nil },
			}

			if m.cfg.NATS != nil {
				pub, nc, err := natsutil.ConnectWithEventPublisher(ctx, m.cfg.NATS, m.log)
				if err != nil {
					detachMetrics()
					return err
				}

				detachEvents := pub.Attach(m.store)

				cleanup = append(cleanup, func() error {
					detachEvents()
					return nc.Drain()
				})
			}

			server := api.NewAPIServer(m.store,
				api.WithRefresher(m.poller),
				api.WithMetricsHandler(exporter.Handler()),
				api.WithCORS(models.CORSConfig{AllowedOrigins: m.cfg.CORSOrigins}),
				api.WithAPIKey(m.cfg.APIKey),
				api.WithLogger(logger.Wrap(m.log.WithComponent("api"))),
			)

			return lifecycle.RunServer(ctx, &lifecycle.ServerOptions{
				ListenAddr:  m.cfg.ListenAddr,
				ServiceName: "healthradar",
				Service:     m.poller,
				HTTP:        server,
				Cleanup:     cleanup,
				Logger:      m.log,
			})
		},
	}
}
