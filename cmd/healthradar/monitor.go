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
	"context"
	"fmt"

	"github.com/carverauto/healthradar/pkg/config"
	"github.com/carverauto/healthradar/pkg/health"
	"github.com/carverauto/healthradar/pkg/lifecycle"
	"github.com/carverauto/healthradar/pkg/logger"
	"github.com/carverauto/healthradar/pkg/poller"
	"github.com/carverauto/healthradar/pkg/store"
)

// monitor is the store and poller built from one config.
type monitor struct {
	cfg    *poller.Config
	log    logger.Logger
	store  *store.Store
	poller *poller.Poller
}

func loadConfig(ctx context.Context, path string) (*poller.Config, error) {
	var cfg poller.Config

	if err := config.NewConfig(nil).LoadAndValidate(ctx, path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

func newMonitor(ctx context.Context, path string, logOverride *logger.Config) (*monitor, error) {
	cfg, err := loadConfig(ctx, path)
	if err != nil {
		return nil, err
	}

	logConfig := cfg.Logging
	if logOverride != nil {
		logConfig = logOverride
	}

	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	if err := lifecycle.InitializeLogger(logConfig); err != nil {
		return nil, err
	}

	log, err := lifecycle.CreateComponentLogger("healthradar", logConfig)
	if err != nil {
		return nil, err
	}

	defs := health.DefaultDefinitions()

	st := store.New(defs,
		store.WithLogger(logger.Wrap(log.WithComponent("store"))),
		store.WithDisabled(cfg.DisabledServices()...),
	)

	probes, err := poller.NewProbes(cfg, defs, log)
	if err != nil {
		return nil, err
	}

	p, err := poller.New(st, probes, cfg.MinTickInterval.Std(), poller.SystemClock(),
		logger.Wrap(log.WithComponent("poller")))
	if err != nil {
		return nil, err
	}

	return &monitor{cfg: cfg, log: log, store: st, poller: p}, nil
}
