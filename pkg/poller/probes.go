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
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/carverauto/healthradar/pkg/health"
	"github.com/carverauto/healthradar/pkg/logger"
	"github.com/carverauto/healthradar/pkg/models"
	"github.com/carverauto/healthradar/pkg/probe"
)

// NewProbes builds an HTTP probe for every enabled service in cfg.
func NewProbes(cfg *Config, defs map[models.ServiceName]*health.Definition, log logger.Logger) ([]probe.Prober, error) {
	if log == nil {
		log = logger.Wrap(zerolog.Nop())
	}

	probes := make([]probe.Prober, 0, len(cfg.Services))

	for _, name := range models.AllServices() {
		svc, ok := cfg.Services[name]
		if !ok || svc.Disabled {
			continue
		}

		def, ok := defs[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
		}

		p, err := probe.NewHTTPProbe(def, svc.URL, logger.Wrap(log.WithComponent("probe."+string(name))),
			probe.WithTimeout(time.Duration(svc.Timeout)))
		if err != nil {
			return nil, err
		}

		probes = append(probes, p)
	}

	return probes, nil
}
