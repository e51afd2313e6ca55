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
	"sort"
	"time"

	"go.uber.org/multierr"

	"github.com/carverauto/healthradar/pkg/logger"
	"github.com/carverauto/healthradar/pkg/models"
)

const (
	defaultMinTickInterval = 5 * time.Second
	defaultListenAddr      = ":8090"
)

// ServiceConfig locates one monitored service.
type ServiceConfig struct {
	URL      string          `json:"url" yaml:"url"`
	Timeout  models.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Disabled bool            `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Config represents the monitor configuration.
type Config struct {
	Services        map[models.ServiceName]ServiceConfig `json:"services" yaml:"services"`
	MinTickInterval models.Duration                      `json:"min_tick_interval,omitempty" yaml:"min_tick_interval,omitempty"`
	ListenAddr      string                               `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
	APIKey          string                               `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	CORSOrigins     []string                             `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
	NATS            *models.NATSConfig                   `json:"nats,omitempty" yaml:"nats,omitempty"`
	Logging         *logger.Config                       `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// Validate implements config.Validator. Every known service must either
// have a URL or be disabled; all problems are reported together.
func (c *Config) Validate() error {
	var err error

	for name, svc := range c.Services {
		if _, perr := models.ParseServiceName(string(name)); perr != nil {
			err = multierr.Append(err, perr)
			continue
		}

		if !svc.Disabled && svc.URL == "" {
			err = multierr.Append(err, fmt.Errorf("%w: %s", errServiceURLRequired, name))
		}

		if svc.Timeout < 0 {
			err = multierr.Append(err, fmt.Errorf("%w: %s timeout", errNegativeDuration, name))
		}
	}

	for _, name := range models.AllServices() {
		if _, ok := c.Services[name]; !ok {
			err = multierr.Append(err, fmt.Errorf("%w: %s", errServiceMissing, name))
		}
	}

	if c.MinTickInterval < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: min_tick_interval", errNegativeDuration))
	}

	if c.NATS != nil {
		err = multierr.Append(err, c.NATS.Validate())
	}

	if err != nil {
		return err
	}

	if c.MinTickInterval == 0 {
		c.MinTickInterval = models.Duration(defaultMinTickInterval)
	}

	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	return nil
}

// DisabledServices lists the services switched off in config, sorted.
func (c *Config) DisabledServices() []models.ServiceName {
	var out []models.ServiceName

	for name, svc := range c.Services {
		if svc.Disabled {
			out = append(out, name)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}
