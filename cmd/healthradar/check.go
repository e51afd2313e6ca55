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
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/carverauto/healthradar/pkg/logger"
	"github.com/carverauto/healthradar/pkg/models"
)

var errSystemCritical = errors.New("system health is critical")

type checkOutput struct {
	Consolidated models.ConsolidatedSnapshot                   `json:"consolidated"`
	Services     map[models.ServiceName]models.ServiceSnapshot `json:"services,omitempty"`
}

func newCheckCmd(configPath *string) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check every enabled service once and print the consolidated status",
		Long: `Runs a single probe of every enabled service and prints the consolidated
status as JSON. Exits non-zero when the overall health is critical.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Logs go to stderr so stdout stays machine readable.
			m, err := newMonitor(cmd.Context(), *configPath, &logger.Config{Level: "warn", Output: "stderr"})
			if err != nil {
				return err
			}

			if _, err := m.poller.Refresh(cmd.Context()); err != nil {
				return err
			}

			snap := m.store.Snapshot()

			out := checkOutput{Consolidated: snap.Consolidated}
			if verbose {
				out.Services = snap.Services
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if err := enc.Encode(out); err != nil {
				return err
			}

			if snap.Consolidated.OverallHealth == models.HealthCritical {
				return errSystemCritical
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Include per-service status")

	return cmd
}
