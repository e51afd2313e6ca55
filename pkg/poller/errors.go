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
	"errors"

	"github.com/carverauto/healthradar/pkg/models"
)

var (
	// ErrBatchInFlight is returned by Tick and Refresh while another batch
	// is still running.
	ErrBatchInFlight = errors.New("a polling batch is already in flight")
	// ErrUnknownService is returned for service names outside the
	// configured set.
	ErrUnknownService  = models.ErrUnknownService
	ErrServiceDisabled = errors.New("service is disabled")

	errStoreRequired      = errors.New("store is required")
	errProbeMissing       = errors.New("no probe configured for service")
	errProbePanicked      = errors.New("probe panicked")
	errServiceURLRequired = errors.New("service url is required")
	errNegativeDuration   = errors.New("duration must not be negative")
	errServiceMissing     = errors.New("service not configured")
)
