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

package store

import (
	"errors"

	"github.com/carverauto/healthradar/pkg/models"
)

var (
	// ErrUnknownService is returned for mutations addressed to a service the
	// store was not built with.
	ErrUnknownService = models.ErrUnknownService
	// ErrPartialStatus rejects a patch that sets only one of Status and Ready.
	ErrPartialStatus = errors.New("status and ready must be patched together")
	ErrEmptyPatch    = errors.New("patch sets no fields")
	ErrInvalidStatus = errors.New("status not allowed for service")
)
