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

package api

import (
	"context"

	"github.com/carverauto/healthradar/pkg/models"
	"github.com/carverauto/healthradar/pkg/poller"
	"github.com/carverauto/healthradar/pkg/store"
)

// StatusStore is the part of the store the API reads and patches.
type StatusStore interface {
	Snapshot() models.Snapshot
	Service(name models.ServiceName) (models.ServiceSnapshot, error)
	Consolidated() models.ConsolidatedSnapshot
	OptimisticPatch(name models.ServiceName, p store.Patch) error
	Subscribe(fn store.Subscriber) func()
}

// Refresher triggers manual checks.
type Refresher interface {
	Refresh(ctx context.Context, names ...models.ServiceName) (poller.BatchReport, error)
	IsPolling() bool
}
