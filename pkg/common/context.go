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

// Package common holds small helpers shared across packages.
package common

import (
	"context"
)

// contextKey is a private type for context keys used in this package
type contextKey string

const batchIDKey contextKey = "batch_id"

// WithBatchID returns a new context tagged with the polling batch ID.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchIDKey, batchID)
}

// GetBatchID retrieves the batch ID from the context.
// Returns the batch ID and a boolean indicating if it was found
func GetBatchID(ctx context.Context) (string, bool) {
	batchID, ok := ctx.Value(batchIDKey).(string)
	return batchID, ok
}
