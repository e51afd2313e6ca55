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

package health

import (
	"time"

	"github.com/carverauto/healthradar/pkg/models"
)

// TierFor picks the polling tier for a service. The table is evaluated in
// priority order: any error, then anything short of fully healthy and ready,
// then stable.
func TierFor(def *Definition, status models.ServiceStatus, consecutiveErrors int) models.Tier {
	if consecutiveErrors > 0 {
		return models.TierError
	}

	if !IsFullyHealthy(def, status) {
		return models.TierTransient
	}

	return models.TierStable
}

// NextInterval maps the current status and error count to the next polling
// interval. The result is always one of def.Tiers.
func NextInterval(def *Definition, status models.ServiceStatus, consecutiveErrors int) (time.Duration, models.Tier) {
	tier := TierFor(def, status, consecutiveErrors)
	return def.Tiers.Get(tier), tier
}

// BaseTick is the repeating scheduler period: the greatest common divisor of
// the intervals, never below floor.
func BaseTick(intervals []time.Duration, floor time.Duration) time.Duration {
	var g time.Duration

	for _, d := range intervals {
		if d <= 0 {
			continue
		}

		g = gcd(g, d)
	}

	if g < floor {
		return floor
	}

	return g
}

func gcd(a, b time.Duration) time.Duration {
	for b != 0 {
		a, b = b, a%b
	}

	return a
}
