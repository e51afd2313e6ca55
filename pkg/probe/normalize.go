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

package probe

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carverauto/healthradar/pkg/health"
	"github.com/carverauto/healthradar/pkg/models"
)

var errNotAnObject = errors.New("health report is not a JSON object")

// Normalize decodes a 2xx health body into a ServiceStatus. Missing or
// unexpected fields fall back to safe defaults instead of failing; only a
// body that is not a JSON object is an error. Everything other than status,
// ready and message is copied into Detail untouched.
func Normalize(def *health.Definition, body []byte) (models.ServiceStatus, error) {
	var raw map[string]any

	if err := json.Unmarshal(body, &raw); err != nil {
		return models.ServiceStatus{}, fmt.Errorf("decode health report: %w", err)
	}

	if raw == nil {
		return models.ServiceStatus{}, errNotAnObject
	}

	out := models.ServiceStatus{
		Name:   def.Name,
		Status: models.StatusError,
		Detail: make(models.Detail, len(raw)),
	}

	for k, v := range raw {
		switch k {
		case "status", "ready", "message":
			continue
		default:
			out.Detail[k] = v
		}
	}

	if s, ok := raw["status"].(string); ok {
		if st := models.Status(s); def.IsAllowed(st) {
			out.Status = st
		} else {
			out.Detail["reported_status"] = s
		}
	}

	if ready, ok := raw["ready"].(bool); ok {
		out.Ready = ready
	} else if loaded, ok := raw["model_loaded"].(bool); ok {
		out.Ready = loaded
	}

	if msg, ok := raw["message"].(string); ok && msg != "" {
		out.Message = msg
	} else {
		out.Message = def.DisplayName + " status unknown"
	}

	return out, nil
}
