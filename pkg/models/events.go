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

package models

import (
	"errors"
	"time"
)

const (
	DefaultEventStream        = "events"
	DefaultEventSubjectPrefix = "events.health"
)

var (
	errNATSURLRequired = errors.New("nats url is required")
	errTLSFilesMissing = errors.New("nats tls requires ca_file, cert_file and key_file")
)

// TLSConfig holds the client certificate material for mTLS.
type TLSConfig struct {
	CAFile     string `json:"ca_file" yaml:"ca_file"`
	CertFile   string `json:"cert_file" yaml:"cert_file"`
	KeyFile    string `json:"key_file" yaml:"key_file"`
	ServerName string `json:"server_name,omitempty" yaml:"server_name,omitempty"`
}

// NATSConfig configures the JetStream event publisher.
type NATSConfig struct {
	URL           string     `json:"url" yaml:"url"`
	Domain        string     `json:"domain,omitempty" yaml:"domain,omitempty"`
	CredsFile     string     `json:"creds_file,omitempty" yaml:"creds_file,omitempty"`
	Stream        string     `json:"stream,omitempty" yaml:"stream,omitempty"`
	SubjectPrefix string     `json:"subject_prefix,omitempty" yaml:"subject_prefix,omitempty"`
	TLS           *TLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// Validate checks the URL and fills stream defaults.
func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		return errNATSURLRequired
	}

	if c.TLS != nil && (c.TLS.CAFile == "" || c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errTLSFilesMissing
	}

	if c.Stream == "" {
		c.Stream = DefaultEventStream
	}

	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultEventSubjectPrefix
	}

	return nil
}

// CloudEvent represents a CloudEvents v1.0 compliant event.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

// ServiceHealthEventData is the payload published when a service changes
// status or readiness.
type ServiceHealthEventData struct {
	Service           ServiceName   `json:"service"`
	PreviousStatus    Status        `json:"previous_status"`
	CurrentStatus     Status        `json:"current_status"`
	PreviousReady     bool          `json:"previous_ready"`
	CurrentReady      bool          `json:"current_ready"`
	Message           string        `json:"message"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	OverallHealth     OverallHealth `json:"overall_health"`
	Timestamp         time.Time     `json:"timestamp"`
}
