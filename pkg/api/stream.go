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
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/healthradar/pkg/models"
	"github.com/carverauto/healthradar/pkg/store"
)

const (
	writeWait = 10 * time.Second

	messageTypeSnapshot = "snapshot"
	messageTypePing     = "ping"
)

// StreamMessage is one frame on /api/status/stream.
type StreamMessage struct {
	Type      string           `json:"type"`
	Snapshot  *models.Snapshot `json:"snapshot,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func (s *APIServer) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range s.corsConfig.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	return u.Host == r.Host
}

// handleStream pushes the full snapshot on connect and after every store
// change. A slow client only ever sees the latest snapshot, and versions
// sent on one connection only increase.
func (s *APIServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates := make(chan models.Snapshot, 1)

	// Subscribers are invoked one at a time, so this is the only sender.
	unsubscribe := s.store.Subscribe(func(c store.Change) {
		select {
		case updates <- c.Snapshot:
			return
		default:
		}

		select {
		case <-updates:
		default:
		}

		select {
		case updates <- c.Snapshot:
		default:
		}
	})
	defer unsubscribe()

	go s.handleClientMessages(conn, cancel)

	initial := s.store.Snapshot()
	if err := s.sendSnapshot(conn, initial); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send initial snapshot")
		return
	}

	sent := initial.Version

	ping := time.NewTicker(s.pingEvery)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			// A change queued before the initial read can carry an older version.
			if snap.Version <= sent {
				continue
			}

			if err := s.sendSnapshot(conn, snap); err != nil {
				s.logger.Debug().Err(err).Msg("Stream client went away")
				return
			}

			sent = snap.Version
		case <-ping.C:
			if err := s.sendMessage(conn, StreamMessage{Type: messageTypePing}); err != nil {
				return
			}
		}
	}
}

// handleClientMessages drains the read side so close frames are processed.
func (s *APIServer) handleClientMessages(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				s.logger.Debug().Err(err).Msg("Stream read ended")
			}

			return
		}
	}
}

func (s *APIServer) sendSnapshot(conn *websocket.Conn, snap models.Snapshot) error {
	return s.sendMessage(conn, StreamMessage{Type: messageTypeSnapshot, Snapshot: &snap})
}

func (*APIServer) sendMessage(conn *websocket.Conn, msg StreamMessage) error {
	msg.Timestamp = time.Now()

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}

	return conn.WriteJSON(msg)
}
