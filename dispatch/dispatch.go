// Copyright 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dispatch serves the jsaction external dispatcher contract
// (spec §6) over a websocket: a dispatcher process connects, and from
// that point on receives every Event Record the attached Contract
// produces, batched on the initial queue drain and individually on
// every live dispatch after.
package dispatch

import (
	"net/http"
	"sync"

	"github.com/anwerso/jsaction/jsaction"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// upgrader mirrors the teacher's plain websocket.Dialer use in
// devtools.Connection, the other side of the same library.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wireRecord is the JSON projection of a jsaction.Record sent to a
// connected dispatcher.
type wireRecord struct {
	EventType     string  `json:"eventType"`
	TargetElement string  `json:"targetElement,omitempty"`
	Action        string  `json:"action"`
	ActionElement string  `json:"actionElement,omitempty"`
	TimeStamp     float64 `json:"timeStamp"`
}

// wireMessage is the envelope spec §6 describes: a batch on initial
// attach, individual records (with isGlobal) on live dispatch.
type wireMessage struct {
	Batch    []wireRecord `json:"batch,omitempty"`
	Record   *wireRecord  `json:"record,omitempty"`
	IsGlobal bool         `json:"isGlobal,omitempty"`
}

// Server is an http.Handler that upgrades a single dispatcher
// connection per request and feeds it Event Records via Callback,
// suitable for passing straight into jsaction.Contract.DispatchTo.
type Server struct {
	Logger logrus.FieldLogger

	mu   sync.Mutex
	conn *websocket.Conn
}

// New returns a Server with a default logger when logger is nil.
func New(logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{Logger: logger}
}

// ServeHTTP upgrades the request to a websocket and holds the
// connection open for the lifetime of the dispatcher process. Only
// one dispatcher connection is served at a time, matching spec §4.8's
// single registered dispatcher per Contract.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.WithError(err).Warn("dispatch: failed to upgrade dispatcher connection")
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	s.Logger.Info("dispatch: dispatcher connected")

	// Block reading control/close frames so we notice disconnects;
	// the dispatcher never sends application data back.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.mu.Lock()
				if s.conn == conn {
					s.conn = nil
				}
				s.mu.Unlock()
				return
			}
		}
	}()
}

// Callback returns the jsaction.Dispatcher to pass to
// Contract.DispatchTo. It is infallible in the sense spec §7 requires
// of the core's collaborators: a write failure only logs, it never
// panics back into the event loop.
func (s *Server) Callback() jsaction.Dispatcher {
	return func(recs []jsaction.Record, isGlobal, isBatch bool) {
		if len(recs) == 0 {
			return
		}
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		var msg wireMessage
		if isBatch {
			msg.Batch = make([]wireRecord, len(recs))
			for i, r := range recs {
				msg.Batch[i] = toWire(r)
			}
		} else {
			wr := toWire(recs[0])
			msg.Record = &wr
			msg.IsGlobal = isGlobal
		}

		if err := conn.WriteJSON(msg); err != nil {
			s.Logger.WithError(errors.Wrap(err, "dispatch")).Warn("failed to write event record to dispatcher")
		}
	}
}

func toWire(r jsaction.Record) wireRecord {
	wr := wireRecord{
		EventType: r.EventType,
		Action:    r.Action,
		TimeStamp: r.TimeStamp,
	}
	if r.TargetElement != nil {
		wr.TargetElement = r.TargetElement.BackendNodeID
	}
	if r.ActionElement != nil {
		wr.ActionElement = r.ActionElement.BackendNodeID
	}
	return wr
}
