package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"wmsdispatch/internal/events"
)

// Assignment stream over WebSocket using the graphql-transport-ws message
// shapes: connection_init/connection_ack, ping/pong, subscribe/next/complete.

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	// Events filters by event type; empty means every event.
	Events []string `json:"events"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	origins := s.Config.AllowOrigins
	return &websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		return o == "" || len(origins) == 0 || slices.Contains(origins, "*") || slices.Contains(origins, o)
	}}
}

// AssignmentsWSHandler handles /v1/assignments/ws
func (s *Server) AssignmentsWSHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	subs := map[string]chan events.Event{}
	acked := false
	done := make(chan struct{})
	defer func() {
		close(done)
		for id, ch := range subs {
			s.Broker.Unsubscribe(p.Tenant, ch)
			delete(subs, id)
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(60 * time.Second)) })

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			if acked {
				continue
			}
			acked = true
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			if _, dup := subs[msg.ID]; dup || msg.ID == "" {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"subscription id missing or in use"}`)})
				continue
			}
			var pl subscribePayload
			if len(msg.Payload) > 0 {
				if err := json.Unmarshal(msg.Payload, &pl); err != nil {
					_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"invalid payload"}`)})
					continue
				}
			}
			ch, err := s.Broker.Subscribe(r.Context(), p.Tenant)
			if err != nil {
				log.Error().Err(err).Str("tenant", p.Tenant).Str("id", msg.ID).Msg("assignment stream subscribe")
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"subscribe failed"}`)})
				continue
			}
			subs[msg.ID] = ch
			log.Debug().Str("tenant", p.Tenant).Str("id", msg.ID).Strs("events", pl.Events).Msg("assignment stream subscribed")
			go func(id string, c chan events.Event, filter []string) {
				for evt := range c {
					if len(filter) > 0 && !slices.Contains(filter, evt.Type) {
						continue
					}
					payload, _ := json.Marshal(map[string]any{"type": evt.Type, "data": evt.Data})
					if err := write(wsMessage{Type: "next", ID: id, Payload: payload}); err != nil {
						return
					}
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch, pl.Events)
		case "complete":
			if ch, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(p.Tenant, ch)
				delete(subs, msg.ID)
			}
		}
	}
}
