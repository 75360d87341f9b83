// Package main runs a demo WebSocket client for the assignment stream: it
// seeds a tenant with tasks and workers, subscribes, triggers a plan and
// prints the events it receives.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const tenant = "t_demo"

func post(base, path, body string) {
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", tenant)
	req.Header.Set("X-Role", "dispatcher")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("request failed")
	}
	_ = resp.Body.Close()
	log.Info().Str("path", path).Int("status", resp.StatusCode).Msg("posted")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	post(base, "/v1/tasks", `{"tasks":[
		{"id":101,"location":{"x":2,"y":3},"priority":"critical"},
		{"id":102,"location":{"x":8,"y":1},"priority":"medium"},
		{"id":103,"location":{"x":5,"y":5},"priority":"low"}
	]}`)
	post(base, "/v1/workers", `{"workers":[
		{"id":1,"location":{"x":0,"y":0},"available":true},
		{"id":2,"location":{"x":9,"y":0},"available":true,"currentLoad":0.4}
	]}`)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/assignments/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", tenant)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal().Err(err).Msg("dial")
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal().Err(err).Msg("connection_init")
	}
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: json.RawMessage(`{}`)}); err != nil {
		log.Fatal().Err(err).Msg("subscribe")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Info().Err(err).Msg("read")
				return
			}
			log.Info().Str("type", m.Type).RawJSON("payload", nonEmpty(m.Payload)).Msg("WS <-")
		}
	}()

	time.Sleep(500 * time.Millisecond)
	post(base, "/v1/plan", `{}`)

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}

func nonEmpty(b json.RawMessage) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
