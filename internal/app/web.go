// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/inertial_stylus/internal/config"
)

// Message kinds pushed to browsers.
const (
	KindPose      = "pose"
	KindTelemetry = "telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local dashboard
	},
}

const (
	wsSendBuffer = 32
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// Envelope is the websocket frame format.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans messages out to every connected websocket. Slow clients drop
// messages rather than stall the hub.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewHub returns a hub with no clients.
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues msg for every client.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Debug("web: client send buffer full, message dropped")
		}
	}
}

// ServeWS upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("web: websocket upgrade error: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.WithField("remote", r.RemoteAddr).Debug("web: websocket client connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// readPump discards client input and detects disconnects.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debugf("web: websocket error: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WebServer keeps the latest pose and telemetry documents and serves them
// over HTTP and websocket.
type WebServer struct {
	hub       *Hub
	staticDir string

	mu        sync.RWMutex
	pose      json.RawMessage
	telemetry json.RawMessage
}

// NewWebServer serves static files from staticDir when it is not empty.
func NewWebServer(staticDir string) *WebServer {
	return &WebServer{hub: NewHub(), staticDir: staticDir}
}

// Hub returns the websocket hub.
func (s *WebServer) Hub() *Hub { return s.hub }

// Ingest stores payload as the latest document of kind and pushes it to
// websocket clients. Payloads that are not valid JSON are rejected.
func (s *WebServer) Ingest(kind string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("web: %s payload is not JSON", kind)
	}
	doc := append(json.RawMessage(nil), payload...)

	s.mu.Lock()
	switch kind {
	case KindPose:
		s.pose = doc
	case KindTelemetry:
		s.telemetry = doc
	default:
		s.mu.Unlock()
		return fmt.Errorf("web: unknown kind %q", kind)
	}
	s.mu.Unlock()

	msg, err := json.Marshal(Envelope{Type: kind, Data: doc})
	if err != nil {
		return err
	}
	s.hub.Broadcast(msg)
	return nil
}

// Handler returns the HTTP routes.
func (s *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orientation", s.latest(func() json.RawMessage { return s.pose }))
	mux.HandleFunc("/api/telemetry", s.latest(func() json.RawMessage { return s.telemetry }))
	mux.HandleFunc("/ws", s.hub.ServeWS)
	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}
	return mux
}

func (s *WebServer) latest(get func() json.RawMessage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		doc := get()
		s.mu.RUnlock()

		if doc == nil {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(doc); err != nil {
			log.Debugf("web: write error: %v", err)
		}
	}
}

// RunWeb subscribes to the pose and telemetry topics and serves the dashboard
// until ctx is cancelled.
func RunWeb(ctx context.Context, cfg *config.Config) error {
	srv := NewWebServer(cfg.Web.StaticDir)

	client, err := connectMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	for kind, topic := range map[string]string{KindPose: cfg.Topics.Pose, KindTelemetry: cfg.Topics.Telemetry} {
		kind := kind
		if err := subscribe(client, topic, func(payload []byte) {
			if err := srv.Ingest(kind, payload); err != nil {
				log.Warn(err)
			}
		}); err != nil {
			return err
		}
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("web server listening on %s", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
