/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Tap race transport
//
// Each browser tab opens one websocket on $prefix/ws and is given a fresh
// connection id. Frames are decoded into game requests and handed to the
// game loop; events come back through clientSet.Deliver.
//
// Routes:
//   - $path              → web client
//   - $path/:code        → web client with the room code pre-filled
//   - $path/:code/qr     → PNG QR code for the room link
//   - /ws                → websocket

package main

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/tapblitz/games/taprace"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	maxFrameSize = 1024
	sendQueue    = 64
	writeWait    = 10 * time.Second
	qrSize       = 320
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// enqueue hands payload to the writer without blocking. A client whose
// queue is full is closed and false is returned.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- payload:
		return true
	default:
		c.closed = true
		close(c.send)
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// clientSet routes loop output to websocket clients by connection id.
type clientSet struct {
	cfg *Config

	mu      sync.RWMutex
	clients map[string]*Client
}

func newClientSet(cfg *Config) *clientSet {
	return &clientSet{
		cfg:     cfg,
		clients: make(map[string]*Client),
	}
}

func (s *clientSet) add(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
}

func (s *clientSet) remove(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
}

func (s *clientSet) Deliver(connID string, payload []byte) {
	s.mu.RLock()
	c, ok := s.clients[connID]
	s.mu.RUnlock()

	if !ok {
		return
	}

	if !c.enqueue(payload) {
		logf(s.cfg, "SERVE: Dropped slow connection %s", connID)
	}
}

func serveWS(cfg *Config, loop *taprace.Loop, clients *clientSet) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: Websocket upgrade for %s failed: %v", realIP(r), err)
			return
		}

		client := &Client{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan []byte, sendQueue),
		}

		clients.add(client)
		defer clients.remove(client)

		logf(cfg, "SERVE: Connection %s opened from %s", client.id, realIP(r))

		go client.writePump()
		client.readPump(cfg, loop)

		logf(cfg, "SERVE: Connection %s closed", client.id)
	}
}

func (c *Client) readPump(cfg *Config, loop *taprace.Loop) {
	defer func() {
		loop.Disconnect(c.id)
		c.close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.playerTimeout))

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logf(cfg, "SERVE: Connection %s read failed: %v", c.id, err)
			}
			return
		}

		req, err := taprace.DecodeRequest(data)
		if err != nil {
			// ignore malformed and unknown frames
			continue
		}

		loop.Submit(c.id, req)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// serveQR renders a PNG QR code pointing at the room's join link.
func serveQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := ps.ByName("code")
		if !taprace.ValidCode(code) {
			http.Error(w, "invalid room code", http.StatusNotFound)
			return
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		path := strings.TrimSuffix(r.URL.Path, "/qr")
		url := scheme + "://" + r.Host + strings.TrimSuffix(path, ps.ByName("code")) + taprace.NormalizeCode(code)

		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		securityHeaders(cfg, w)

		written, _ := w.Write(png)

		logf(cfg, "SERVE: QR code (%s) for %s to %s", humanReadableSize(written), taprace.NormalizeCode(code), realIP(r))
	}
}

// registerTapRace starts the game loop for the lifetime of ctx and wires its routes.
func registerTapRace(ctx context.Context, cfg *Config, path string, mux *httprouter.Router, errs chan<- error) *taprace.Loop {
	clients := newClientSet(cfg)

	engine := taprace.NewEngine(taprace.NewRegistry(), nil)
	loop := taprace.NewLoop(engine, clients,
		taprace.WithLogf(gameLogf(cfg)),
		taprace.WithCountdown(cfg.countdown),
		taprace.WithMaxGameDuration(cfg.maxGameDuration),
	)

	go func() {
		_ = loop.Run(ctx)
	}()

	mux.GET(cfg.prefix+path, serveIndex(cfg, errs))

	mux.GET(cfg.prefix+path+"/:code", serveIndex(cfg, errs))

	mux.GET(cfg.prefix+path+"/:code/qr", serveQR(cfg))

	mux.GET(cfg.prefix+"/ws", serveWS(cfg, loop, clients))

	return loop
}
