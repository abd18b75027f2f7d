package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/samirrijal/roadreport/internal/core/domain"
	"github.com/samirrijal/roadreport/internal/core/usecases"
	"github.com/samirrijal/roadreport/internal/pkg/metrics"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
)

// wsViewport is the map window a client is looking at.
type wsViewport struct {
	South *float64 `json:"south"`
	North *float64 `json:"north"`
	West  *float64 `json:"west"`
	East  *float64 `json:"east"`
	Zoom  *float64 `json:"zoom"`
}

// wsMessage is sent from client to drive its heatmap subscription.
// Actions: subscribe, viewport, activity, submitted, unsubscribe.
type wsMessage struct {
	Action   string      `json:"action"`
	Viewport *wsViewport `json:"viewport,omitempty"`
	Activity *string     `json:"activity,omitempty"`
}

// wsCells carries one delivery of scored cells.
type wsCells struct {
	Type     string               `json:"type"` // "cells"
	Seq      uint64               `json:"seq"`
	Trigger  usecases.Trigger     `json:"trigger"`
	Zoom     int                  `json:"zoom"`
	Activity domain.ActivityType  `json:"activity"`
	Count    int                  `json:"count"`
	Cells    []domain.HeatmapCell `json:"cells"`
}

type wsError struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
	Seq     uint64 `json:"seq,omitempty"`
}

type wsStatus struct {
	Type           string `json:"type"` // "status"
	Status         string `json:"status"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// wsConn is the part of a websocket connection a session needs.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// wsSession binds one websocket connection to at most one heatmap
// subscription. Only the read loop touches sub.
type wsSession struct {
	freshness *usecases.FreshnessCoordinator
	conn      wsConn
	log       *slog.Logger

	ctx context.Context
	mu  sync.Mutex // serialises writes
	sub *usecases.Subscription
}

func newWSSession(ctx context.Context, freshness *usecases.FreshnessCoordinator, conn wsConn, log *slog.Logger) *wsSession {
	return &wsSession{freshness: freshness, conn: conn, log: log, ctx: ctx}
}

// WebSocketHandler returns a handler that upgrades to WebSocket and streams
// heatmap updates for the client's viewport.
// Clients send JSON such as:
//
//	{"action":"subscribe","viewport":{"south":42.34,"north":42.38,"west":-71.12,"east":-71.05,"zoom":13},"activity":"biking"}
func WebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		connID := uuid.NewString()
		log := slog.Default().With("ws_conn", connID, "remote_addr", c.RemoteAddr().String())
		if reqID, ok := c.Locals("requestid").(string); ok {
			log = log.With("request_id", reqID)
		}
		log.Info("ws client connected")
		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s := newWSSession(ctx, deps.Freshness, c, log)

		// Keep-alive ping
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(wsPingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := s.write(websocket.PingMessage, nil); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		s.serve()
		close(done)
		log.Info("ws client disconnected")
	}
}

// serve reads client messages until the connection fails, then releases
// the subscription.
func (s *wsSession) serve() {
	defer s.unsubscribe()
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var m wsMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			s.sendError(codeBadRequest, "invalid JSON", 0)
			continue
		}
		s.handle(m)
	}
}

func (s *wsSession) handle(m wsMessage) {
	switch m.Action {
	case "subscribe":
		s.subscribe(m)

	case "viewport":
		if !s.requireSubscription() {
			return
		}
		q, err := m.Viewport.query()
		if err != nil {
			s.sendError(codeBadRequest, err.Error(), 0)
			return
		}
		s.commandResult(s.sub.UpdateViewport(q))

	case "activity":
		if !s.requireSubscription() {
			return
		}
		if m.Activity == nil {
			s.sendError(codeBadRequest, "activity is required", 0)
			return
		}
		a, err := domain.ParseActivityType(*m.Activity)
		if err != nil {
			s.sendError(codeBadRequest, err.Error(), 0)
			return
		}
		s.commandResult(s.sub.UpdateActivity(a))

	case "submitted":
		if !s.requireSubscription() {
			return
		}
		s.commandResult(s.sub.NotifySubmitted())

	case "unsubscribe":
		if s.sub == nil {
			s.sendError(codeBadRequest, "not subscribed", 0)
			return
		}
		s.unsubscribe()
		s.sendJSON(wsStatus{Type: "status", Status: "unsubscribed"})

	default:
		s.sendError(codeBadRequest, "unknown action: "+m.Action, 0)
	}
}

func (s *wsSession) subscribe(m wsMessage) {
	if s.sub != nil {
		s.sendJSON(wsStatus{Type: "status", Status: "already subscribed", SubscriptionID: s.sub.ID()})
		return
	}
	q, err := m.Viewport.query()
	if err != nil {
		s.sendError(codeBadRequest, err.Error(), 0)
		return
	}
	activity := domain.ActivityNone
	if m.Activity != nil {
		if activity, err = domain.ParseActivityType(*m.Activity); err != nil {
			s.sendError(codeBadRequest, err.Error(), 0)
			return
		}
	}

	sub, err := s.freshness.Subscribe(s.ctx, q, activity, s.deliver)
	if err != nil {
		_, code := classify(err)
		s.sendError(code, err.Error(), 0)
		return
	}
	s.sub = sub
	s.log.Debug("ws subscribed", "subscription", sub.ID())
	s.sendJSON(wsStatus{Type: "status", Status: "subscribed", SubscriptionID: sub.ID()})
}

// deliver runs on the subscription's goroutine.
func (s *wsSession) deliver(u usecases.Update) {
	if u.Err != nil {
		_, code := classify(u.Err)
		msg := "could not refresh heatmap"
		switch code {
		case codeSourceUnavailable:
			msg = "report store is temporarily unavailable"
		case codeTimeout:
			msg = "heatmap refresh timed out"
		}
		s.log.Warn("ws heatmap refresh failed", "trigger", u.Trigger, "error", u.Err)
		s.sendError(code, msg, u.Seq)
		return
	}
	s.sendJSON(wsCells{
		Type:     "cells",
		Seq:      u.Seq,
		Trigger:  u.Trigger,
		Zoom:     u.Query.Zoom,
		Activity: u.Activity,
		Count:    len(u.Cells),
		Cells:    u.Cells,
	})
}

func (s *wsSession) requireSubscription() bool {
	if s.sub == nil {
		s.sendError(codeBadRequest, "subscribe first", 0)
		return false
	}
	return true
}

func (s *wsSession) commandResult(err error) {
	switch {
	case err == nil:
	case errors.Is(err, usecases.ErrSubscriptionClosed):
		s.sub = nil
		s.sendError(codeBadRequest, "subscription closed", 0)
	default:
		_, code := classify(err)
		s.sendError(code, err.Error(), 0)
	}
}

func (s *wsSession) unsubscribe() {
	if s.sub == nil {
		return
	}
	if err := s.sub.Unsubscribe(); err != nil {
		s.log.Warn("ws unsubscribe", "subscription", s.sub.ID(), "error", err)
	}
	s.sub = nil
}

func (s *wsSession) sendError(code, message string, seq uint64) {
	s.sendJSON(wsError{Type: "error", Code: code, Message: message, Seq: seq})
}

func (s *wsSession) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("ws encode", "error", err)
		return
	}
	if err := s.write(websocket.TextMessage, data); err != nil {
		s.log.Debug("ws write", "error", err)
	}
}

// write is safe for concurrent use.
func (s *wsSession) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

// query converts a client viewport into a validated heatmap query.
func (v *wsViewport) query() (domain.HeatmapQuery, error) {
	if v == nil {
		return domain.HeatmapQuery{}, errors.New("viewport is required")
	}
	values := map[string]*float64{
		"south": v.South,
		"north": v.North,
		"west":  v.West,
		"east":  v.East,
		"zoom":  v.Zoom,
	}
	return parseViewport(func(key string, _ ...string) string {
		if p := values[key]; p != nil {
			return formatFloat(*p)
		}
		return ""
	})
}
