package server

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ascend/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// streamFrame is one JSON text frame sent to stream clients.
type streamFrame struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq,omitempty"`
	// ContactID is set for dialogue updates.
	ContactID string         `json:"contact_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	View      *session.View  `json:"view,omitempty"`
}

func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			for _, a := range allowed {
				if a == "*" || strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
					return true
				}
			}
			return false
		},
	}
}

// registerStream serves a websocket that first sends the full session view
// and then every session update as it happens.
func registerStream(r chi.Router, basePath string, mgr *session.Manager, upgrader websocket.Upgrader, log *zap.Logger) {
	r.Get(path.Join(basePath, "sessions/{session_id}/stream"), func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "session_id")
		s, herr := sessionFor(req.Context(), mgr, id)
		if herr != nil {
			respondStatusError(w, herr)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		updates, cancelSub := s.Subscribe()
		defer cancelSub()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		view, err := s.View(ctx)
		if err != nil {
			return
		}
		if err := writeFrame(conn, streamFrame{Type: "session.snapshot", View: &view}); err != nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case u, ok := <-updates:
				if !ok {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
						time.Now().Add(writeWait))
					return
				}
				if err := writeFrame(conn, streamFrame{Type: u.Type, Seq: u.Seq, ContactID: u.ContactID, Payload: u.Payload}); err != nil {
					log.Debug("stream write failed", zap.String("session", id), zap.Error(err))
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})
}

func writeFrame(conn *websocket.Conn, f streamFrame) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}
