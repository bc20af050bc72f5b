package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/carelink/telehealth-backend/internal/clinic"
	"github.com/carelink/telehealth-backend/internal/identity"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the edge proxy
	},
}

// clientAction is the client-to-server envelope.
type clientAction struct {
	Action        string    `json:"action"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	Text          string    `json:"text"`
	FileURL       string    `json:"fileUrl"`
}

// wsWriter serializes writes to one connection. The read loop reports errors
// on the same wire the hub pump writes to, so both go through here.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) write(messageType int, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(messageType, payload)
}

// Handler upgrades HTTP connections and runs the socket protocol: the client
// authenticates at connect time, joins one appointment room, and exchanges
// messages until it leaves or the connection dies.
type Handler struct {
	gateway  *Gateway
	verifier identity.Verifier
	log      zerolog.Logger
}

func NewHandler(gateway *Gateway, verifier identity.Verifier, log zerolog.Logger) *Handler {
	return &Handler{
		gateway:  gateway,
		verifier: verifier,
		log:      log.With().Str("component", "chat_ws").Logger(),
	}
}

// ServeHTTP authenticates the bearer token, upgrades the connection, and
// starts the protocol loop. Browsers cannot set headers on WebSocket
// requests, so the token is also accepted as a query parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	actor, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	go h.runConn(conn, actor)
}

// runConn owns one connection for its lifetime. The read loop processes
// actions; a companion goroutine drains the joined client's Send channel and
// keeps the connection alive with pings.
func (h *Handler) runConn(conn *websocket.Conn, actor identity.Identity) {
	w := &wsWriter{conn: conn}
	var client *Client

	defer func() {
		if client != nil {
			h.gateway.Leave(client)
		}
		conn.Close()
	}()

	conn.SetReadLimit(8 << 10)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var act clientAction
		if err := json.Unmarshal(raw, &act); err != nil {
			h.writeError(w, "malformed frame")
			continue
		}

		switch act.Action {
		case "join-chat":
			if client != nil {
				h.gateway.Leave(client)
				client = nil
			}
			c, err := h.gateway.Join(context.Background(), actor, act.AppointmentID)
			if err != nil {
				h.writeError(w, errorText(err))
				continue
			}
			client = c
			go h.writePump(w, c)

		case "send-message":
			if client == nil || client.AppointmentID != act.AppointmentID {
				h.writeError(w, "join the chat first")
				continue
			}
			if _, err := h.gateway.Send(context.Background(), actor, act.AppointmentID, act.Text, act.FileURL); err != nil {
				h.writeError(w, errorText(err))
			}

		case "leave-chat":
			if client != nil {
				h.gateway.Leave(client)
				client = nil
			}

		default:
			h.writeError(w, "unknown action")
		}
	}
}

// writePump moves frames from the hub to the wire and pings on an interval.
// It exits when the client's Send channel closes, which happens on leave and
// when a reconnect displaces this client from the room.
func (h *Handler) writePump(w *wsWriter, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-client.Send:
			if !ok {
				return
			}
			if err := w.write(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := w.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeError(w *wsWriter, text string) {
	w.write(websocket.TextMessage, mustFrame("error", map[string]string{"message": text}))
}

// errorText maps domain errors to the short strings clients key on.
func errorText(err error) string {
	switch {
	case errors.Is(err, clinic.ErrChatLocked):
		return "chat is locked"
	case errors.Is(err, clinic.ErrUnauthorized):
		return "not your appointment"
	case errors.Is(err, clinic.ErrAppointmentNotFound):
		return "appointment not found"
	case errors.Is(err, clinic.ErrInvalidInput):
		return "invalid message"
	default:
		return "internal error"
	}
}
