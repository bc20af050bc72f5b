package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/telehealth-backend/internal/clinic"
	"github.com/carelink/telehealth-backend/internal/identity"
)

const historyWindow = 50

// Service is the slice of the clinic service the gateway needs. Every join
// and send goes through the same access checks as the REST chat endpoints.
type Service interface {
	ChatAccess(ctx context.Context, actor identity.Identity, appointmentID uuid.UUID) (*clinic.Appointment, error)
	SendMessage(ctx context.Context, actor identity.Identity, appointmentID uuid.UUID, text, fileURL string) (*clinic.Message, error)
	RecentMessages(ctx context.Context, actor identity.Identity, appointmentID uuid.UUID, limit int) ([]clinic.Message, error)
}

// Frame is the server-to-client envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// wireMessage is the chat message as clients see it.
type wireMessage struct {
	Seq           int64     `json:"seq"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	SenderID      uuid.UUID `json:"senderId"`
	SenderRole    string    `json:"senderRole"`
	Text          string    `json:"text,omitempty"`
	FileURL       string    `json:"fileUrl,omitempty"`
	SentAt        time.Time `json:"sentAt"`
}

func toWire(m clinic.Message) wireMessage {
	return wireMessage{
		Seq:           m.Seq,
		AppointmentID: m.AppointmentID,
		SenderID:      m.SenderID,
		SenderRole:    m.SenderRole,
		Text:          m.Text,
		FileURL:       m.FileURL,
		SentAt:        m.SentAt,
	}
}

// sendStripes fixes the size of the send-lock table. Appointments sharing a
// stripe serialize needlessly but never reorder; a per-appointment map would
// grow without bound over the process lifetime.
const sendStripes = 64

// Gateway connects hub rooms to the clinic service. It serializes sends per
// appointment so the broadcast order clients observe matches the sequence
// order the store assigned.
type Gateway struct {
	svc Service
	hub *Hub
	log zerolog.Logger

	sendMus [sendStripes]sync.Mutex
}

func NewGateway(svc Service, hub *Hub, log zerolog.Logger) *Gateway {
	return &Gateway{
		svc: svc,
		hub: hub,
		log: log.With().Str("component", "chat").Logger(),
	}
}

// Join authorizes the actor for the appointment's chat and adds them to the
// room. On success the new client immediately receives a joined-chat frame
// followed by the recent message history, oldest first.
func (g *Gateway) Join(ctx context.Context, actor identity.Identity, appointmentID uuid.UUID) (*Client, error) {
	if _, err := g.svc.ChatAccess(ctx, actor, appointmentID); err != nil {
		return nil, err
	}

	// The send lock is held from the history read through registration, so a
	// racing send either lands in the history snapshot or reaches the client
	// as a live frame once registered; it can never fall between the two.
	mu := g.sendMu(appointmentID)
	mu.Lock()
	defer mu.Unlock()

	history, err := g.svc.RecentMessages(ctx, actor, appointmentID, historyWindow)
	if err != nil {
		return nil, err
	}

	// Queue the greeting frames before the client is visible to Broadcast,
	// so history always precedes any live message.
	client := NewClient(actor, appointmentID)
	client.Send <- mustFrame("joined-chat", map[string]any{"appointmentId": appointmentID})

	wire := make([]wireMessage, len(history))
	for i, m := range history {
		wire[i] = toWire(m)
	}
	client.Send <- mustFrame("message-history", wire)

	g.hub.Register(client)

	g.log.Debug().
		Str("appointment_id", appointmentID.String()).
		Str("user_id", actor.ID.String()).
		Msg("client joined chat")

	return client, nil
}

// Send persists the message, then broadcasts it to the room, including back
// to the sender. The per-appointment lock keeps persist and broadcast
// adjacent, so two racing sends cannot arrive at clients out of sequence
// order.
func (g *Gateway) Send(ctx context.Context, actor identity.Identity, appointmentID uuid.UUID, text, fileURL string) (*clinic.Message, error) {
	mu := g.sendMu(appointmentID)
	mu.Lock()
	defer mu.Unlock()

	msg, err := g.svc.SendMessage(ctx, actor, appointmentID, text, fileURL)
	if err != nil {
		return nil, err
	}

	g.hub.Broadcast(appointmentID, mustFrame("receive-message", toWire(*msg)))
	return msg, nil
}

// Leave removes the client from its room.
func (g *Gateway) Leave(client *Client) {
	g.hub.Unregister(client)
}

func (g *Gateway) sendMu(appointmentID uuid.UUID) *sync.Mutex {
	return &g.sendMus[int(appointmentID[0])&(sendStripes-1)]
}

func mustFrame(event string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	out, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		panic(err)
	}
	return out
}
