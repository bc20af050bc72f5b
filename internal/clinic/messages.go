package clinic

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/carelink/telehealth-backend/internal/identity"
)

// ChatAccess is the one authorization function for chat, shared by the REST
// fallback and the real-time gateway: the caller must be a participant (or
// admin) and the appointment's chat must be unlocked. It always reads the
// appointment fresh because the unlock sweep can flip the flag at any time.
func (s *Service) ChatAccess(ctx context.Context, actor identity.Identity, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !canAccess(appt, actor) {
		return nil, ErrUnauthorized
	}
	if !appt.ChatUnlocked {
		return nil, ErrChatLocked
	}
	return appt, nil
}

// SendMessage re-checks chat access at send time, then appends the message.
// The store assigns the per-appointment sequence that fixes broadcast order.
func (s *Service) SendMessage(ctx context.Context, actor identity.Identity, appointmentID uuid.UUID, text, fileURL string) (*Message, error) {
	if strings.TrimSpace(text) == "" && fileURL == "" {
		return nil, fmt.Errorf("%w: message needs text or a file", ErrInvalidInput)
	}

	if _, err := s.ChatAccess(ctx, actor, appointmentID); err != nil {
		return nil, err
	}

	msg, err := s.repo.InsertMessage(ctx, &Message{
		AppointmentID: appointmentID,
		SenderID:      actor.ID,
		SenderRole:    actor.Role,
		Text:          text,
		FileURL:       fileURL,
	})
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	s.metrics.MessagesSent.Inc()
	return msg, nil
}

// RecentMessages returns the most recent limit messages in ascending
// sequence order, gated by the same access check as sending.
func (s *Service) RecentMessages(ctx context.Context, actor identity.Identity, appointmentID uuid.UUID, limit int) ([]Message, error) {
	if _, err := s.ChatAccess(ctx, actor, appointmentID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	msgs, err := s.repo.RecentMessages(ctx, appointmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return msgs, nil
}
