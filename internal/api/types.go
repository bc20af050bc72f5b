package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/carelink/telehealth-backend/internal/clinic"
)

type BookScheduledRequest struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Symptoms string `json:"symptoms,omitempty"`
}

type BookEmergencyRequest struct {
	DoctorID string `json:"doctor_id"`
	Symptoms string `json:"symptoms,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type ApprovalRequest struct {
	Approved bool `json:"approved"`
}

type CreateDoctorRequest struct {
	Name            string  `json:"name"`
	Specialization  string  `json:"specialization"`
	ConsultationFee float64 `json:"consultation_fee"`
	EmergencyFee    float64 `json:"emergency_fee"`
	Phone           string  `json:"phone"`
}

type AvailabilityRow struct {
	DayOfWeek   int    `json:"day_of_week"` // 0=Sunday .. 6=Saturday
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	SlotMinutes int    `json:"slot_minutes"`
}

type SendMessageRequest struct {
	Text    string `json:"text,omitempty"`
	FileURL string `json:"file_url,omitempty"`
}

type DoctorResponse struct {
	ID              uuid.UUID         `json:"id"`
	Name            string            `json:"name"`
	Specialization  string            `json:"specialization"`
	ConsultationFee float64           `json:"consultation_fee"`
	EmergencyFee    float64           `json:"emergency_fee"`
	Approved        bool              `json:"approved"`
	Availability    []AvailabilityRow `json:"availability,omitempty"`
}

type AppointmentResponse struct {
	ID            uuid.UUID `json:"id"`
	PatientID     uuid.UUID `json:"patient_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	ChatUnlocked  bool      `json:"chat_unlocked"`
	VideoUnlocked bool      `json:"video_unlocked"`
	JoinURL       string    `json:"join_url,omitempty"`
	Symptoms      string    `json:"symptoms,omitempty"`
	// Set only on emergency bookings, for the phone escalation path.
	DoctorPhone string `json:"doctor_phone,omitempty"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Slots    []string  `json:"slots"`
}

type MessageResponse struct {
	Seq        int64     `json:"seq"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderRole string    `json:"sender_role"`
	Text       string    `json:"text,omitempty"`
	FileURL    string    `json:"file_url,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toDoctorResponse(d *clinic.Doctor, avail []clinic.Availability) DoctorResponse {
	resp := DoctorResponse{
		ID:              d.ID,
		Name:            d.Name,
		Specialization:  d.Specialization,
		ConsultationFee: d.ConsultationFee,
		EmergencyFee:    d.EmergencyFee,
		Approved:        d.Approved,
	}
	for _, a := range avail {
		resp.Availability = append(resp.Availability, AvailabilityRow{
			DayOfWeek:   int(a.DayOfWeek),
			StartTime:   a.StartTime,
			EndTime:     a.EndTime,
			SlotMinutes: a.SlotMinutes,
		})
	}
	return resp
}

func toAppointmentResponse(a *clinic.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		Date:          a.Date,
		Time:          a.StartTime,
		Type:          string(a.Type),
		Status:        string(a.Status),
		ChatUnlocked:  a.ChatUnlocked,
		VideoUnlocked: a.VideoUnlocked,
		JoinURL:       a.JoinURL,
		Symptoms:      a.Symptoms,
	}
}

func toMessageResponse(m clinic.Message) MessageResponse {
	return MessageResponse{
		Seq:        m.Seq,
		SenderID:   m.SenderID,
		SenderRole: m.SenderRole,
		Text:       m.Text,
		FileURL:    m.FileURL,
		SentAt:     m.SentAt,
	}
}
