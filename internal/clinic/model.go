package clinic

import (
	"time"

	"github.com/google/uuid"
)

// Wire layouts for appointment dates and slot times. Slots are identified by
// exact string match, so every code path formats through these.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type AppointmentType string

const (
	TypeScheduled AppointmentType = "scheduled"
	TypeEmergency AppointmentType = "emergency"
)

type AppointmentStatus string

const (
	StatusPending    AppointmentStatus = "pending"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type Doctor struct {
	ID              uuid.UUID
	Name            string
	Specialization  string
	ConsultationFee float64
	EmergencyFee    float64
	Phone           string
	Approved        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Availability is one recurring weekly window. A doctor's schedule is the set
// of these rows; an admin replaces them wholesale, never merges.
type Availability struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	DayOfWeek   time.Weekday
	StartTime   string // "15:04"
	EndTime     string // "15:04", exclusive
	SlotMinutes int
}

type Appointment struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	Date          string // "2006-01-02"
	StartTime     string // "15:04"
	Type          AppointmentType
	Status        AppointmentStatus
	ChatUnlocked  bool
	VideoUnlocked bool
	MeetingID     string
	JoinURL       string
	StartURL      string
	Symptoms      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Terminal reports whether no further status transitions are possible.
func (a *Appointment) Terminal() bool {
	return a.Status == StatusCompleted || a.Status == StatusCancelled
}

// Payment is created atomically with its appointment and is immutable here;
// refunds are handled by the billing service.
type Payment struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	Amount        float64
	Status        PaymentStatus
	CreatedAt     time.Time
}

// Message is one chat entry. Seq is assigned by the store and strictly
// increases per appointment; broadcast and history ordering follow Seq, not
// wall-clock time.
type Message struct {
	Seq           int64
	AppointmentID uuid.UUID
	SenderID      uuid.UUID
	SenderRole    string
	Text          string
	FileURL       string
	SentAt        time.Time
}
