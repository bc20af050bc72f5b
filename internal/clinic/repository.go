package clinic

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all store interactions needed by the service.
type Repository interface {
	// Doctors
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListApprovedDoctors(ctx context.Context) ([]Doctor, error)
	CreateDoctor(ctx context.Context, d *Doctor) error
	SetDoctorApproval(ctx context.Context, id uuid.UUID, approved bool) error

	// Weekly schedule; replace is wholesale (delete then insert) in one tx.
	ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, rows []Availability) error
	ListAvailability(ctx context.Context, doctorID uuid.UUID) ([]Availability, error)
	ListAvailabilityForDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday) ([]Availability, error)

	// Booked (non-cancelled) start times for a doctor on a date.
	ListBookedTimes(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error)

	// Conflict checks inside the booking critical section.
	ActiveAppointmentAt(ctx context.Context, doctorID uuid.UUID, date, startTime string) (*Appointment, error)
	ActiveEmergencyFor(ctx context.Context, doctorID uuid.UUID) (*Appointment, error)

	// CreateAppointmentWithPayment writes both rows in one transaction; on any
	// failure neither persists.
	CreateAppointmentWithPayment(ctx context.Context, a *Appointment, p *Payment) error

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error)

	// Compare-and-set status update; returns ErrStatusConflict when the row
	// is no longer in the expected from status.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// CancelAppointment sets status=cancelled unless the row is completed,
	// in which case it returns ErrStatusConflict.
	CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UnlockDueScheduled flips both unlock flags for every scheduled
	// appointment dated today or earlier that is still locked. Returns the
	// number of rows affected.
	UnlockDueScheduled(ctx context.Context, today string) (int64, error)

	// Messages, append-only; the store assigns Seq.
	InsertMessage(ctx context.Context, m *Message) (*Message, error)
	RecentMessages(ctx context.Context, appointmentID uuid.UUID, limit int) ([]Message, error)
}
