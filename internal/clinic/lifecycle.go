package clinic

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/carelink/telehealth-backend/internal/identity"
)

// legalTransitions is the strict status machine:
// pending -> confirmed -> in_progress -> completed, with cancellation
// reachable from any non-terminal state. Scheduled bookings enter at
// confirmed, emergencies at in_progress.
var legalTransitions = map[AppointmentStatus]map[AppointmentStatus]bool{
	StatusPending:    {StatusConfirmed: true, StatusInProgress: true, StatusCancelled: true},
	StatusConfirmed:  {StatusInProgress: true, StatusCancelled: true},
	StatusInProgress: {StatusCompleted: true, StatusCancelled: true},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to AppointmentStatus) bool {
	return legalTransitions[from][to]
}

// canAccess is the single ownership rule: the patient on the appointment,
// the doctor on it, or an admin.
func canAccess(a *Appointment, actor identity.Identity) bool {
	if actor.IsAdmin() {
		return true
	}
	switch actor.Role {
	case identity.RolePatient:
		return a.PatientID == actor.ID
	case identity.RoleDoctor:
		return a.DoctorID == actor.ID
	}
	return false
}

// GetAppointment returns one appointment after the ownership check.
func (s *Service) GetAppointment(ctx context.Context, actor identity.Identity, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(appt, actor) {
		return nil, ErrUnauthorized
	}
	return appt, nil
}

// ListMyAppointments lists the caller's appointments: a patient sees their
// bookings, a doctor their consultations.
func (s *Service) ListMyAppointments(ctx context.Context, actor identity.Identity) ([]Appointment, error) {
	switch actor.Role {
	case identity.RolePatient:
		return s.repo.ListAppointmentsByPatient(ctx, actor.ID)
	case identity.RoleDoctor:
		return s.repo.ListAppointmentsByDoctor(ctx, actor.ID)
	default:
		return nil, ErrUnauthorized
	}
}

// Cancel marks an appointment cancelled. Allowed from any state except
// completed; cancelling an already-cancelled appointment is a no-op. The
// slot becomes bookable again immediately because conflict checks skip
// cancelled rows.
func (s *Service) Cancel(ctx context.Context, actor identity.Identity, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(appt, actor) {
		return nil, ErrUnauthorized
	}
	if appt.Status == StatusCompleted {
		return nil, fmt.Errorf("%w: completed appointments cannot be cancelled", ErrInvalidTransition)
	}
	if appt.Status == StatusCancelled {
		return appt, nil
	}

	cancelled, err := s.repo.CancelAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.log.Info().Str("appointment_id", id.String()).Msg("appointment cancelled")
	return cancelled, nil
}

// UpdateStatus applies a doctor- or admin-driven transition, validated
// against the strict table. The store-level update is compare-and-set on the
// current status, so a concurrent transition loses cleanly instead of
// clobbering.
func (s *Service) UpdateStatus(ctx context.Context, actor identity.Identity, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	switch to {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(appt, actor) || actor.Role == identity.RolePatient {
		return nil, ErrUnauthorized
	}
	if !CanTransition(appt.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, appt.Status, to)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	s.log.Info().
		Str("appointment_id", id.String()).
		Str("from", string(appt.Status)).
		Str("to", string(to)).
		Msg("appointment status updated")

	return updated, nil
}
