package clinic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/carelink/telehealth-backend/internal/redis"
)

const scheduledMeetingMinutes = 30

// slotLockKey scopes the scheduled-booking critical section to one
// (doctor, date, time) tuple so unrelated slots never contend.
func slotLockKey(doctorID uuid.UUID, date, startTime string) string {
	return fmt.Sprintf("slot:%s:%s:%s", doctorID, date, startTime)
}

// emergencyLockKey scopes the emergency-busy check to one doctor.
func emergencyLockKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("emergency:%s", doctorID)
}

// BookScheduled reserves a consultation slot. The existence check and the
// insert run inside a per-slot exclusive lock: of N concurrent attempts on
// the same tuple exactly one succeeds, the rest get ErrSlotConflict. The
// meeting is provisioned before the insert; if either fails nothing persists.
func (s *Service) BookScheduled(ctx context.Context, patientID, doctorID uuid.UUID, date, startTime, symptoms string) (*Appointment, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}
	if _, err := time.Parse(TimeLayout, startTime); err != nil {
		return nil, fmt.Errorf("%w: time must be HH:MM", ErrInvalidInput)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.Approved {
		return nil, ErrDoctorUnavailable
	}

	var created *Appointment

	err = s.locker.WithKeyLock(ctx, slotLockKey(doctorID, date, startTime), func(lockCtx context.Context) error {
		existing, err := s.repo.ActiveAppointmentAt(lockCtx, doctorID, date, startTime)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check slot: %w", err)
		}
		if existing != nil {
			return ErrSlotConflict
		}

		m, err := s.meetings.CreateScheduledMeeting(lockCtx, date, startTime, doctor.Name, scheduledMeetingMinutes)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMeetingFailed, err)
		}

		appt := &Appointment{
			ID:        uuid.New(),
			PatientID: patientID,
			DoctorID:  doctorID,
			Date:      date,
			StartTime: startTime,
			Type:      TypeScheduled,
			Status:    StatusConfirmed,
			MeetingID: m.MeetingID,
			JoinURL:   m.JoinURL,
			StartURL:  m.StartURL,
			Symptoms:  symptoms,
		}
		pay := &Payment{
			ID:            uuid.New(),
			AppointmentID: appt.ID,
			PatientID:     patientID,
			DoctorID:      doctorID,
			Amount:        doctor.ConsultationFee,
			Status:        PaymentCompleted,
		}

		if err := s.repo.CreateAppointmentWithPayment(lockCtx, appt, pay); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt
		return nil
	})
	if err != nil {
		s.countBooking(TypeScheduled, err)
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrBookingContended
		}
		return nil, err
	}

	s.countBooking(TypeScheduled, nil)
	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", doctorID.String()).
		Str("date", date).
		Str("time", startTime).
		Msg("scheduled appointment booked")

	return created, nil
}

// BookEmergency starts an immediate consultation. A doctor can hold at most
// one in-progress emergency at a time; the check-then-insert runs under a
// per-doctor lock. Chat and video unlock immediately, bypassing the daily
// sweep. Returns the doctor's phone number for the escalation path.
func (s *Service) BookEmergency(ctx context.Context, patientID, doctorID uuid.UUID, symptoms string) (*Appointment, string, error) {
	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, "", err
	}
	if !doctor.Approved {
		return nil, "", ErrDoctorUnavailable
	}

	var created *Appointment

	err = s.locker.WithKeyLock(ctx, emergencyLockKey(doctorID), func(lockCtx context.Context) error {
		existing, err := s.repo.ActiveEmergencyFor(lockCtx, doctorID)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check emergency state: %w", err)
		}
		if existing != nil {
			return ErrDoctorBusy
		}

		m, err := s.meetings.CreateInstantMeeting(lockCtx, doctor.Name)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMeetingFailed, err)
		}

		now := s.now().In(s.loc)
		appt := &Appointment{
			ID:            uuid.New(),
			PatientID:     patientID,
			DoctorID:      doctorID,
			Date:          now.Format(DateLayout),
			StartTime:     now.Format(TimeLayout),
			Type:          TypeEmergency,
			Status:        StatusInProgress,
			ChatUnlocked:  true,
			VideoUnlocked: true,
			MeetingID:     m.MeetingID,
			JoinURL:       m.JoinURL,
			StartURL:      m.StartURL,
			Symptoms:      symptoms,
		}
		pay := &Payment{
			ID:            uuid.New(),
			AppointmentID: appt.ID,
			PatientID:     patientID,
			DoctorID:      doctorID,
			Amount:        doctor.EmergencyFee,
			Status:        PaymentCompleted,
		}

		if err := s.repo.CreateAppointmentWithPayment(lockCtx, appt, pay); err != nil {
			return fmt.Errorf("create emergency appointment: %w", err)
		}

		created = appt
		return nil
	})
	if err != nil {
		s.countBooking(TypeEmergency, err)
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, "", ErrBookingContended
		}
		return nil, "", err
	}

	s.countBooking(TypeEmergency, nil)
	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", doctorID.String()).
		Msg("emergency appointment started")

	return created, doctor.Phone, nil
}

func (s *Service) countBooking(t AppointmentType, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrSlotConflict):
		outcome = "slot_conflict"
	case errors.Is(err, ErrDoctorBusy):
		outcome = "doctor_busy"
	case errors.Is(err, ErrBookingContended), errors.Is(err, redisclient.ErrLockNotAcquired):
		outcome = "contended"
	case errors.Is(err, ErrMeetingFailed):
		outcome = "meeting_failed"
	default:
		outcome = "error"
	}
	s.metrics.BookingsTotal.WithLabelValues(string(t), outcome).Inc()
}
