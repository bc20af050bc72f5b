package clinic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/telehealth-backend/internal/identity"
)

// CreateDoctor registers a doctor profile. Admin only. The emergency fee must
// exceed the consultation fee; doctors start unapproved and cannot be booked
// until an admin approves them.
func (s *Service) CreateDoctor(ctx context.Context, actor identity.Identity, d *Doctor) (*Doctor, error) {
	if !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if strings.TrimSpace(d.Name) == "" {
		return nil, fmt.Errorf("%w: doctor name is required", ErrInvalidInput)
	}
	if d.ConsultationFee <= 0 || d.EmergencyFee <= 0 {
		return nil, fmt.Errorf("%w: fees must be positive", ErrInvalidInput)
	}
	if d.ConsultationFee >= d.EmergencyFee {
		return nil, fmt.Errorf("%w: emergency fee must exceed consultation fee", ErrInvalidInput)
	}

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.Approved = false

	if err := s.repo.CreateDoctor(ctx, d); err != nil {
		return nil, fmt.Errorf("create doctor: %w", err)
	}

	s.log.Info().Str("doctor_id", d.ID.String()).Msg("doctor created")
	return d, nil
}

// SetDoctorApproval toggles whether a doctor can receive bookings. Admin only.
func (s *Service) SetDoctorApproval(ctx context.Context, actor identity.Identity, doctorID uuid.UUID, approved bool) error {
	if !actor.IsAdmin() {
		return ErrUnauthorized
	}
	if err := s.repo.SetDoctorApproval(ctx, doctorID, approved); err != nil {
		return err
	}

	s.log.Info().Str("doctor_id", doctorID.String()).Bool("approved", approved).Msg("doctor approval set")
	return nil
}

// SetWeeklyAvailability replaces a doctor's recurring schedule wholesale:
// existing rows are deleted and the new ones inserted in one transaction,
// never merged. Admin only.
func (s *Service) SetWeeklyAvailability(ctx context.Context, actor identity.Identity, doctorID uuid.UUID, rows []Availability) error {
	if !actor.IsAdmin() {
		return ErrUnauthorized
	}
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return err
	}

	for i := range rows {
		start, err1 := parseClock(rows[i].StartTime)
		end, err2 := parseClock(rows[i].EndTime)
		if err1 != nil || err2 != nil {
			return fmt.Errorf("%w: times must be HH:MM", ErrInvalidInput)
		}
		if start >= end {
			return fmt.Errorf("%w: start must be before end", ErrInvalidInput)
		}
		if rows[i].SlotMinutes <= 0 {
			return fmt.Errorf("%w: slot duration must be positive", ErrInvalidInput)
		}
		if rows[i].DayOfWeek < time.Sunday || rows[i].DayOfWeek > time.Saturday {
			return fmt.Errorf("%w: unknown day of week", ErrInvalidInput)
		}
		if rows[i].ID == uuid.Nil {
			rows[i].ID = uuid.New()
		}
		rows[i].DoctorID = doctorID
	}

	if err := s.repo.ReplaceAvailability(ctx, doctorID, rows); err != nil {
		return fmt.Errorf("replace availability: %w", err)
	}

	s.log.Info().Str("doctor_id", doctorID.String()).Int("windows", len(rows)).Msg("weekly availability replaced")
	return nil
}

// ListDoctors returns the approved doctors patients can browse.
func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	return s.repo.ListApprovedDoctors(ctx)
}

// GetDoctor returns one doctor together with their weekly availability.
func (s *Service) GetDoctor(ctx context.Context, doctorID uuid.UUID) (*Doctor, []Availability, error) {
	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, nil, err
	}

	avail, err := s.repo.ListAvailability(ctx, doctorID)
	if err != nil {
		return nil, nil, fmt.Errorf("load availability: %w", err)
	}

	return doctor, avail, nil
}
