package clinic

import "errors"

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrDoctorUnavailable   = errors.New("doctor is not approved for appointments")
	ErrSlotConflict        = errors.New("slot already has an active appointment")
	ErrDoctorBusy          = errors.New("doctor is currently in an emergency call")
	ErrBookingContended    = errors.New("slot is currently being booked, please retry")
	ErrChatLocked          = errors.New("chat is locked until the appointment day")
	ErrUnauthorized        = errors.New("not a participant of this appointment")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrStatusConflict      = errors.New("appointment status changed concurrently, re-read and retry")
	ErrInvalidInput        = errors.New("invalid input")
	ErrMeetingFailed       = errors.New("meeting provisioning failed")
)
