package clinic

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	redisclient "github.com/carelink/telehealth-backend/internal/redis"
)

func TestBookScheduled(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	doctor := repo.addDoctor(true)
	patient := uuid.New()

	appt, err := svc.BookScheduled(context.Background(), patient, doctor.ID, "2026-09-07", "09:00", "headache")
	if err != nil {
		t.Fatalf("book scheduled: %v", err)
	}

	if appt.Status != StatusConfirmed {
		t.Errorf("status = %s, want confirmed", appt.Status)
	}
	if appt.Type != TypeScheduled {
		t.Errorf("type = %s, want scheduled", appt.Type)
	}
	if appt.ChatUnlocked || appt.VideoUnlocked {
		t.Errorf("scheduled booking must start locked, got chat=%v video=%v", appt.ChatUnlocked, appt.VideoUnlocked)
	}
	if appt.JoinURL == "" || appt.MeetingID == "" {
		t.Errorf("meeting fields not set: %+v", appt)
	}

	if len(repo.payments) != 1 {
		t.Fatalf("payments = %d, want 1", len(repo.payments))
	}
	pay := repo.payments[0]
	if pay.Amount != doctor.ConsultationFee {
		t.Errorf("payment amount = %v, want consultation fee %v", pay.Amount, doctor.ConsultationFee)
	}
	if pay.AppointmentID != appt.ID {
		t.Errorf("payment not tied to appointment")
	}
}

func TestBookScheduledDoctorChecks(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	unapproved := repo.addDoctor(false)

	_, err := svc.BookScheduled(context.Background(), uuid.New(), uuid.New(), "2026-09-07", "09:00", "")
	if !errors.Is(err, ErrDoctorNotFound) {
		t.Fatalf("missing doctor: got %v", err)
	}

	_, err = svc.BookScheduled(context.Background(), uuid.New(), unapproved.ID, "2026-09-07", "09:00", "")
	if !errors.Is(err, ErrDoctorUnavailable) {
		t.Fatalf("unapproved doctor: got %v", err)
	}
}

func TestBookScheduledSlotConflict(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	doctor := repo.addDoctor(true)

	if _, err := svc.BookScheduled(context.Background(), uuid.New(), doctor.ID, "2026-09-07", "09:00", ""); err != nil {
		t.Fatalf("first booking: %v", err)
	}

	_, err := svc.BookScheduled(context.Background(), uuid.New(), doctor.ID, "2026-09-07", "09:00", "")
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("second booking: got %v, want ErrSlotConflict", err)
	}

	// A different time on the same day is fine.
	if _, err := svc.BookScheduled(context.Background(), uuid.New(), doctor.ID, "2026-09-07", "09:30", ""); err != nil {
		t.Fatalf("different slot: %v", err)
	}
}

func TestBookScheduledConcurrentOneWinner(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	doctor := repo.addDoctor(true)

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.BookScheduled(context.Background(), uuid.New(), doctor.ID, "2026-09-07", "10:00", "")
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if wins != 1 || conflicts != n-1 {
		t.Fatalf("wins=%d conflicts=%d, want 1 and %d", wins, conflicts, n-1)
	}
}

func TestBookScheduledMeetingFailureLeavesNothing(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	doctor := repo.addDoctor(true)

	svc.meetings = &fakeMeetings{fail: errors.New("provider down")}

	_, err := svc.BookScheduled(context.Background(), uuid.New(), doctor.ID, "2026-09-07", "09:00", "")
	if !errors.Is(err, ErrMeetingFailed) {
		t.Fatalf("got %v, want ErrMeetingFailed", err)
	}

	if len(repo.appointments) != 0 || len(repo.payments) != 0 {
		t.Fatalf("orphan rows after failed provisioning: appts=%d payments=%d", len(repo.appointments), len(repo.payments))
	}

	// The slot stays bookable.
	svc.meetings = &fakeMeetings{}
	if _, err := svc.BookScheduled(context.Background(), uuid.New(), doctor.ID, "2026-09-07", "09:00", ""); err != nil {
		t.Fatalf("rebook after failure: %v", err)
	}
}

func TestBookEmergency(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	doctor := repo.addDoctor(true)
	patient := uuid.New()

	appt, phone, err := svc.BookEmergency(context.Background(), patient, doctor.ID, "chest pain")
	if err != nil {
		t.Fatalf("book emergency: %v", err)
	}

	if appt.Type != TypeEmergency || appt.Status != StatusInProgress {
		t.Errorf("type=%s status=%s, want emergency/in_progress", appt.Type, appt.Status)
	}
	if !appt.ChatUnlocked || !appt.VideoUnlocked {
		t.Errorf("emergency must unlock immediately, got chat=%v video=%v", appt.ChatUnlocked, appt.VideoUnlocked)
	}
	if phone != doctor.Phone {
		t.Errorf("phone = %q, want %q", phone, doctor.Phone)
	}
	if repo.payments[0].Amount != doctor.EmergencyFee {
		t.Errorf("payment amount = %v, want emergency fee %v", repo.payments[0].Amount, doctor.EmergencyFee)
	}
}

func TestBookEmergencyDoctorBusy(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	doctor := repo.addDoctor(true)

	first, _, err := svc.BookEmergency(context.Background(), uuid.New(), doctor.ID, "")
	if err != nil {
		t.Fatalf("first emergency: %v", err)
	}

	_, _, err = svc.BookEmergency(context.Background(), uuid.New(), doctor.ID, "")
	if !errors.Is(err, ErrDoctorBusy) {
		t.Fatalf("second emergency: got %v, want ErrDoctorBusy", err)
	}

	// Completing the call frees the doctor.
	if _, err := repo.UpdateAppointmentStatus(context.Background(), first.ID, StatusInProgress, StatusCompleted); err != nil {
		t.Fatalf("complete first: %v", err)
	}
	if _, _, err := svc.BookEmergency(context.Background(), uuid.New(), doctor.ID, ""); err != nil {
		t.Fatalf("emergency after completion: %v", err)
	}
}

func TestBookEmergencyConcurrentOneWinner(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	doctor := repo.addDoctor(true)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.BookEmergency(context.Background(), uuid.New(), doctor.ID, "")
		}(i)
	}
	wg.Wait()

	var wins, busy int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrDoctorBusy):
			busy++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if wins != 1 || busy != n-1 {
		t.Fatalf("wins=%d busy=%d, want 1 and %d", wins, busy, n-1)
	}
}

func TestCancellationFreesSlot(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	doctor := repo.addDoctor(true)
	patient := uuid.New()

	appt, err := svc.BookScheduled(context.Background(), patient, doctor.ID, "2026-09-07", "09:00", "")
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	if _, err := repo.CancelAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := svc.BookScheduled(context.Background(), uuid.New(), doctor.ID, "2026-09-07", "09:00", ""); err != nil {
		t.Fatalf("rebook cancelled slot: %v", err)
	}
}

// refusingLocker stands in for a locker whose wait deadline always passes,
// a slot so contended the attempt never gets its turn.
type refusingLocker struct{}

func (refusingLocker) WithKeyLock(context.Context, string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func TestBookingLockTimeoutIsRetryable(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	svc.locker = refusingLocker{}
	doctor := repo.addDoctor(true)

	_, err := svc.BookScheduled(context.Background(), uuid.New(), doctor.ID, "2026-09-07", "09:00", "")
	if !errors.Is(err, ErrBookingContended) {
		t.Fatalf("scheduled err = %v, want ErrBookingContended", err)
	}

	_, _, err = svc.BookEmergency(context.Background(), uuid.New(), doctor.ID, "")
	if !errors.Is(err, ErrBookingContended) {
		t.Fatalf("emergency err = %v, want ErrBookingContended", err)
	}

	// Neither attempt reached the store.
	if n := len(repo.appointments); n != 0 {
		t.Fatalf("appointments = %d, want 0", n)
	}
	if n := len(repo.payments); n != 0 {
		t.Fatalf("payments = %d, want 0", n)
	}
}
