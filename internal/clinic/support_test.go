package clinic

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/telehealth-backend/internal/meeting"
	"github.com/carelink/telehealth-backend/internal/metrics"
)

// memRepo is an in-memory Repository with the same predicate semantics as
// the SQL implementation, so service behavior can be exercised without a
// database.
type memRepo struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]*Doctor
	availability map[uuid.UUID][]Availability
	appointments map[uuid.UUID]*Appointment
	payments     []Payment
	messages     []Message
	nextSeq      int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		doctors:      make(map[uuid.UUID]*Doctor),
		availability: make(map[uuid.UUID][]Availability),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (r *memRepo) addDoctor(approved bool) *Doctor {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := &Doctor{
		ID:              uuid.New(),
		Name:            "Dr. Test",
		Specialization:  "General Practice",
		ConsultationFee: 50,
		EmergencyFee:    120,
		Phone:           "+1-555-0100",
		Approved:        approved,
	}
	r.doctors[d.ID] = d
	return d
}

func (r *memRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memRepo) ListApprovedDoctors(_ context.Context) ([]Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Doctor
	for _, d := range r.doctors {
		if d.Approved {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memRepo) CreateDoctor(_ context.Context, d *Doctor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.doctors[d.ID] = &cp
	return nil
}

func (r *memRepo) SetDoctorApproval(_ context.Context, id uuid.UUID, approved bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return ErrDoctorNotFound
	}
	d.Approved = approved
	return nil
}

func (r *memRepo) ReplaceAvailability(_ context.Context, doctorID uuid.UUID, rows []Availability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.availability[doctorID] = append([]Availability(nil), rows...)
	return nil
}

func (r *memRepo) ListAvailability(_ context.Context, doctorID uuid.UUID) ([]Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := append([]Availability(nil), r.availability[doctorID]...)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].DayOfWeek != rows[j].DayOfWeek {
			return rows[i].DayOfWeek < rows[j].DayOfWeek
		}
		return rows[i].StartTime < rows[j].StartTime
	})
	return rows, nil
}

func (r *memRepo) ListAvailabilityForDay(_ context.Context, doctorID uuid.UUID, day time.Weekday) ([]Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Availability
	for _, a := range r.availability[doctorID] {
		if a.DayOfWeek == day {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (r *memRepo) ListBookedTimes(_ context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Date == date && a.Status != StatusCancelled {
			out = append(out, a.StartTime)
		}
	}
	return out, nil
}

func (r *memRepo) ActiveAppointmentAt(_ context.Context, doctorID uuid.UUID, date, startTime string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Date == date && a.StartTime == startTime &&
			a.Type == TypeScheduled && a.Status != StatusCancelled {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepo) ActiveEmergencyFor(_ context.Context, doctorID uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Type == TypeEmergency && a.Status == StatusInProgress {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepo) CreateAppointmentWithPayment(_ context.Context, a *Appointment, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	cp := *a
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.appointments[a.ID] = &cp
	r.payments = append(r.payments, *p)
	return nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) ListAppointmentsByDoctor(_ context.Context, doctorID uuid.UUID) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrStatusConflict
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *memRepo) CancelAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status == StatusCompleted {
		return nil, ErrStatusConflict
	}
	a.Status = StatusCancelled
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *memRepo) UnlockDueScheduled(_ context.Context, today string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.appointments {
		if a.Type == TypeScheduled && a.Date <= today && !a.ChatUnlocked {
			a.ChatUnlocked = true
			a.VideoUnlocked = true
			n++
		}
	}
	return n, nil
}

func (r *memRepo) InsertMessage(_ context.Context, m *Message) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	cp := *m
	cp.Seq = r.nextSeq
	cp.SentAt = time.Now()
	r.messages = append(r.messages, cp)
	out := cp
	return &out, nil
}

func (r *memRepo) RecentMessages(_ context.Context, appointmentID uuid.UUID, limit int) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if m.AppointmentID == appointmentID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// memLocker serializes critical sections with a blocking per-key mutex, the
// same contract the Redis locker provides under its wait budget.
type memLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *memLocker) WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// fakeMeetings hands out deterministic meetings, or fails every call when
// fail is set.
type fakeMeetings struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (f *fakeMeetings) next(kind string) (*meeting.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.calls++
	id := fmt.Sprintf("%s-%d", kind, f.calls)
	return &meeting.Meeting{
		MeetingID: id,
		JoinURL:   "https://meet.example.com/j/" + id,
		StartURL:  "https://meet.example.com/s/" + id,
	}, nil
}

func (f *fakeMeetings) CreateScheduledMeeting(_ context.Context, _, _, _ string, _ int) (*meeting.Meeting, error) {
	return f.next("sched")
}

func (f *fakeMeetings) CreateInstantMeeting(_ context.Context, _ string) (*meeting.Meeting, error) {
	return f.next("instant")
}

func newTestService(repo *memRepo) *Service {
	return NewService(repo, newMemLocker(), &fakeMeetings{}, time.UTC, zerolog.Nop(), metrics.NewCollector("test"))
}
