package clinic

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation = "23505"

	slotUniqueIndex      = "appointments_active_slot_idx"
	emergencyUniqueIndex = "appointments_active_emergency_idx"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialization,
		&d.ConsultationFee,
		&d.EmergencyFee,
		&d.Phone,
		&d.Approved,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&a.StartTime,
		&a.Type,
		&a.Status,
		&a.ChatUnlocked,
		&a.VideoUnlocked,
		&a.MeetingID,
		&a.JoinURL,
		&a.StartURL,
		&a.Symptoms,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

// appointmentCols formats date and time as the wire strings the domain uses.
const appointmentCols = `
	id, patient_id, doctor_id,
	to_char(appointment_date, 'YYYY-MM-DD'),
	to_char(appointment_time, 'HH24:MI'),
	type, status, is_chat_unlocked, is_video_unlocked,
	meeting_id, join_url, start_url, symptoms, created_at, updated_at
`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message

	err := row.Scan(
		&m.Seq,
		&m.AppointmentID,
		&m.SenderID,
		&m.SenderRole,
		&m.Text,
		&m.FileURL,
		&m.SentAt,
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// Doctors

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialization, consultation_fee, emergency_fee, phone, is_approved, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListApprovedDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, specialization, consultation_fee, emergency_fee, phone, is_approved, created_at, updated_at
		FROM doctors
		WHERE is_approved = TRUE
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateDoctor(ctx context.Context, d *Doctor) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctors (id, name, specialization, consultation_fee, emergency_fee, phone, is_approved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
	`, d.ID, d.Name, d.Specialization, d.ConsultationFee, d.EmergencyFee, d.Phone, d.Approved)
	return err
}

func (r *PgRepository) SetDoctorApproval(ctx context.Context, id uuid.UUID, approved bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE doctors
		SET is_approved = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, approved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

// Availability

func (r *PgRepository) ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, rows []Availability) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM availability WHERE doctor_id = $1`, doctorID); err != nil {
		return err
	}

	for _, row := range rows {
		_, err := tx.Exec(ctx, `
			INSERT INTO availability (id, doctor_id, day_of_week, start_time, end_time, slot_minutes)
			VALUES ($1, $2, $3, $4::time, $5::time, $6)
		`, row.ID, doctorID, int(row.DayOfWeek), row.StartTime, row.EndTime, row.SlotMinutes)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) ListAvailability(ctx context.Context, doctorID uuid.UUID) ([]Availability, error) {
	return r.queryAvailability(ctx, `
		SELECT id, doctor_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), slot_minutes
		FROM availability
		WHERE doctor_id = $1
		ORDER BY day_of_week, start_time
	`, doctorID)
}

func (r *PgRepository) ListAvailabilityForDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday) ([]Availability, error) {
	return r.queryAvailability(ctx, `
		SELECT id, doctor_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), slot_minutes
		FROM availability
		WHERE doctor_id = $1 AND day_of_week = $2
		ORDER BY start_time
	`, doctorID, int(day))
}

func (r *PgRepository) queryAvailability(ctx context.Context, sql string, args ...any) ([]Availability, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Availability
	for rows.Next() {
		var a Availability
		var day int
		if err := rows.Scan(&a.ID, &a.DoctorID, &day, &a.StartTime, &a.EndTime, &a.SlotMinutes); err != nil {
			return nil, err
		}
		a.DayOfWeek = time.Weekday(day)
		result = append(result, a)
	}
	return result, rows.Err()
}

// Appointments

func (r *PgRepository) ListBookedTimes(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_char(appointment_time, 'HH24:MI')
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2::date
		  AND status <> 'cancelled'
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *PgRepository) ActiveAppointmentAt(ctx context.Context, doctorID uuid.UUID, date, startTime string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2::date
		  AND appointment_time = $3::time
		  AND type = 'scheduled'
		  AND status <> 'cancelled'
		LIMIT 1
	`, doctorID, date, startTime)
	return scanAppointment(row)
}

func (r *PgRepository) ActiveEmergencyFor(ctx context.Context, doctorID uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE doctor_id = $1
		  AND type = 'emergency'
		  AND status = 'in_progress'
		LIMIT 1
	`, doctorID)
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointmentWithPayment(ctx context.Context, a *Appointment, p *Payment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, appointment_date, appointment_time,
			type, status, is_chat_unlocked, is_video_unlocked,
			meeting_id, join_url, start_url, symptoms, created_at, updated_at
		) VALUES ($1, $2, $3, $4::date, $5::time, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
	`, a.ID, a.PatientID, a.DoctorID, a.Date, a.StartTime,
		a.Type, a.Status, a.ChatUnlocked, a.VideoUnlocked,
		a.MeetingID, a.JoinURL, a.StartURL, a.Symptoms)
	if err != nil {
		return mapUniqueViolation(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payments (id, appointment_id, patient_id, doctor_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, p.ID, p.AppointmentID, p.PatientID, p.DoctorID, p.Amount, p.Status)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// mapUniqueViolation turns a hit on one of the partial unique indexes into
// the matching domain error. The indexes back the booking invariant even if
// a caller bypasses the key lock.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case slotUniqueIndex:
			return ErrSlotConflict
		case emergencyUniqueIndex:
			return ErrDoctorBusy
		}
	}
	return err
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return r.queryAppointments(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, appointment_time DESC
	`, patientID)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error) {
	return r.queryAppointments(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY appointment_date DESC, appointment_time DESC
	`, doctorID)
}

func (r *PgRepository) queryAppointments(ctx context.Context, sql string, args ...any) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentCols+`
	`, id, to, from)
	a, err := scanAppointment(row)
	// The caller read the row moments ago, so no row matching means the
	// status moved underneath it, not that the appointment is gone.
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStatusConflict
	}
	return a, err
}

func (r *PgRepository) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    updated_at = now()
		WHERE id = $1
		  AND status <> 'completed'
		RETURNING `+appointmentCols+`
	`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStatusConflict
	}
	return a, err
}

func (r *PgRepository) UnlockDueScheduled(ctx context.Context, today string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET is_chat_unlocked = TRUE,
		    is_video_unlocked = TRUE,
		    updated_at = now()
		WHERE type = 'scheduled'
		  AND appointment_date <= $1::date
		  AND is_chat_unlocked = FALSE
	`, today)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Messages

func (r *PgRepository) InsertMessage(ctx context.Context, m *Message) (*Message, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO messages (appointment_id, sender_id, sender_role, message_text, file_url, sent_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING seq, appointment_id, sender_id, sender_role, message_text, file_url, sent_at
	`, m.AppointmentID, m.SenderID, m.SenderRole, m.Text, m.FileURL)
	return scanMessage(row)
}

func (r *PgRepository) RecentMessages(ctx context.Context, appointmentID uuid.UUID, limit int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT seq, appointment_id, sender_id, sender_role, message_text, file_url, sent_at
		FROM (
			SELECT seq, appointment_id, sender_id, sender_role, message_text, file_url, sent_at
			FROM messages
			WHERE appointment_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq ASC
	`, appointmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}
