// seed fills a development database with doctors, weekly availability, and
// patients, and prints a few ready-to-use bearer tokens.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/telehealth-backend/internal/db"
	"github.com/carelink/telehealth-backend/internal/identity"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 8)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctors(context.Background(), pool, 40)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	patientIDs, err := seedPatients(context.Background(), pool, 2000)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	printSampleTokens(doctorIDs, patientIDs)
	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		consultation := float64(gofakeit.Number(30, 120))
		emergency := consultation + float64(gofakeit.Number(50, 200))

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialization, consultation_fee, emergency_fee, phone, is_approved, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE, now(), now())
		`, id,
			"Dr. "+gofakeit.Name(),
			specialties[gofakeit.Number(0, len(specialties)-1)],
			consultation,
			emergency,
			gofakeit.Phone(),
		)
		if err != nil {
			return nil, err
		}

		if err := seedAvailability(ctx, tx, id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
	return ids, nil
}

// seedAvailability gives a doctor a plausible weekday schedule: a morning
// window every weekday and an afternoon window on some of them.
func seedAvailability(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID) error {
	for day := 1; day <= 5; day++ {
		slotMinutes := []int{15, 20, 30}[gofakeit.Number(0, 2)]

		_, err := tx.Exec(ctx, `
			INSERT INTO availability (id, doctor_id, day_of_week, start_time, end_time, slot_minutes)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New(), doctorID, day, "09:00", "12:00", slotMinutes)
		if err != nil {
			return err
		}

		if gofakeit.Bool() {
			_, err = tx.Exec(ctx, `
				INSERT INTO availability (id, doctor_id, day_of_week, start_time, end_time, slot_minutes)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, uuid.New(), doctorID, day, "14:00", "17:00", slotMinutes)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d patients", count)

	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, name, email, role, created_at, updated_at)
				VALUES ($1, $2, $3, 'patient', now(), now())
			`, id, gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		log.Printf("patients seeded: %d/%d", end, count)
	}

	return ids, nil
}

// printSampleTokens mints dev tokens when JWT_SECRET is set, so booked flows
// can be exercised with curl right after seeding.
func printSampleTokens(doctorIDs, patientIDs []uuid.UUID) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return
	}

	mint := func(id uuid.UUID, role string) {
		token, err := identity.MintToken(identity.Identity{ID: id, Role: role}, secret, 24*time.Hour)
		if err != nil {
			log.Printf("mint %s token: %v", role, err)
			return
		}
		log.Printf("%s %s token: %s", role, id, token)
	}

	mint(uuid.New(), identity.RoleAdmin)
	if len(doctorIDs) > 0 {
		mint(doctorIDs[0], identity.RoleDoctor)
	}
	if len(patientIDs) > 0 {
		mint(patientIDs[0], identity.RolePatient)
	}
}
