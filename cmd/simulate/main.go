// simulate drives concurrent booking traffic against a running api-server to
// observe contention behavior: many patients fighting over a deliberately
// small set of slots. Success plus conflict counts should always add up with
// no double-bookings; the report shows the ratio and latency percentiles.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/telehealth-backend/internal/config"
	"github.com/carelink/telehealth-backend/internal/db"
	"github.com/carelink/telehealth-backend/internal/identity"
)

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	ScheduledRatio float64
	EmergencyRatio float64
	ReadRatio      float64
	DoctorLimit    int
	Patients       int
	Days           int
	PostgresDSN    string
	JWTSecret      string
}

// slotTarget is one bookable (doctor, date, time) tuple.
type slotTarget struct {
	DoctorID uuid.UUID
	Date     string
	Time     string
}

type patient struct {
	ID    uuid.UUID
	Token string
}

type DataPool struct {
	Doctors  []uuid.UUID
	Slots    []slotTarget
	Patients []patient

	mu           sync.RWMutex
	appointments []appointmentRef
}

type appointmentRef struct {
	ID    uuid.UUID
	Owner patient
}

func (dp *DataPool) AddAppointment(id uuid.UUID, owner patient) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, appointmentRef{ID: id, Owner: owner})
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (appointmentRef, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return appointmentRef{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total    int64
	Success  int64
	Conflict int64
	Error    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0, 0
	}

	sorted := make([]time.Duration, len(om.latencies))
	copy(sorted, om.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}

	avg = sum / time.Duration(len(sorted))
	p50 = sorted[len(sorted)*50/100]
	p95idx := len(sorted) * 95 / 100
	if p95idx >= len(sorted) {
		p95idx = len(sorted) - 1
	}
	p95 = sorted[p95idx]
	max = sorted[len(sorted)-1]
	return avg, p50, p95, max
}

type Metrics struct {
	Scheduled OperationMetrics
	Emergency OperationMetrics
	Reads     OperationMetrics
	Cancels   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadSimConfig()

	log.Printf("config: duration=%s workers=%d scheduled=%.2f emergency=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.ScheduledRatio, cfg.EmergencyRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 8)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	pool, err := buildDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("build data pool: %v", err)
	}
	log.Printf("loaded: %d doctors, %d slot targets, %d simulated patients",
		len(pool.Doctors), len(pool.Slots), len(pool.Patients))

	sim := &Simulator{
		config: cfg,
		pool:   pool,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	sim.Run()
	sim.PrintReport()
}

func loadSimConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:     getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 20),
		ScheduledRatio: getFloat("SIM_SCHEDULED_RATIO", 0.5),
		EmergencyRatio: getFloat("SIM_EMERGENCY_RATIO", 0.1),
		ReadRatio:      getFloat("SIM_READ_RATIO", 0.4),
		DoctorLimit:    getInt("SIM_DOCTOR_LIMIT", 5),
		Patients:       getInt("SIM_PATIENTS", 200),
		Days:           getInt("SIM_DAYS", 3),
		PostgresDSN:    baseCfg.PostgresDSN,
		JWTSecret:      baseCfg.JWTSecret,
	}

	total := cfg.ScheduledRatio + cfg.EmergencyRatio + cfg.ReadRatio
	if total > 0 {
		cfg.ScheduledRatio /= total
		cfg.EmergencyRatio /= total
		cfg.ReadRatio /= total
	}
	if cfg.Workers <= 0 {
		log.Fatal("SIM_WORKERS must be > 0")
	}
	return cfg
}

// buildDataPool picks a handful of approved doctors and targets their
// morning slots over the next few days. Keeping the doctor set small is the
// point: high contention per slot is what exercises the lock path.
func buildDataPool(ctx context.Context, pgPool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	pool := &DataPool{}

	rows, err := pgPool.Query(ctx, `
		SELECT id FROM doctors WHERE is_approved = TRUE LIMIT $1
	`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		pool.Doctors = append(pool.Doctors, id)
	}
	if len(pool.Doctors) == 0 {
		return nil, fmt.Errorf("no approved doctors; run the seed tool first")
	}

	times := []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}
	for day := 1; day <= cfg.Days; day++ {
		date := time.Now().AddDate(0, 0, day).Format("2006-01-02")
		for _, doctorID := range pool.Doctors {
			for _, at := range times {
				pool.Slots = append(pool.Slots, slotTarget{DoctorID: doctorID, Date: date, Time: at})
			}
		}
	}

	for i := 0; i < cfg.Patients; i++ {
		id := uuid.New()
		token, err := identity.MintToken(identity.Identity{ID: id, Role: identity.RolePatient}, cfg.JWTSecret, 2*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("mint patient token: %w", err)
		}
		pool.Patients = append(pool.Patients, patient{ID: id, Token: token})
	}

	return pool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("running for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.ScheduledRatio:
				s.doScheduledBooking(ctx, rng)
			case r < s.config.ScheduledRatio+s.config.EmergencyRatio:
				s.doEmergencyBooking(ctx, rng)
			default:
				if rng.Intn(4) == 0 {
					s.doCancel(ctx, rng)
				} else {
					s.doRead(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doScheduledBooking(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	p := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	body, _ := json.Marshal(map[string]string{
		"doctor_id": slot.DoctorID.String(),
		"date":      slot.Date,
		"time":      slot.Time,
		"symptoms":  "load test",
	})

	start := time.Now()
	resp, err := s.post(ctx, p, "/api/appointments", body)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		success = resp.StatusCode == http.StatusCreated
		conflict = resp.StatusCode == http.StatusConflict
		if success {
			var created struct {
				ID uuid.UUID `json:"id"`
			}
			raw, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(raw, &created) == nil && created.ID != uuid.Nil {
				s.pool.AddAppointment(created.ID, p)
			}
		}
		resp.Body.Close()
	}
	s.metrics.Scheduled.Record(latency, success, conflict)
}

func (s *Simulator) doEmergencyBooking(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	p := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	body, _ := json.Marshal(map[string]string{
		"doctor_id": doctorID.String(),
		"symptoms":  "load test emergency",
	})

	start := time.Now()
	resp, err := s.post(ctx, p, "/api/appointments/emergency", body)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		success = resp.StatusCode == http.StatusCreated
		conflict = resp.StatusCode == http.StatusConflict
		if success {
			var created struct {
				ID uuid.UUID `json:"id"`
			}
			raw, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(raw, &created) == nil && created.ID != uuid.Nil {
				s.pool.AddAppointment(created.ID, p)
			}
		}
		resp.Body.Close()
	}
	s.metrics.Emergency.Record(latency, success, conflict)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	ref, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.get(ctx, ref.Owner, "/api/appointments/"+ref.ID.String())
	latency := time.Since(start)

	success := false
	if err == nil {
		success = resp.StatusCode == http.StatusOK
		resp.Body.Close()
	}
	s.metrics.Reads.Record(latency, success, false)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	ref, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.post(ctx, ref.Owner, "/api/appointments/"+ref.ID.String()+"/cancel", nil)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
		resp.Body.Close()
	}
	s.metrics.Cancels.Record(latency, success, conflict)
}

func (s *Simulator) post(ctx context.Context, p patient, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.Token)
	return s.client.Do(req)
}

func (s *Simulator) get(ctx context.Context, p patient, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.Token)
	return s.client.Do(req)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n================ SIMULATION REPORT ================")
	fmt.Printf("Duration: %s  Workers: %d  Slot targets: %d\n\n",
		s.config.Duration, s.config.Workers, len(s.pool.Slots))

	printOperationReport("Scheduled bookings", &s.metrics.Scheduled)
	printOperationReport("Emergency bookings", &s.metrics.Emergency)
	printOperationReport("Reads", &s.metrics.Reads)
	printOperationReport("Cancels", &s.metrics.Cancels)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errs := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  total=%d success=%d (%.1f%%)", total, success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf(" conflict=%d (%.1f%%)", conflict, float64(conflict)/float64(total)*100)
	}
	if errs > 0 {
		fmt.Printf(" errors=%d (%.1f%%)", errs, float64(errs)/float64(total)*100)
	}
	fmt.Printf("\n  latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
