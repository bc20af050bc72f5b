// Package clinic implements the appointment core: slot derivation, booking
// with per-key mutual exclusion, the appointment lifecycle, the daily unlock
// sweep, and the shared chat-access check used by both the REST and the
// real-time messaging paths.
package clinic

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/telehealth-backend/internal/meeting"
	"github.com/carelink/telehealth-backend/internal/metrics"
	redisclient "github.com/carelink/telehealth-backend/internal/redis"
)

type Service struct {
	repo     Repository
	locker   redisclient.KeyLocker
	meetings meeting.Provider
	loc      *time.Location
	log      zerolog.Logger
	metrics  *metrics.Collector

	now func() time.Time // injectable clock for date-dependent logic
}

// NewService wires the appointment core. loc is the appointment-local
// timezone: "today" for the unlock sweep and the date stamped on emergency
// bookings are computed in it, not in the server's zone. nil means local.
func NewService(repo Repository, locker redisclient.KeyLocker, meetings meeting.Provider, loc *time.Location, log zerolog.Logger, m *metrics.Collector) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		meetings: meetings,
		loc:      loc,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}
