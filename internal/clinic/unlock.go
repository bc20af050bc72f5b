package clinic

import (
	"context"
	"fmt"
)

// UnlockDueAppointments flips chat and video access for every scheduled
// appointment dated today or earlier that is still locked, in one bulk
// update. The predicate excludes already-unlocked rows, so the sweep is
// idempotent, and it is date-based rather than tick-based, so a missed run
// self-heals on the next one. Emergency appointments never appear here; they
// unlock at creation.
//
// "Today" is resolved in the service's appointment-local timezone. A UTC
// server sweeping at local midnight would otherwise still be on the previous
// date and unlock nothing until the next run.
func (s *Service) UnlockDueAppointments(ctx context.Context) (int64, error) {
	today := s.now().In(s.loc).Format(DateLayout)

	n, err := s.repo.UnlockDueScheduled(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("unlock sweep: %w", err)
	}

	s.metrics.UnlockedAppointments.Add(float64(n))
	s.log.Info().Str("date", today).Int64("unlocked", n).Msg("unlock sweep complete")

	return n, nil
}
