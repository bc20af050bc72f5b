package clinic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AvailableSlots derives the bookable start times for a doctor on a date:
// the doctor's availability windows for that weekday, cut into slot-duration
// steps, minus times already taken by non-cancelled appointments. A date with
// no availability rows yields an empty list, not an error.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}

	rows, err := s.repo.ListAvailabilityForDay(ctx, doctorID, day.Weekday())
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	if len(rows) == 0 {
		return []string{}, nil
	}

	booked, err := s.repo.ListBookedTimes(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load booked times: %w", err)
	}

	return ExpandSlots(rows, booked), nil
}

// ExpandSlots generates slot start times for each availability window and
// drops any whose start matches a booked time exactly. Rows are expected
// ordered by start time; windows that overlap produce their slots
// independently, without cross-row deduplication. Pure function.
func ExpandSlots(rows []Availability, booked []string) []string {
	taken := make(map[string]struct{}, len(booked))
	for _, b := range booked {
		taken[b] = struct{}{}
	}

	slots := []string{}
	for _, row := range rows {
		start, err1 := parseClock(row.StartTime)
		end, err2 := parseClock(row.EndTime)
		if err1 != nil || err2 != nil || row.SlotMinutes <= 0 {
			continue
		}

		for m := start; m < end; m += row.SlotMinutes {
			t := formatClock(m)
			if _, ok := taken[t]; !ok {
				slots = append(slots, t)
			}
		}
	}

	return slots
}

func parseClock(v string) (int, error) {
	t, err := time.Parse(TimeLayout, v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
