// Package meeting provisions video-consultation meetings through an external
// provider. The booking core only depends on the Provider interface; a failed
// provisioning call aborts the enclosing booking transaction.
package meeting

import (
	"context"
	"errors"
)

var ErrProviderUnavailable = errors.New("meeting provider unavailable")

type Meeting struct {
	MeetingID string
	JoinURL   string
	StartURL  string
}

type Provider interface {
	// CreateScheduledMeeting provisions a meeting starting at the given local
	// date ("2006-01-02") and time ("15:04").
	CreateScheduledMeeting(ctx context.Context, date, startTime, hostLabel string, durationMinutes int) (*Meeting, error)

	// CreateInstantMeeting provisions a meeting that starts immediately.
	CreateInstantMeeting(ctx context.Context, hostLabel string) (*Meeting, error)
}
