package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	meetingTypeInstant   = 1
	meetingTypeScheduled = 2
)

// ZoomClient implements Provider against the Zoom REST API using
// server-to-server OAuth. All outbound calls go through a circuit breaker so
// a degraded provider fails bookings fast instead of tying up request
// goroutines inside the booking lock.
type ZoomClient struct {
	httpClient   *http.Client
	apiBaseURL   string
	oauthURL     string
	accountID    string
	clientID     string
	clientSecret string

	breaker *gobreaker.CircuitBreaker[*Meeting]

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

type ZoomConfig struct {
	APIBaseURL   string
	OAuthURL     string
	AccountID    string
	ClientID     string
	ClientSecret string
}

func NewZoomClient(cfg ZoomConfig) *ZoomClient {
	return &ZoomClient{
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		apiBaseURL:   cfg.APIBaseURL,
		oauthURL:     cfg.OAuthURL,
		accountID:    cfg.AccountID,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		breaker: gobreaker.NewCircuitBreaker[*Meeting](gobreaker.Settings{
			Name:        "meeting-provider",
			MaxRequests: 3,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (z *ZoomClient) CreateScheduledMeeting(ctx context.Context, date, startTime, hostLabel string, durationMinutes int) (*Meeting, error) {
	payload := map[string]any{
		"topic":      fmt.Sprintf("Medical Consultation - %s", hostLabel),
		"type":       meetingTypeScheduled,
		"start_time": fmt.Sprintf("%sT%s:00", date, startTime),
		"duration":   durationMinutes,
		"settings": map[string]any{
			"host_video":        true,
			"participant_video": true,
			"join_before_host":  false,
			"waiting_room":      false,
		},
	}
	return z.createMeeting(ctx, payload)
}

func (z *ZoomClient) CreateInstantMeeting(ctx context.Context, hostLabel string) (*Meeting, error) {
	payload := map[string]any{
		"topic": fmt.Sprintf("Emergency Consultation - %s", hostLabel),
		"type":  meetingTypeInstant,
		"settings": map[string]any{
			"host_video":        true,
			"participant_video": true,
			"join_before_host":  false,
			"waiting_room":      false,
		},
	}
	return z.createMeeting(ctx, payload)
}

func (z *ZoomClient) createMeeting(ctx context.Context, payload map[string]any) (*Meeting, error) {
	m, err := z.breaker.Execute(func() (*Meeting, error) {
		return z.doCreateMeeting(ctx, payload)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return m, nil
}

func (z *ZoomClient) doCreateMeeting(ctx context.Context, payload map[string]any) (*Meeting, error) {
	token, err := z.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal meeting payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.apiBaseURL+"/users/me/meetings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := z.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create meeting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("create meeting: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		ID       json.Number `json:"id"`
		JoinURL  string      `json:"join_url"`
		StartURL string      `json:"start_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode meeting response: %w", err)
	}

	return &Meeting{
		MeetingID: out.ID.String(),
		JoinURL:   out.JoinURL,
		StartURL:  out.StartURL,
	}, nil
}

// getAccessToken returns a cached OAuth token, refreshing it when it is
// within a minute of expiry.
func (z *ZoomClient) getAccessToken(ctx context.Context) (string, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.accessToken != "" && time.Now().Before(z.tokenExpiry.Add(-time.Minute)) {
		return z.accessToken, nil
	}

	url := fmt.Sprintf("%s?grant_type=account_credentials&account_id=%s", z.oauthURL, z.accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(z.clientID, z.clientSecret)

	resp, err := z.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch access token: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("fetch access token: empty token")
	}

	z.accessToken = out.AccessToken
	z.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)

	return z.accessToken, nil
}
