package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestZoom(t *testing.T, apiHandler http.HandlerFunc) (*ZoomClient, *atomic.Int64) {
	t.Helper()

	var tokenCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		if user, pass, ok := r.BasicAuth(); !ok || user != "client-id" || pass != "client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-token",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/api/users/me/meetings", apiHandler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewZoomClient(ZoomConfig{
		APIBaseURL:   srv.URL + "/api",
		OAuthURL:     srv.URL + "/oauth/token",
		AccountID:    "account-id",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	}), &tokenCalls
}

func TestCreateScheduledMeeting(t *testing.T) {
	var gotPayload map[string]any

	client, tokenCalls := newTestZoom(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        87234592345,
			"join_url":  "https://example.com/j/87234592345",
			"start_url": "https://example.com/s/87234592345",
		})
	})

	m, err := client.CreateScheduledMeeting(context.Background(), "2026-09-14", "09:30", "Dr. Okafor", 30)
	if err != nil {
		t.Fatalf("create scheduled meeting: %v", err)
	}

	if m.MeetingID != "87234592345" {
		t.Errorf("meeting id = %q", m.MeetingID)
	}
	if m.JoinURL == "" || m.StartURL == "" {
		t.Errorf("missing urls: %+v", m)
	}
	if gotPayload["start_time"] != "2026-09-14T09:30:00" {
		t.Errorf("start_time = %v", gotPayload["start_time"])
	}
	if gotPayload["type"] != float64(meetingTypeScheduled) {
		t.Errorf("type = %v", gotPayload["type"])
	}

	// Second call reuses the cached token.
	if _, err := client.CreateInstantMeeting(context.Background(), "Dr. Okafor"); err != nil {
		t.Fatalf("create instant meeting: %v", err)
	}
	if n := tokenCalls.Load(); n != 1 {
		t.Errorf("token endpoint called %d times, want 1", n)
	}
}

func TestCreateMeetingProviderError(t *testing.T) {
	client, _ := newTestZoom(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.CreateInstantMeeting(context.Background(), "Dr. Okafor")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var apiCalls atomic.Int64
	client, _ := newTestZoom(t, func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 8; i++ {
		_, err := client.CreateInstantMeeting(context.Background(), "Dr. Okafor")
		if !errors.Is(err, ErrProviderUnavailable) {
			t.Fatalf("call %d: expected ErrProviderUnavailable, got %v", i, err)
		}
	}

	// The breaker trips after 5 consecutive failures, so later calls never
	// reach the upstream API.
	if n := apiCalls.Load(); n != 5 {
		t.Errorf("upstream called %d times, want 5", n)
	}
}
