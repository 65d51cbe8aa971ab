package qstash

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

func TestPublishJSONSetsAuthAndDelay(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth, gotDelay string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotDelay = r.Header.Get("Upstash-Delay")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{URL: server.URL, Token: "tok", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if err := client.PublishJSON(context.Background(), "https://example.com/hook", 90*time.Second, map[string]string{"k": "v"}); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	if !strings.HasPrefix(gotPath, "/v2/publish/") {
		t.Fatalf("path = %q, want /v2/publish/ prefix", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotDelay != "90s" {
		t.Fatalf("delay = %q, want 90s", gotDelay)
	}
}

func TestReminderPublisherDelaysUntilLeadBeforeStart(t *testing.T) {
	t.Parallel()

	var gotDelay string
	var gotPayload reminderPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDelay = r.Header.Get("Upstash-Delay")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg := Config{
		URL:            server.URL,
		Token:          "tok",
		DestinationURL: "https://example.com/hook",
		ReminderLead:   30 * time.Minute,
	}
	publisher, err := NewReminderPublisher(MustNew(cfg), cfg)
	if err != nil {
		t.Fatalf("NewReminderPublisher() error = %v", err)
	}

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	publisher.now = func() time.Time { return now }

	start := now.Add(2 * time.Hour)
	err = publisher.PublishReminder(context.Background(), contractx.AppointmentRecord{
		EventID: "evt-1",
		Window:  statex.TimeWindow{Start: start, End: start.Add(30 * time.Minute), Timezone: "UTC"},
		Status:  contractx.StatusScheduled,
	})
	if err != nil {
		t.Fatalf("PublishReminder() error = %v", err)
	}

	if gotDelay != "5400s" {
		t.Fatalf("delay = %q, want 5400s (90 minutes)", gotDelay)
	}
	if gotPayload.EventID != "evt-1" {
		t.Fatalf("payload event id = %q", gotPayload.EventID)
	}
}
