package googlecal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

const maxResponseSizeBytes = 2 << 20

type Config struct {
	BaseURL     string        `envconfig:"BASE_URL" split_words:"true" default:"https://www.googleapis.com/calendar/v3"`
	AccessToken string        `envconfig:"ACCESS_TOKEN" split_words:"true" required:"true"`
	CalendarID  string        `envconfig:"CALENDAR_ID" split_words:"true" default:"primary"`
	Timeout     time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
}

// Client implements contract.CalendarGateway against the Google Calendar v3
// REST API. Create idempotency uses client-supplied event ids: inserting an id
// that already exists answers 409, which is read back as already-applied.
type Client struct {
	baseURL    string
	token      string
	calendarID string
	httpClient *http.Client
}

var _ contractx.CalendarGateway = (*Client)(nil)

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("google calendar base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid google calendar url: %w", err)
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("google calendar access token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := &Client{
		baseURL:    baseURL,
		token:      token,
		calendarID: strings.TrimSpace(cfg.CalendarID),
		httpClient: &http.Client{Timeout: timeout},
	}
	if client.calendarID == "" {
		client.calendarID = "primary"
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

func (c *Client) SupportsIdempotency() bool {
	return true
}

/* -------------------------------- payloads ------------------------------- */

type eventDateTime struct {
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type eventAttendee struct {
	Email string `json:"email"`
}

type eventResource struct {
	ID        string          `json:"id,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Status    string          `json:"status,omitempty"`
	Start     eventDateTime   `json:"start"`
	End       eventDateTime   `json:"end"`
	Attendees []eventAttendee `json:"attendees,omitempty"`
}

type eventListResponse struct {
	Items []eventResource `json:"items"`
}

/* ------------------------------- operations ------------------------------ */

func (c *Client) ListBusy(ctx context.Context, account string, window statex.TimeWindow) ([]statex.TimeWindow, error) {
	if err := window.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}

	query := url.Values{}
	query.Set("timeMin", window.Start.UTC().Format(time.RFC3339))
	query.Set("timeMax", window.End.UTC().Format(time.RFC3339))
	query.Set("singleEvents", "true")
	query.Set("orderBy", "startTime")

	path := fmt.Sprintf("/calendars/%s/events?%s", url.PathEscape(c.calendarFor(account)), query.Encode())
	raw, _, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var list eventListResponse
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode events response: %w", err)
	}

	busy := make([]statex.TimeWindow, 0, len(list.Items))
	for _, item := range list.Items {
		if item.Status == "cancelled" {
			continue
		}
		w, err := item.window()
		if err != nil {
			// All-day events carry date instead of dateTime. Their date-only
			// bounds can't conflict with a timed window, so skip them.
			continue
		}
		busy = append(busy, w)
	}
	return busy, nil
}

func (c *Client) CreateEvent(ctx context.Context, account string, req contractx.CreateEventRequest) (contractx.AppointmentRecord, error) {
	if err := req.Window.Validate(); err != nil {
		return contractx.AppointmentRecord{}, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}

	resource := eventResource{
		ID:      eventIDFromKey(req.IdempotencyKey),
		Summary: req.Summary,
		Start:   eventDateTime{DateTime: req.Window.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:     eventDateTime{DateTime: req.Window.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
	}
	for _, email := range req.Attendees {
		resource.Attendees = append(resource.Attendees, eventAttendee{Email: email})
	}

	body, err := json.Marshal(resource)
	if err != nil {
		return contractx.AppointmentRecord{}, fmt.Errorf("marshal event: %w", err)
	}

	calendarID := c.calendarFor(account)
	path := fmt.Sprintf("/calendars/%s/events?sendNotifications=%t", url.PathEscape(calendarID), req.SendNotifications)
	raw, status, err := c.do(ctx, http.MethodPost, path, body)
	if status == http.StatusConflict && resource.ID != "" {
		// The id already exists: a prior attempt with this idempotency key
		// succeeded. Read the event back instead of duplicating it.
		return c.getEvent(ctx, calendarID, resource.ID)
	}
	if err != nil {
		return contractx.AppointmentRecord{}, err
	}

	return decodeRecord(raw, req.Window.Timezone)
}

func (c *Client) UpdateEvent(ctx context.Context, account, eventID string, window statex.TimeWindow) (contractx.AppointmentRecord, error) {
	if strings.TrimSpace(eventID) == "" {
		return contractx.AppointmentRecord{}, fmt.Errorf("%w: event id is empty", contractx.ErrValidation)
	}
	if err := window.Validate(); err != nil {
		return contractx.AppointmentRecord{}, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}

	resource := eventResource{
		Start: eventDateTime{DateTime: window.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:   eventDateTime{DateTime: window.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
	}
	body, err := json.Marshal(resource)
	if err != nil {
		return contractx.AppointmentRecord{}, fmt.Errorf("marshal event patch: %w", err)
	}

	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(c.calendarFor(account)), url.PathEscape(eventID))
	raw, _, err := c.do(ctx, http.MethodPatch, path, body)
	if err != nil {
		return contractx.AppointmentRecord{}, err
	}

	return decodeRecord(raw, window.Timezone)
}

func (c *Client) CancelEvent(ctx context.Context, account, eventID string) error {
	if strings.TrimSpace(eventID) == "" {
		return fmt.Errorf("%w: event id is empty", contractx.ErrValidation)
	}

	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(c.calendarFor(account)), url.PathEscape(eventID))
	_, _, err := c.do(ctx, http.MethodDelete, path, nil)
	return err
}

func (c *Client) getEvent(ctx context.Context, calendarID, eventID string) (contractx.AppointmentRecord, error) {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID))
	raw, _, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return contractx.AppointmentRecord{}, err
	}
	return decodeRecord(raw, "")
}

/* -------------------------------- plumbing ------------------------------- */

func (c *Client) calendarFor(account string) string {
	if trimmed := strings.TrimSpace(account); trimmed != "" {
		return trimmed
	}
	return c.calendarID
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build calendar request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", contractx.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response: %v", contractx.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return raw, resp.StatusCode, nil
	}
	return raw, resp.StatusCode, mapStatus(resp.StatusCode, raw)
}

func mapStatus(status int, body []byte) error {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return fmt.Errorf("%w: http status=%d", contractx.ErrStaleAppointmentReference, status)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: http status=%d", contractx.ErrQuotaExceeded, status)
	case status == http.StatusForbidden && bytes.Contains(body, []byte("ateLimit")):
		return fmt.Errorf("%w: http status=%d", contractx.ErrQuotaExceeded, status)
	case status == http.StatusForbidden && bytes.Contains(body, []byte("uota")):
		return fmt.Errorf("%w: http status=%d", contractx.ErrQuotaExceeded, status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: http status=%d", contractx.ErrPermissionDenied, status)
	case status == http.StatusConflict:
		return fmt.Errorf("event id already exists: http status=%d", status)
	default:
		return fmt.Errorf("%w: http status=%d body=%s", contractx.ErrGatewayUnavailable, status, truncate(body, 256))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// eventIDFromKey derives a provider-legal event id (base32hex charset) from an
// idempotency key.
func eventIDFromKey(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("cal%x", trimmed)
}

func (e eventResource) window() (statex.TimeWindow, error) {
	if e.Start.DateTime == "" || e.End.DateTime == "" {
		return statex.TimeWindow{}, errors.New("event has no dateTime bounds")
	}
	start, err := time.Parse(time.RFC3339, e.Start.DateTime)
	if err != nil {
		return statex.TimeWindow{}, fmt.Errorf("parse event start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, e.End.DateTime)
	if err != nil {
		return statex.TimeWindow{}, fmt.Errorf("parse event end: %w", err)
	}
	return statex.TimeWindow{Start: start.UTC(), End: end.UTC()}, nil
}

func decodeRecord(raw []byte, tz string) (contractx.AppointmentRecord, error) {
	var resource eventResource
	if err := json.Unmarshal(raw, &resource); err != nil {
		return contractx.AppointmentRecord{}, fmt.Errorf("decode event response: %w", err)
	}
	window, err := resource.window()
	if err != nil {
		return contractx.AppointmentRecord{}, err
	}
	window.Timezone = tz

	attendees := make([]string, 0, len(resource.Attendees))
	for _, a := range resource.Attendees {
		attendees = append(attendees, a.Email)
	}

	return contractx.AppointmentRecord{
		EventID:   resource.ID,
		Window:    window,
		Attendees: attendees,
		Status:    contractx.StatusScheduled,
	}, nil
}
