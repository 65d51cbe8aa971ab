package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	coordinatorx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/coordinator"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

/* --------------------------------- fakes --------------------------------- */

type memStore struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string][]byte)}
}

func (s *memStore) Load(_ context.Context, conversationID string) (*statex.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.m[conversationID]
	if !ok {
		return nil, statex.ErrConversationNotFound
	}
	var conv statex.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *memStore) Save(_ context.Context, conv *statex.Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[conv.ConversationID] = raw
	return nil
}

func (s *memStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, conversationID)
	return nil
}

type scriptedExtractor struct {
	results []contractx.ExtractResult
	calls   int
}

func (e *scriptedExtractor) Extract(context.Context, contractx.ExtractRequest) (contractx.ExtractResult, error) {
	if e.calls >= len(e.results) {
		return contractx.ExtractResult{Intent: statex.StructuredIntent{Type: statex.IntentUnknown}}, nil
	}
	result := e.results[e.calls]
	e.calls++
	return result, nil
}

type fakeCalGateway struct {
	busy        []statex.TimeWindow
	listBusyErr error

	createCalls int
	lastCreate  contractx.CreateEventRequest

	updateErr   error
	updateCalls int

	cancelCalls int
}

func (f *fakeCalGateway) ListBusy(context.Context, string, statex.TimeWindow) ([]statex.TimeWindow, error) {
	if f.listBusyErr != nil {
		return nil, f.listBusyErr
	}
	return f.busy, nil
}

func (f *fakeCalGateway) CreateEvent(_ context.Context, _ string, req contractx.CreateEventRequest) (contractx.AppointmentRecord, error) {
	f.createCalls++
	f.lastCreate = req
	return contractx.AppointmentRecord{EventID: "evt-new", Window: req.Window, Attendees: req.Attendees}, nil
}

func (f *fakeCalGateway) UpdateEvent(_ context.Context, _ string, eventID string, window statex.TimeWindow) (contractx.AppointmentRecord, error) {
	f.updateCalls++
	if f.updateErr != nil {
		return contractx.AppointmentRecord{}, f.updateErr
	}
	return contractx.AppointmentRecord{EventID: eventID, Window: window}, nil
}

func (f *fakeCalGateway) CancelEvent(context.Context, string, string) error {
	f.cancelCalls++
	return nil
}

func (f *fakeCalGateway) SupportsIdempotency() bool { return true }

/* -------------------------------- helpers -------------------------------- */

var e2eNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, extractor contractx.IntentExtractor, gateway contractx.CalendarGateway, store statex.Store) *Scheduler {
	t.Helper()

	coordinator, err := coordinatorx.New(gateway, coordinatorx.Config{MaxRetries: 2, BackoffBase: time.Millisecond, BackoffFactor: 2})
	if err != nil {
		t.Fatalf("coordinator.New() error = %v", err)
	}

	svc, err := New(store, extractor, gateway, coordinator, nil, nil, Config{AccountID: "acct"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	svc.now = func() time.Time { return e2eNow }
	return svc
}

func createIntent(slots map[statex.SlotName]string) contractx.ExtractResult {
	updates := make(map[statex.SlotName]statex.SlotUpdate, len(slots))
	for name, value := range slots {
		updates[name] = statex.SlotUpdate{Op: statex.SlotOpSet, Value: value, Confidence: 0.9}
	}
	return contractx.ExtractResult{Intent: statex.StructuredIntent{Type: statex.IntentCreate, Slots: updates}}
}

func noIntent() contractx.ExtractResult {
	return contractx.ExtractResult{Intent: statex.StructuredIntent{Type: statex.IntentUnknown}}
}

/* --------------------------------- tests --------------------------------- */

func TestHandleTurnHappyPathCreate(t *testing.T) {
	t.Parallel()

	extractor := &scriptedExtractor{results: []contractx.ExtractResult{
		createIntent(map[statex.SlotName]string{
			statex.SlotDate:     "tomorrow",
			statex.SlotTime:     "3pm",
			statex.SlotDuration: "for 45 minutes",
		}),
		noIntent(), // "yes"
	}}
	gateway := &fakeCalGateway{}
	store := newMemStore()
	svc := newTestScheduler(t, extractor, gateway, store)
	ctx := context.Background()

	out, err := svc.HandleTurn(ctx, "conv-1", "book a meeting tomorrow at 3pm for 45 minutes", "UTC")
	if err != nil {
		t.Fatalf("turn 1 error = %v", err)
	}
	if !strings.Contains(out.Response, "Just to confirm") {
		t.Fatalf("turn 1 response = %q, want confirmation question", out.Response)
	}
	if gateway.createCalls != 0 {
		t.Fatal("nothing may be committed before confirmation")
	}

	out, err = svc.HandleTurn(ctx, "conv-1", "yes", "UTC")
	if err != nil {
		t.Fatalf("turn 2 error = %v", err)
	}
	if out.Phase != statex.PhaseCommitted {
		t.Fatalf("turn 2 phase = %q, want committed", out.Phase)
	}
	if gateway.createCalls != 1 {
		t.Fatalf("createCalls = %d, want 1", gateway.createCalls)
	}

	wantStart := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)
	if !gateway.lastCreate.Window.Start.Equal(wantStart) {
		t.Fatalf("created window starts %v, want %v", gateway.lastCreate.Window.Start, wantStart)
	}
	if gateway.lastCreate.Window.Duration() != 45*time.Minute {
		t.Fatalf("created duration = %v, want 45m", gateway.lastCreate.Window.Duration())
	}
	if gateway.lastCreate.IdempotencyKey == "" {
		t.Fatal("create must carry an idempotency key")
	}

	// Next intent starts fresh against the same history.
	conv, err := store.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if conv.State.Phase != statex.PhaseIdle {
		t.Fatalf("stored phase = %q, want idle", conv.State.Phase)
	}
	if conv.LastEventID != "evt-new" {
		t.Fatalf("LastEventID = %q, want evt-new", conv.LastEventID)
	}
	if len(conv.Turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(conv.Turns))
	}
}

func TestHandleTurnClarifiesVagueDate(t *testing.T) {
	t.Parallel()

	extractor := &scriptedExtractor{results: []contractx.ExtractResult{
		{
			Intent: statex.StructuredIntent{
				Type: statex.IntentCreate,
				Slots: map[statex.SlotName]statex.SlotUpdate{
					statex.SlotDate: {Op: statex.SlotOpSet, Value: "sometime next week", Confidence: 0.4},
				},
			},
			Ambiguities: []contractx.AmbiguityReport{
				{Slot: statex.SlotDate, Unresolved: []statex.SlotName{statex.SlotDate}, Reason: "vague span"},
			},
		},
	}}
	gateway := &fakeCalGateway{}
	store := newMemStore()
	svc := newTestScheduler(t, extractor, gateway, store)

	out, err := svc.HandleTurn(context.Background(), "conv-2", "I need a meeting sometime next week", "UTC")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if out.Response != "What date should I schedule it for?" {
		t.Fatalf("Response = %q, want the date question", out.Response)
	}

	conv, err := store.Load(context.Background(), "conv-2")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if conv.State.Phase != statex.PhaseClarifying {
		t.Fatalf("stored phase = %q, want clarifying", conv.State.Phase)
	}
	if _, ok := conv.State.FilledSlots[statex.SlotDate]; ok {
		t.Fatal("vague date must not stay filled")
	}
}

func TestHandleTurnConflictOffersAlternativesAndBooksPick(t *testing.T) {
	t.Parallel()

	requestedStart := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)
	extractor := &scriptedExtractor{results: []contractx.ExtractResult{
		createIntent(map[statex.SlotName]string{
			statex.SlotDate:     "tomorrow",
			statex.SlotTime:     "3pm",
			statex.SlotDuration: "30 minutes",
		}),
		noIntent(), // "the first one"
		noIntent(), // "yes"
	}}
	gateway := &fakeCalGateway{busy: []statex.TimeWindow{
		{Start: requestedStart, End: requestedStart.Add(30 * time.Minute), Timezone: "UTC"},
	}}
	store := newMemStore()
	svc := newTestScheduler(t, extractor, gateway, store)
	ctx := context.Background()

	out, err := svc.HandleTurn(ctx, "conv-3", "book tomorrow at 3pm for 30 minutes", "UTC")
	if err != nil {
		t.Fatalf("turn 1 error = %v", err)
	}
	if !strings.Contains(out.Response, "already taken") {
		t.Fatalf("turn 1 response = %q, want conflict with alternatives", out.Response)
	}
	if gateway.createCalls != 0 {
		t.Fatal("conflicting request must not be booked")
	}

	out, err = svc.HandleTurn(ctx, "conv-3", "the first one", "UTC")
	if err != nil {
		t.Fatalf("turn 2 error = %v", err)
	}
	if !strings.Contains(out.Response, "Just to confirm") {
		t.Fatalf("turn 2 response = %q, want confirmation", out.Response)
	}

	out, err = svc.HandleTurn(ctx, "conv-3", "yes", "UTC")
	if err != nil {
		t.Fatalf("turn 3 error = %v", err)
	}
	if out.Phase != statex.PhaseCommitted {
		t.Fatalf("turn 3 phase = %q, want committed", out.Phase)
	}
	if gateway.createCalls != 1 {
		t.Fatalf("createCalls = %d, want 1", gateway.createCalls)
	}
	if gateway.lastCreate.Window.Start.Equal(requestedStart) {
		t.Fatal("booked the conflicting window instead of the picked alternative")
	}
	for _, b := range gateway.busy {
		if gateway.lastCreate.Window.Overlaps(b) {
			t.Fatalf("booked window %+v overlaps busy %+v", gateway.lastCreate.Window, b)
		}
	}
}

func TestHandleTurnStaleRescheduleInformsWithoutRetry(t *testing.T) {
	t.Parallel()

	extractor := &scriptedExtractor{results: []contractx.ExtractResult{
		{
			Intent: statex.StructuredIntent{
				Type: statex.IntentReschedule,
				Slots: map[statex.SlotName]statex.SlotUpdate{
					statex.SlotAppointmentRef: {Op: statex.SlotOpSet, Value: "my meeting", Confidence: 0.9},
					statex.SlotDate:           {Op: statex.SlotOpSet, Value: "tomorrow", Confidence: 0.9},
					statex.SlotTime:           {Op: statex.SlotOpSet, Value: "4pm", Confidence: 0.9},
				},
			},
		},
		noIntent(), // "yes"
	}}
	gateway := &fakeCalGateway{
		updateErr: fmt.Errorf("%w: http status=404", contractx.ErrStaleAppointmentReference),
	}
	store := newMemStore()
	svc := newTestScheduler(t, extractor, gateway, store)
	ctx := context.Background()

	seed := statex.NewConversation("conv-4", "acct", e2eNow)
	seed.LastEventID = "evt-old"
	if err := store.Save(ctx, seed); err != nil {
		t.Fatalf("seed Save() error = %v", err)
	}

	out, err := svc.HandleTurn(ctx, "conv-4", "move my meeting to tomorrow at 4pm", "UTC")
	if err != nil {
		t.Fatalf("turn 1 error = %v", err)
	}
	if !strings.Contains(out.Response, "Just to confirm") {
		t.Fatalf("turn 1 response = %q, want confirmation", out.Response)
	}

	out, err = svc.HandleTurn(ctx, "conv-4", "yes", "UTC")
	if err != nil {
		t.Fatalf("turn 2 error = %v", err)
	}
	if out.Phase != statex.PhaseFailed {
		t.Fatalf("turn 2 phase = %q, want failed", out.Phase)
	}
	if !strings.Contains(out.Response, "no longer exists") {
		t.Fatalf("turn 2 response = %q, want stale notice", out.Response)
	}
	if gateway.updateCalls != 1 {
		t.Fatalf("updateCalls = %d, want 1 (stale is not retried)", gateway.updateCalls)
	}

	// Terminal phases reset before persisting so the next intent starts fresh.
	conv, err := store.Load(ctx, "conv-4")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if conv.State.Phase != statex.PhaseIdle {
		t.Fatalf("stored phase = %q, want idle", conv.State.Phase)
	}
}

func TestHandleTurnUnreachableCalendarFailsTheTurn(t *testing.T) {
	t.Parallel()

	extractor := &scriptedExtractor{results: []contractx.ExtractResult{
		createIntent(map[statex.SlotName]string{
			statex.SlotDate:     "tomorrow",
			statex.SlotTime:     "3pm",
			statex.SlotDuration: "30 minutes",
		}),
	}}
	gateway := &fakeCalGateway{
		listBusyErr: fmt.Errorf("%w: connection refused", contractx.ErrGatewayUnavailable),
	}
	store := newMemStore()
	svc := newTestScheduler(t, extractor, gateway, store)
	ctx := context.Background()

	out, err := svc.HandleTurn(ctx, "conv-8", "book tomorrow at 3pm for 30 minutes", "UTC")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v, want a failed-phase reply", err)
	}
	if out.Phase != statex.PhaseFailed {
		t.Fatalf("phase = %q, want failed", out.Phase)
	}
	if !strings.Contains(out.Response, "isn't responding") {
		t.Fatalf("Response = %q, want unavailability notice", out.Response)
	}
	if gateway.createCalls != 0 {
		t.Fatal("nothing may be committed when availability is unknown")
	}

	conv, err := store.Load(ctx, "conv-8")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if conv.State.Phase != statex.PhaseIdle {
		t.Fatalf("stored phase = %q, want idle", conv.State.Phase)
	}
	if len(conv.Turns) != 1 {
		t.Fatalf("turns = %d, want the failed turn recorded", len(conv.Turns))
	}
}

func TestHandleTurnCancelFlow(t *testing.T) {
	t.Parallel()

	extractor := &scriptedExtractor{results: []contractx.ExtractResult{
		{
			Intent: statex.StructuredIntent{
				Type: statex.IntentCancel,
				Slots: map[statex.SlotName]statex.SlotUpdate{
					statex.SlotAppointmentRef: {Op: statex.SlotOpSet, Value: "my 3pm meeting", Confidence: 0.9},
				},
			},
		},
		noIntent(), // "yes"
	}}
	gateway := &fakeCalGateway{}
	store := newMemStore()
	svc := newTestScheduler(t, extractor, gateway, store)
	ctx := context.Background()

	seed := statex.NewConversation("conv-5", "acct", e2eNow)
	seed.LastEventID = "evt-55"
	if err := store.Save(ctx, seed); err != nil {
		t.Fatalf("seed Save() error = %v", err)
	}

	out, err := svc.HandleTurn(ctx, "conv-5", "cancel my 3pm meeting", "UTC")
	if err != nil {
		t.Fatalf("turn 1 error = %v", err)
	}
	if !strings.Contains(out.Response, "cancel") {
		t.Fatalf("turn 1 response = %q, want cancel confirmation", out.Response)
	}
	if gateway.cancelCalls != 0 {
		t.Fatal("cancel must wait for confirmation")
	}

	out, err = svc.HandleTurn(ctx, "conv-5", "yes", "UTC")
	if err != nil {
		t.Fatalf("turn 2 error = %v", err)
	}
	if out.Phase != statex.PhaseCancelled {
		t.Fatalf("turn 2 phase = %q, want cancelled", out.Phase)
	}
	if gateway.cancelCalls != 1 {
		t.Fatalf("cancelCalls = %d, want 1", gateway.cancelCalls)
	}

	conv, err := store.Load(ctx, "conv-5")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if conv.LastEventID != "" {
		t.Fatalf("LastEventID = %q, want cleared", conv.LastEventID)
	}
}

func TestHandleTurnDeclinedConfirmationCommitsNothing(t *testing.T) {
	t.Parallel()

	extractor := &scriptedExtractor{results: []contractx.ExtractResult{
		createIntent(map[statex.SlotName]string{
			statex.SlotDate:     "tomorrow",
			statex.SlotTime:     "3pm",
			statex.SlotDuration: "30 minutes",
		}),
		noIntent(), // "no"
	}}
	gateway := &fakeCalGateway{}
	store := newMemStore()
	svc := newTestScheduler(t, extractor, gateway, store)
	ctx := context.Background()

	if _, err := svc.HandleTurn(ctx, "conv-6", "book tomorrow at 3pm", "UTC"); err != nil {
		t.Fatalf("turn 1 error = %v", err)
	}
	out, err := svc.HandleTurn(ctx, "conv-6", "no", "UTC")
	if err != nil {
		t.Fatalf("turn 2 error = %v", err)
	}
	if gateway.createCalls != 0 {
		t.Fatalf("createCalls = %d, want 0 after decline", gateway.createCalls)
	}
	if !strings.Contains(out.Response, "won't") {
		t.Fatalf("turn 2 response = %q", out.Response)
	}
}

func TestHandleTurnRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	svc := newTestScheduler(t, &scriptedExtractor{}, &fakeCalGateway{}, newMemStore())

	if _, err := svc.HandleTurn(context.Background(), "conv-7", "   ", "UTC"); !errors.Is(err, ErrInvalidUtterance) {
		t.Fatalf("error = %v, want ErrInvalidUtterance", err)
	}
	if _, err := svc.HandleTurn(context.Background(), "  ", "hi", "UTC"); !errors.Is(err, ErrInvalidConversation) {
		t.Fatalf("error = %v, want ErrInvalidConversation", err)
	}
}
