// Package scheduler wires the turn-handling graph: one entry point per user
// utterance, one compiled node chain behind it.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	coordinatorx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/coordinator"
	turnnode "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/nodes"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

var (
	ErrInvalidUtterance    = turnnode.ErrInvalidUtterance
	ErrInvalidConversation = turnnode.ErrInvalidConversation
)

const defaultHorizon = 7 * 24 * time.Hour

type Config struct {
	// AccountID is the calendar account new conversations bind to.
	AccountID string
	// Horizon bounds the forward search when proposing alternatives.
	Horizon time.Duration
}

// Scheduler handles one conversational turn at a time per conversation.
// Concurrent turns for the same conversation serialize on a per-conversation
// lock; different conversations never contend.
type Scheduler struct {
	store       statex.Store
	extractor   contractx.IntentExtractor
	gateway     contractx.CalendarGateway
	coordinator *coordinatorx.Coordinator
	turnLog     statex.TurnLog
	reminders   contractx.ReminderPublisher

	graphRunner compose.Runnable[turnnode.GraphInput, turnnode.GraphOutput]

	accountID string
	horizon   time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

func New(
	store statex.Store,
	extractor contractx.IntentExtractor,
	gateway contractx.CalendarGateway,
	coordinator *coordinatorx.Coordinator,
	turnLog statex.TurnLog,
	reminders contractx.ReminderPublisher,
	cfg Config,
) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("conversation store is required")
	}
	if extractor == nil {
		return nil, errors.New("intent extractor is required")
	}
	if gateway == nil {
		return nil, errors.New("calendar gateway is required")
	}
	if coordinator == nil {
		return nil, errors.New("transaction coordinator is required")
	}

	accountID := strings.TrimSpace(cfg.AccountID)
	if accountID == "" {
		accountID = "primary"
	}
	horizon := cfg.Horizon
	if horizon <= 0 {
		horizon = defaultHorizon
	}

	s := &Scheduler{
		store:       store,
		extractor:   extractor,
		gateway:     gateway,
		coordinator: coordinator,
		turnLog:     turnLog,
		reminders:   reminders,
		accountID:   accountID,
		horizon:     horizon,
		locks:       make(map[string]*sync.Mutex, 16),
		now:         time.Now,
	}

	graphRunner, err := s.compileHandleTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	s.graphRunner = graphRunner

	return s, nil
}

// HandleTurn processes one utterance and returns the assistant's reply.
func (s *Scheduler) HandleTurn(ctx context.Context, conversationID, utterance, userTimezone string) (turnnode.GraphOutput, error) {
	lock := s.lockFor(strings.TrimSpace(conversationID))
	lock.Lock()
	defer lock.Unlock()

	return s.graphRunner.Invoke(ctx, turnnode.GraphInput{
		ConversationID: conversationID,
		Utterance:      utterance,
		UserTimezone:   userTimezone,
	})
}

func (s *Scheduler) lockFor(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[conversationID] = lock
	}
	return lock
}
