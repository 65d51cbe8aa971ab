package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

// Config carries the retry policy. Defaults are design defaults, overridable
// through the environment.
type Config struct {
	MaxRetries    int           `envconfig:"MAX_RETRIES" split_words:"true" default:"2"`
	BackoffBase   time.Duration `envconfig:"BACKOFF_BASE" split_words:"true" default:"500ms"`
	BackoffFactor float64       `envconfig:"BACKOFF_FACTOR" split_words:"true" default:"2"`
}

type CommitRequest struct {
	ConversationID string
	Account        string
	Intent         statex.IntentType
	Window         statex.TimeWindow
	Attendees      []string
	Summary        string

	// EventID references a previously committed appointment; required for
	// reschedule and cancel.
	EventID string

	// IdempotencyKey is generated once per logical commit and reused across
	// retries so a retried-but-actually-succeeded create is collapsed.
	IdempotencyKey string
}

// Coordinator drives calendar commits: one in-flight commit per conversation,
// bounded retries with exponential backoff and jitter, and translation of
// every gateway outcome into a deterministic result.
type Coordinator struct {
	gateway contractx.CalendarGateway
	cfg     Config

	mu       sync.Mutex
	inflight map[string]struct{}

	sleep  func(context.Context, time.Duration) error
	jitter func(time.Duration) time.Duration
}

func New(gateway contractx.CalendarGateway, cfg Config) (*Coordinator, error) {
	if gateway == nil {
		return nil, errors.New("calendar gateway is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, errors.New("max retries must be >= 0")
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2
	}

	return &Coordinator{
		gateway:  gateway,
		cfg:      cfg,
		inflight: make(map[string]struct{}, 4),
		sleep:    sleepContext,
		jitter: func(d time.Duration) time.Duration {
			if d <= 0 {
				return 0
			}
			return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
		},
	}, nil
}

// Commit applies the confirmed intent to the calendar. Exactly one commit per
// conversation may be in flight; concurrent attempts fail with
// ErrCommitInProgress. No partial state is ever exposed: every return is
// either a complete AppointmentRecord or an error with nothing applied (or,
// for ErrUncertainCommitOutcome, explicitly unknown).
func (c *Coordinator) Commit(ctx context.Context, req CommitRequest) (contractx.AppointmentRecord, error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		return contractx.AppointmentRecord{}, fmt.Errorf("%w: conversation id is empty", contractx.ErrValidation)
	}
	if !req.Intent.Mutating() {
		return contractx.AppointmentRecord{}, fmt.Errorf("%w: intent %q does not commit", contractx.ErrValidation, req.Intent)
	}

	if err := c.acquire(req.ConversationID); err != nil {
		return contractx.AppointmentRecord{}, err
	}
	defer c.release(req.ConversationID)

	switch req.Intent {
	case statex.IntentCreate:
		return c.commitCreate(ctx, req)
	case statex.IntentReschedule:
		return c.commitReschedule(ctx, req)
	case statex.IntentCancel:
		return c.commitCancel(ctx, req)
	default:
		return contractx.AppointmentRecord{}, fmt.Errorf("%w: unsupported intent %q", contractx.ErrValidation, req.Intent)
	}
}

func (c *Coordinator) acquire(conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inflight[conversationID]; ok {
		return fmt.Errorf("%w: conversation=%s", contractx.ErrCommitInProgress, conversationID)
	}
	c.inflight[conversationID] = struct{}{}
	return nil
}

func (c *Coordinator) release(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, conversationID)
}

func (c *Coordinator) commitCreate(ctx context.Context, req CommitRequest) (contractx.AppointmentRecord, error) {
	if err := req.Window.Validate(); err != nil {
		return contractx.AppointmentRecord{}, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}

	gwReq := contractx.CreateEventRequest{
		Window:            req.Window,
		Attendees:         req.Attendees,
		Summary:           req.Summary,
		SendNotifications: true,
	}

	if !c.gateway.SupportsIdempotency() {
		// Without a key a retried create could double-book; a single attempt
		// with an uncertain outcome is the only safe behavior.
		record, err := c.gateway.CreateEvent(ctx, req.Account, gwReq)
		if err == nil {
			record.Status = contractx.StatusScheduled
			return record, nil
		}
		if retryable(err) {
			return contractx.AppointmentRecord{}, fmt.Errorf("%w: %v", contractx.ErrUncertainCommitOutcome, err)
		}
		return contractx.AppointmentRecord{}, err
	}

	gwReq.IdempotencyKey = req.IdempotencyKey
	record, err := c.withRetries(ctx, req.ConversationID, "create_event", func() (contractx.AppointmentRecord, error) {
		return c.gateway.CreateEvent(ctx, req.Account, gwReq)
	})
	if err != nil {
		return contractx.AppointmentRecord{}, err
	}
	record.Status = contractx.StatusScheduled
	return record, nil
}

func (c *Coordinator) commitReschedule(ctx context.Context, req CommitRequest) (contractx.AppointmentRecord, error) {
	if strings.TrimSpace(req.EventID) == "" {
		return contractx.AppointmentRecord{}, fmt.Errorf("%w: reschedule requires an appointment reference", contractx.ErrValidation)
	}
	if err := req.Window.Validate(); err != nil {
		return contractx.AppointmentRecord{}, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}

	record, err := c.withRetries(ctx, req.ConversationID, "update_event", func() (contractx.AppointmentRecord, error) {
		return c.gateway.UpdateEvent(ctx, req.Account, req.EventID, req.Window)
	})
	if err != nil {
		return contractx.AppointmentRecord{}, err
	}
	record.Status = contractx.StatusRescheduled
	return record, nil
}

func (c *Coordinator) commitCancel(ctx context.Context, req CommitRequest) (contractx.AppointmentRecord, error) {
	if strings.TrimSpace(req.EventID) == "" {
		return contractx.AppointmentRecord{}, fmt.Errorf("%w: cancel requires an appointment reference", contractx.ErrValidation)
	}

	_, err := c.withRetries(ctx, req.ConversationID, "cancel_event", func() (contractx.AppointmentRecord, error) {
		return contractx.AppointmentRecord{}, c.gateway.CancelEvent(ctx, req.Account, req.EventID)
	})
	if err != nil {
		return contractx.AppointmentRecord{}, err
	}
	return contractx.AppointmentRecord{
		EventID: req.EventID,
		Window:  req.Window,
		Status:  contractx.StatusCancelled,
	}, nil
}

// withRetries runs op up to 1+MaxRetries times, backing off between transient
// failures. Stale references and non-retryable gateway errors return on the
// first occurrence.
func (c *Coordinator) withRetries(ctx context.Context, conversationID, op string, fn func() (contractx.AppointmentRecord, error)) (contractx.AppointmentRecord, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			log.Warn().
				Str("conversation_id", conversationID).
				Str("op", op).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Err(lastErr).
				Msg("retrying gateway operation")
			if err := c.sleep(ctx, delay); err != nil {
				return contractx.AppointmentRecord{}, fmt.Errorf("%w: %v", contractx.ErrGatewayUnavailable, err)
			}
		}

		record, err := fn()
		if err == nil {
			return record, nil
		}
		if !retryable(err) {
			return contractx.AppointmentRecord{}, err
		}
		lastErr = err
	}
	return contractx.AppointmentRecord{}, fmt.Errorf("retries exhausted after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

func (c *Coordinator) backoff(attempt int) time.Duration {
	d := float64(c.cfg.BackoffBase)
	for i := 1; i < attempt; i++ {
		d *= c.cfg.BackoffFactor
	}
	return c.jitter(time.Duration(d))
}

func retryable(err error) bool {
	return errors.Is(err, contractx.ErrGatewayUnavailable)
}

// sleepContext waits out the backoff delay but returns early if the context
// is cancelled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
