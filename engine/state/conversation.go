package state

import (
	"errors"
	"fmt"
	"time"
)

// Conversation is the persistent source-of-truth for one scheduling dialogue.
// - Turns: append-only history of utterance/response pairs
// - State: the single mutable DialogueState driving the turn state machine
// - LastEventID: the only provider-side state the engine retains (used to
//   reference the appointment on reschedule/cancel)
type Conversation struct {
	// Identity
	ConversationID string `json:"conversation_id"`
	AccountID      string `json:"account_id"`

	Turns []Turn        `json:"turns,omitempty"`
	State DialogueState `json:"state"`

	LastEventID string `json:"last_event_id,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Turn is an immutable record of one exchange. Seq increases monotonically.
type Turn struct {
	Seq       int       `json:"seq"`
	Utterance string    `json:"utterance"`
	Response  string    `json:"response"`
	At        time.Time `json:"at"`
}

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseCollecting Phase = "collecting"
	PhaseClarifying Phase = "clarifying"
	PhaseConfirming Phase = "confirming"
	PhaseCommitted  Phase = "committed"
	PhaseCancelled  Phase = "cancelled"
	PhaseFailed     Phase = "failed"
)

func (p Phase) Terminal() bool {
	return p == PhaseCommitted || p == PhaseCancelled || p == PhaseFailed
}

type IntentType string

const (
	IntentCreate     IntentType = "create_appointment"
	IntentReschedule IntentType = "reschedule_appointment"
	IntentCancel     IntentType = "cancel_appointment"
	IntentQuery      IntentType = "query_availability"
	IntentUnknown    IntentType = "unknown"
)

// Mutating reports whether committing the intent writes to the calendar.
// Only mutating intents require an explicit confirmation phase.
func (t IntentType) Mutating() bool {
	return t == IntentCreate || t == IntentReschedule || t == IntentCancel
}

type SlotName string

const (
	SlotDate           SlotName = "date"
	SlotTime           SlotName = "time"
	SlotDuration       SlotName = "duration"
	SlotTimezone       SlotName = "timezone"
	SlotAttendees      SlotName = "attendees"
	SlotAppointmentRef SlotName = "appointment_reference"
)

// ClarificationOrder is the priority in which unresolved slots are asked about.
var ClarificationOrder = []SlotName{SlotDate, SlotTime, SlotDuration, SlotAttendees, SlotAppointmentRef}

var requiredSlots = map[IntentType][]SlotName{
	IntentCreate:     {SlotDate, SlotTime, SlotDuration},
	IntentReschedule: {SlotAppointmentRef, SlotDate, SlotTime},
	IntentCancel:     {SlotAppointmentRef},
	IntentQuery:      {SlotDate, SlotDuration},
}

// RequiredSlots returns the slot set that must be filled before the intent can
// be resolved. Timezone and attendees are optional refinements for every type.
func RequiredSlots(t IntentType) []SlotName {
	slots := requiredSlots[t]
	out := make([]SlotName, len(slots))
	copy(out, slots)
	return out
}

type SlotOp string

const (
	SlotOpSet     SlotOp = "set"
	SlotOpLeave   SlotOp = "leave"
	SlotOpCorrect SlotOp = "correct"
)

// SlotUpdate is a tagged per-slot merge instruction. Only set/correct touch the
// previously filled value; leave never does.
type SlotUpdate struct {
	Op         SlotOp  `json:"op"`
	Value      string  `json:"value,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// StructuredIntent is the per-turn extraction result merged into the pending
// intent. Immutable once produced.
type StructuredIntent struct {
	Type  IntentType              `json:"type"`
	Slots map[SlotName]SlotUpdate `json:"slots,omitempty"`
}

// TimeWindow is a half-open interval [Start, End) in absolute instants.
// Timezone records how the user expressed it, for presentation only.
type TimeWindow struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Timezone string    `json:"timezone,omitempty"`
}

var ErrInvalidWindow = errors.New("time window start must precede end")

func (w TimeWindow) Validate() error {
	if !w.Start.Before(w.End) {
		return fmt.Errorf("%w: start=%s end=%s", ErrInvalidWindow, w.Start, w.End)
	}
	return nil
}

func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Overlaps uses half-open semantics: touching endpoints do not overlap.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

func (w TimeWindow) Equal(o TimeWindow) bool {
	return w.Start.Equal(o.Start) && w.End.Equal(o.End)
}

// Location resolves the window's presentation timezone, falling back to UTC.
func (w TimeWindow) Location() *time.Location {
	if w.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DialogueState is the mutable per-conversation slot-filling state. It is
// owned by exactly one Conversation and mutated by at most one turn at a time.
type DialogueState struct {
	Phase         Phase               `json:"phase"`
	PendingIntent *StructuredIntent   `json:"pending_intent,omitempty"`
	FilledSlots   map[SlotName]string `json:"filled_slots,omitempty"`
	MissingSlots  []SlotName          `json:"missing_slots,omitempty"`

	LastClarificationAsked SlotName     `json:"last_clarification_asked,omitempty"`
	CandidateWindows       []TimeWindow `json:"candidate_windows,omitempty"`
	ProposedWindow         *TimeWindow  `json:"proposed_window,omitempty"`

	ConfirmRetries int    `json:"confirm_retries,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
}

var (
	ErrNilConversation = errors.New("conversation is nil")
	ErrSlotInvariant   = errors.New("slot invariant violated")
)

func NewConversation(conversationID, accountID string, now time.Time) *Conversation {
	return &Conversation{
		ConversationID: conversationID,
		AccountID:      accountID,
		State:          DialogueState{Phase: PhaseIdle, FilledSlots: make(map[SlotName]string, 8)},
		Version:        1,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
}

func (c *Conversation) Touch(now time.Time) {
	c.UpdatedAt = now.UTC()
}

// AppendTurn records one completed exchange. Turns are never mutated after this.
func (c *Conversation) AppendTurn(utterance, response string, at time.Time) Turn {
	turn := Turn{
		Seq:       c.NextSeq(),
		Utterance: utterance,
		Response:  response,
		At:        at.UTC(),
	}
	c.Turns = append(c.Turns, turn)
	return turn
}

// NextSeq is the sequence number the next turn will take.
func (c *Conversation) NextSeq() int {
	if len(c.Turns) == 0 {
		return 1
	}
	return c.Turns[len(c.Turns)-1].Seq + 1
}

func (c *Conversation) Validate() error {
	if c == nil {
		return ErrNilConversation
	}
	for i := 1; i < len(c.Turns); i++ {
		if c.Turns[i].Seq <= c.Turns[i-1].Seq {
			return fmt.Errorf("turn sequence not monotonic at index %d", i)
		}
	}
	return c.State.Validate()
}

/* --------------------------- DialogueState ops --------------------------- */

func (d *DialogueState) EnsureSlotsMap() {
	if d.FilledSlots == nil {
		d.FilledSlots = make(map[SlotName]string, 8)
	}
}

// Begin starts collecting a new pending intent, discarding any prior one.
func (d *DialogueState) Begin(intent StructuredIntent) {
	d.Phase = PhaseCollecting
	d.PendingIntent = &intent
	d.FilledSlots = make(map[SlotName]string, 8)
	d.MissingSlots = RequiredSlots(intent.Type)
	d.LastClarificationAsked = ""
	d.CandidateWindows = nil
	d.ProposedWindow = nil
	d.ConfirmRetries = 0
	d.FailureReason = ""
}

// Fill sets a slot value and removes it from the missing set.
func (d *DialogueState) Fill(slot SlotName, value string) {
	d.EnsureSlotsMap()
	d.FilledSlots[slot] = value
	d.RecomputeMissing()
}

// Unfill removes a slot value; a required slot returns to the missing set.
func (d *DialogueState) Unfill(slot SlotName) {
	if d.FilledSlots != nil {
		delete(d.FilledSlots, slot)
	}
	d.RecomputeMissing()
}

// RecomputeMissing rebuilds MissingSlots from the pending intent's required
// set, preserving the clarification priority order.
func (d *DialogueState) RecomputeMissing() {
	if d.PendingIntent == nil {
		d.MissingSlots = nil
		return
	}
	required := RequiredSlots(d.PendingIntent.Type)
	missing := make([]SlotName, 0, len(required))
	for _, name := range ClarificationOrder {
		if !containsSlot(required, name) {
			continue
		}
		if _, ok := d.FilledSlots[name]; !ok {
			missing = append(missing, name)
		}
	}
	d.MissingSlots = missing
}

// NextMissing returns the highest-priority unresolved slot.
func (d *DialogueState) NextMissing() (SlotName, bool) {
	if len(d.MissingSlots) == 0 {
		return "", false
	}
	return d.MissingSlots[0], true
}

// Reset returns the state to idle for the next intent. Turn history on the
// owning Conversation is retained.
func (d *DialogueState) Reset() {
	*d = DialogueState{Phase: PhaseIdle, FilledSlots: make(map[SlotName]string, 8)}
}

// Validate enforces the core invariant: filled and missing are disjoint and
// together cover the pending intent's required slot set. Terminal phases carry
// no pending intent and no missing slots.
func (d *DialogueState) Validate() error {
	if d.Phase == "" {
		return fmt.Errorf("%w: empty phase", ErrSlotInvariant)
	}
	if d.Phase == PhaseCommitted || d.Phase == PhaseCancelled {
		if d.PendingIntent != nil {
			return fmt.Errorf("%w: terminal phase %s retains a pending intent", ErrSlotInvariant, d.Phase)
		}
		if len(d.MissingSlots) != 0 {
			return fmt.Errorf("%w: terminal phase %s retains missing slots", ErrSlotInvariant, d.Phase)
		}
		return nil
	}
	if d.PendingIntent == nil {
		if len(d.MissingSlots) != 0 {
			return fmt.Errorf("%w: missing slots without a pending intent", ErrSlotInvariant)
		}
		return nil
	}

	missing := make(map[SlotName]struct{}, len(d.MissingSlots))
	for _, name := range d.MissingSlots {
		if _, ok := d.FilledSlots[name]; ok {
			return fmt.Errorf("%w: slot %q both filled and missing", ErrSlotInvariant, name)
		}
		missing[name] = struct{}{}
	}
	for _, name := range RequiredSlots(d.PendingIntent.Type) {
		_, filled := d.FilledSlots[name]
		_, absent := missing[name]
		if !filled && !absent {
			return fmt.Errorf("%w: required slot %q neither filled nor missing", ErrSlotInvariant, name)
		}
		if filled && absent {
			return fmt.Errorf("%w: slot %q both filled and missing", ErrSlotInvariant, name)
		}
	}
	return nil
}

func containsSlot(slots []SlotName, name SlotName) bool {
	for _, s := range slots {
		if s == name {
			return true
		}
	}
	return false
}
