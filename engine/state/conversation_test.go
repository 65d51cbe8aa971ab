package state

import (
	"errors"
	"testing"
	"time"
)

func TestNewConversationStartsIdle(t *testing.T) {
	t.Parallel()

	conv := NewConversation("conv-1", "acct", time.Now().UTC())
	if conv.State.Phase != PhaseIdle {
		t.Fatalf("Phase = %q, want %q", conv.State.Phase, PhaseIdle)
	}
	if conv.Version != 1 {
		t.Fatalf("Version = %d, want 1", conv.Version)
	}
	if err := conv.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestBeginComputesMissingSlots(t *testing.T) {
	t.Parallel()

	var st DialogueState
	st.Begin(StructuredIntent{Type: IntentCreate})

	want := []SlotName{SlotDate, SlotTime, SlotDuration}
	if len(st.MissingSlots) != len(want) {
		t.Fatalf("MissingSlots = %v, want %v", st.MissingSlots, want)
	}
	for i, slot := range want {
		if st.MissingSlots[i] != slot {
			t.Fatalf("MissingSlots[%d] = %q, want %q", i, st.MissingSlots[i], slot)
		}
	}
	if st.Phase != PhaseCollecting {
		t.Fatalf("Phase = %q, want %q", st.Phase, PhaseCollecting)
	}
}

func TestFillAndUnfillMaintainDisjointness(t *testing.T) {
	t.Parallel()

	var st DialogueState
	st.Begin(StructuredIntent{Type: IntentCreate})

	st.Fill(SlotDate, "tomorrow")
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() after Fill error = %v", err)
	}
	for _, slot := range st.MissingSlots {
		if slot == SlotDate {
			t.Fatal("date still reported missing after Fill")
		}
	}

	st.Unfill(SlotDate)
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() after Unfill error = %v", err)
	}
	if next, ok := st.NextMissing(); !ok || next != SlotDate {
		t.Fatalf("NextMissing() = %q, %v; want date, true", next, ok)
	}
}

func TestValidateRejectsOverlappingFilledAndMissing(t *testing.T) {
	t.Parallel()

	st := DialogueState{
		Phase:         PhaseCollecting,
		PendingIntent: &StructuredIntent{Type: IntentCancel},
		FilledSlots:   map[SlotName]string{SlotAppointmentRef: "my meeting"},
		MissingSlots:  []SlotName{SlotAppointmentRef},
	}
	if err := st.Validate(); !errors.Is(err, ErrSlotInvariant) {
		t.Fatalf("Validate() error = %v, want ErrSlotInvariant", err)
	}
}

func TestValidateRejectsTerminalPhaseWithPendingIntent(t *testing.T) {
	t.Parallel()

	st := DialogueState{
		Phase:         PhaseCommitted,
		PendingIntent: &StructuredIntent{Type: IntentCreate},
	}
	if err := st.Validate(); !errors.Is(err, ErrSlotInvariant) {
		t.Fatalf("Validate() error = %v, want ErrSlotInvariant", err)
	}
}

func TestAppendTurnSequencesMonotonically(t *testing.T) {
	t.Parallel()

	conv := NewConversation("conv-2", "acct", time.Now().UTC())
	first := conv.AppendTurn("hello", "hi", time.Now())
	second := conv.AppendTurn("book it", "when?", time.Now())

	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("Seq = %d, %d; want 1, 2", first.Seq, second.Seq)
	}
	if conv.NextSeq() != 3 {
		t.Fatalf("NextSeq() = %d, want 3", conv.NextSeq())
	}
	if err := conv.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestTimeWindowOverlapsIsHalfOpen(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	a := TimeWindow{Start: base, End: base.Add(30 * time.Minute)}
	b := TimeWindow{Start: base.Add(30 * time.Minute), End: base.Add(time.Hour)}

	if a.Overlaps(b) {
		t.Fatal("touching windows must not overlap")
	}
	c := TimeWindow{Start: base.Add(15 * time.Minute), End: base.Add(45 * time.Minute)}
	if !a.Overlaps(c) {
		t.Fatal("intersecting windows must overlap")
	}
}

func TestResetReturnsToIdleKeepingNothing(t *testing.T) {
	t.Parallel()

	var st DialogueState
	st.Begin(StructuredIntent{Type: IntentReschedule})
	st.Fill(SlotAppointmentRef, "the 3pm call")
	st.ConfirmRetries = 1

	st.Reset()
	if st.Phase != PhaseIdle {
		t.Fatalf("Phase = %q, want %q", st.Phase, PhaseIdle)
	}
	if st.PendingIntent != nil || len(st.FilledSlots) != 0 || st.ConfirmRetries != 0 {
		t.Fatalf("Reset left residual state: %+v", st)
	}
}
