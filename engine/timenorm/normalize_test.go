package timenorm

import (
	"errors"
	"testing"
	"time"

	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

// 2026-03-10 is a Tuesday.
var ref = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestNormalizeTomorrowWithTimeAndDuration(t *testing.T) {
	t.Parallel()

	got, err := Normalize("tomorrow at 3pm for 45 minutes", ref, "")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.Ambiguous() {
		t.Fatalf("unexpected ambiguity: %+v", got.Ambiguity)
	}

	wantStart := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)
	if !got.Window.Start.Equal(wantStart) {
		t.Fatalf("Start = %v, want %v", got.Window.Start, wantStart)
	}
	if got.Window.Duration() != 45*time.Minute {
		t.Fatalf("Duration = %v, want 45m", got.Window.Duration())
	}
	if !got.LowConfidenceTZ {
		t.Fatal("expected low-confidence UTC fallback without a user timezone")
	}
}

func TestNormalizeUsesUserTimezone(t *testing.T) {
	t.Parallel()

	got, err := Normalize("tomorrow at 3pm", ref, "America/New_York")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.Ambiguous() {
		t.Fatalf("unexpected ambiguity: %+v", got.Ambiguity)
	}

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	wantStart := time.Date(2026, 3, 11, 15, 0, 0, 0, loc)
	if !got.Window.Start.Equal(wantStart) {
		t.Fatalf("Start = %v, want %v", got.Window.Start, wantStart)
	}
	if got.Window.Timezone != "America/New_York" {
		t.Fatalf("Timezone = %q, want America/New_York", got.Window.Timezone)
	}
	if got.LowConfidenceTZ {
		t.Fatal("user timezone provided, should not be low confidence")
	}
	if got.Window.Duration() != DefaultDuration {
		t.Fatalf("Duration = %v, want default %v", got.Window.Duration(), DefaultDuration)
	}
}

func TestNormalizeExplicitTimezoneOverridesUser(t *testing.T) {
	t.Parallel()

	got, err := Normalize("tomorrow at 3pm pst", ref, "America/New_York")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	wantStart := time.Date(2026, 3, 11, 15, 0, 0, 0, loc)
	if !got.Window.Start.Equal(wantStart) {
		t.Fatalf("Start = %v, want %v", got.Window.Start, wantStart)
	}
	if got.Window.Timezone != "America/Los_Angeles" {
		t.Fatalf("Timezone = %q, want America/Los_Angeles", got.Window.Timezone)
	}
}

func TestNormalizeVagueSpanReportsBothSlots(t *testing.T) {
	t.Parallel()

	got, err := Normalize("sometime next week", ref, "UTC")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !got.Ambiguous() {
		t.Fatal("expected ambiguity for a vague span")
	}
	if got.Ambiguity.Slot != statex.SlotTime {
		t.Fatalf("Slot = %q, want time", got.Ambiguity.Slot)
	}
	want := map[statex.SlotName]bool{statex.SlotDate: true, statex.SlotTime: true}
	for _, slot := range got.Ambiguity.Unresolved {
		delete(want, slot)
	}
	if len(want) != 0 {
		t.Fatalf("Unresolved = %v, missing %v", got.Ambiguity.Unresolved, want)
	}
}

func TestNormalizeVagueSpanWithTimeReportsDateOnly(t *testing.T) {
	t.Parallel()

	got, err := Normalize("next week at 2pm", ref, "UTC")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !got.Ambiguous() {
		t.Fatal("expected ambiguity")
	}
	if got.Ambiguity.Slot != statex.SlotDate {
		t.Fatalf("Slot = %q, want date", got.Ambiguity.Slot)
	}
	if len(got.Ambiguity.Unresolved) != 1 || got.Ambiguity.Unresolved[0] != statex.SlotDate {
		t.Fatalf("Unresolved = %v, want [date]", got.Ambiguity.Unresolved)
	}
}

func TestNormalizeBareTimeNeverGuessesADay(t *testing.T) {
	t.Parallel()

	got, err := Normalize("at 3pm", ref, "UTC")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !got.Ambiguous() || got.Ambiguity.Slot != statex.SlotDate {
		t.Fatalf("expected date ambiguity, got %+v", got)
	}
}

func TestNormalizeDateWithoutTimeAsksForTime(t *testing.T) {
	t.Parallel()

	got, err := Normalize("tomorrow", ref, "UTC")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !got.Ambiguous() || got.Ambiguity.Slot != statex.SlotTime {
		t.Fatalf("expected time ambiguity, got %+v", got)
	}
}

func TestNormalizeNonTemporalInputFails(t *testing.T) {
	t.Parallel()

	_, err := Normalize("hello there", ref, "UTC")
	if !errors.Is(err, contractx.ErrMalformedTemporalExpression) {
		t.Fatalf("error = %v, want ErrMalformedTemporalExpression", err)
	}
}

func TestNormalizeWeekdays(t *testing.T) {
	t.Parallel()

	// Bare "friday" from a Tuesday is this week's Friday.
	got, err := Normalize("friday at 10am", ref, "UTC")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	wantStart := time.Date(2026, 3, 13, 10, 0, 0, 0, time.UTC)
	if !got.Window.Start.Equal(wantStart) {
		t.Fatalf("Start = %v, want %v", got.Window.Start, wantStart)
	}

	// "next tuesday" from a Tuesday skips a full week.
	got, err = Normalize("next tuesday at 10am", ref, "UTC")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	wantStart = time.Date(2026, 3, 17, 10, 0, 0, 0, time.UTC)
	if !got.Window.Start.Equal(wantStart) {
		t.Fatalf("Start = %v, want %v", got.Window.Start, wantStart)
	}
}

func TestNormalizeISODateAndClock(t *testing.T) {
	t.Parallel()

	got, err := Normalize("2026-09-30 at 14:30 for 1 hour", ref, "UTC")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	wantStart := time.Date(2026, 9, 30, 14, 30, 0, 0, time.UTC)
	if !got.Window.Start.Equal(wantStart) {
		t.Fatalf("Start = %v, want %v", got.Window.Start, wantStart)
	}
	if got.Window.Duration() != time.Hour {
		t.Fatalf("Duration = %v, want 1h", got.Window.Duration())
	}
}

func TestNormalizeInNDays(t *testing.T) {
	t.Parallel()

	got, err := Normalize("in 2 days at noon", ref, "UTC")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	wantStart := time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)
	if !got.Window.Start.Equal(wantStart) {
		t.Fatalf("Start = %v, want %v", got.Window.Start, wantStart)
	}
}
