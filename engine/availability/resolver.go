package availability

import (
	"sort"
	"time"

	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

type Status string

const (
	StatusFree           Status = "free"
	StatusConflict       Status = "conflict"
	StatusNoAvailability Status = "no_availability_in_horizon"
)

const (
	defaultHorizon       = 7 * 24 * time.Hour
	defaultStep          = 15 * time.Minute
	defaultMaxCandidates = 3
	defaultBusinessStart = 9
	defaultBusinessEnd   = 18
)

// Result reports whether the requested window is conflict-free and, on
// conflict, up to MaxCandidates alternatives of the same duration.
// StatusNoAvailability is a normal outcome, not an error: the caller should
// ask the user to widen the horizon or change the duration.
type Result struct {
	Status     Status
	Requested  statex.TimeWindow
	Candidates []statex.TimeWindow
}

type Options struct {
	// Horizon bounds the forward search for alternatives.
	Horizon time.Duration
	// Step is the alignment of candidate start times.
	Step time.Duration
	// MaxCandidates caps the number of proposed alternatives.
	MaxCandidates int
	// BusinessStart/BusinessEnd bound candidate slots to working hours in the
	// requested window's timezone. The requested window itself is never
	// constrained; the user asked for that exact time.
	BusinessStart int
	BusinessEnd   int
}

type Option func(*Options)

func WithHorizon(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Horizon = d
		}
	}
}

func WithStep(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Step = d
		}
	}
}

func WithBusinessHours(start, end int) Option {
	return func(o *Options) {
		if start >= 0 && end > start && end <= 24 {
			o.BusinessStart = start
			o.BusinessEnd = end
		}
	}
}

// Resolve checks the requested window against the account's busy intervals.
// busy may arrive unmerged and overlapping; it is merged internally. All
// comparisons are half-open on absolute instants: a window ending exactly when
// a busy interval starts is not a conflict.
func Resolve(requested statex.TimeWindow, duration time.Duration, busy []statex.TimeWindow, opts ...Option) Result {
	options := Options{
		Horizon:       defaultHorizon,
		Step:          defaultStep,
		MaxCandidates: defaultMaxCandidates,
		BusinessStart: defaultBusinessStart,
		BusinessEnd:   defaultBusinessEnd,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if duration <= 0 {
		duration = requested.Duration()
	}

	merged := MergeBusy(busy)
	if !conflicts(requested, merged) {
		return Result{Status: StatusFree, Requested: requested}
	}

	candidates := findCandidates(requested, duration, merged, options)
	if len(candidates) == 0 {
		return Result{Status: StatusNoAvailability, Requested: requested}
	}
	return Result{Status: StatusConflict, Requested: requested, Candidates: candidates}
}

// MergeBusy sorts intervals by start and coalesces overlapping or touching
// ones. Provider data is not guaranteed pre-merged.
func MergeBusy(busy []statex.TimeWindow) []statex.TimeWindow {
	if len(busy) == 0 {
		return nil
	}
	sorted := make([]statex.TimeWindow, len(busy))
	copy(sorted, busy)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := make([]statex.TimeWindow, 0, len(sorted))
	current := sorted[0]
	for _, next := range sorted[1:] {
		if !next.Start.After(current.End) {
			if next.End.After(current.End) {
				current.End = next.End
			}
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}

func conflicts(window statex.TimeWindow, merged []statex.TimeWindow) bool {
	for _, b := range merged {
		if window.Overlaps(b) {
			return true
		}
	}
	return false
}

// findCandidates proposes alternatives in preference order: the earliest free
// slot after the requested start, then a slot on the same local day, then the
// same time of day on a subsequent day.
func findCandidates(requested statex.TimeWindow, duration time.Duration, merged []statex.TimeWindow, options Options) []statex.TimeWindow {
	loc := requested.Location()
	horizonEnd := requested.Start.Add(options.Horizon)

	var candidates []statex.TimeWindow
	add := func(w statex.TimeWindow) {
		if len(candidates) >= options.MaxCandidates {
			return
		}
		w.Timezone = requested.Timezone
		if w.Equal(requested) {
			return
		}
		for _, c := range candidates {
			if c.Equal(w) {
				return
			}
		}
		candidates = append(candidates, w)
	}

	// 1. Earliest non-conflicting slot scanning forward from the request.
	if earliest, ok := scanForward(requested.Start, horizonEnd, duration, merged, loc, options, true); ok {
		add(earliest)
	}

	// 2. A slot later on the same local day, if one exists.
	localStart := requested.Start.In(loc)
	dayEnd := time.Date(localStart.Year(), localStart.Month(), localStart.Day(), options.BusinessEnd, 0, 0, 0, loc)
	if sameDay, ok := scanForward(requested.Start, dayEnd.UTC(), duration, merged, loc, options, true); ok {
		add(sameDay)
	}

	// 3. The same time of day on subsequent days.
	for days := 1; len(candidates) < options.MaxCandidates; days++ {
		shifted := localStart.AddDate(0, 0, days)
		if shifted.UTC().Add(duration).After(horizonEnd) {
			break
		}
		w := statex.TimeWindow{
			Start:    shifted.UTC(),
			End:      shifted.Add(duration).UTC(),
			Timezone: requested.Timezone,
		}
		if !conflicts(w, merged) {
			add(w)
		}
	}

	return candidates
}

// scanForward walks step-aligned start times in [from, until) and returns the
// first free window, bounded to business hours when requested.
func scanForward(from, until time.Time, duration time.Duration, merged []statex.TimeWindow, loc *time.Location, options Options, businessOnly bool) (statex.TimeWindow, bool) {
	start := from.Truncate(options.Step)
	if start.Before(from) {
		start = start.Add(options.Step)
	}
	for ; start.Add(duration).Before(until) || start.Add(duration).Equal(until); start = start.Add(options.Step) {
		w := statex.TimeWindow{Start: start, End: start.Add(duration)}
		if businessOnly && !withinBusinessHours(w, loc, options) {
			continue
		}
		if !conflicts(w, merged) {
			return w, true
		}
	}
	return statex.TimeWindow{}, false
}

func withinBusinessHours(w statex.TimeWindow, loc *time.Location, options Options) bool {
	localStart := w.Start.In(loc)
	localEnd := w.End.In(loc)
	dayOpen := time.Date(localStart.Year(), localStart.Month(), localStart.Day(), options.BusinessStart, 0, 0, 0, loc)
	dayClose := time.Date(localStart.Year(), localStart.Month(), localStart.Day(), options.BusinessEnd, 0, 0, 0, loc)
	return !localStart.Before(dayOpen) && !localEnd.After(dayClose)
}
