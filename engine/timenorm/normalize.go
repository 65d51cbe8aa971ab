package timenorm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	statex "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/state"
)

// DefaultDuration applies when the expression carries no explicit duration.
const DefaultDuration = 30 * time.Minute

// Result is either a resolved window or an ambiguity report, never both.
// LowConfidenceTZ flags that UTC was assumed because neither the expression
// nor the caller supplied a timezone; callers should confirm with the user.
type Result struct {
	Window          statex.TimeWindow
	Ambiguity       *contractx.AmbiguityReport
	LowConfidenceTZ bool
}

func (r Result) Ambiguous() bool {
	return r.Ambiguity != nil
}

var (
	reDuration = regexp.MustCompile(`(?:for\s+)?(\d+)\s*(minutes?|mins?|m\b|hours?|hrs?|h\b)`)
	reHalfHour = regexp.MustCompile(`half\s+an\s+hour`)
	reAnHour   = regexp.MustCompile(`an\s+hour`)

	reClock    = regexp.MustCompile(`(\d{1,2}):(\d{2})\s*(am|pm)?`)
	reHourAMPM = regexp.MustCompile(`(\d{1,2})\s*(am|pm)`)
	reAtHour   = regexp.MustCompile(`at\s+(\d{1,2})\b`)

	reISODate  = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	reMonthDay = regexp.MustCompile(`(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec)\s+(\d{1,2})(?:st|nd|rd|th)?`)
	reInN      = regexp.MustCompile(`in\s+(\d+)\s+(days?|weeks?)`)
	reWeekday  = regexp.MustCompile(`(next\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)`)
	reVague    = regexp.MustCompile(`(next|this)\s+(week|month)`)
)

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	"sunday": time.Sunday,
}

// tzAbbrevs maps common spoken abbreviations onto IANA zones.
var tzAbbrevs = map[string]string{
	"utc": "UTC", "gmt": "UTC",
	"est": "America/New_York", "edt": "America/New_York", "eastern": "America/New_York",
	"cst": "America/Chicago", "cdt": "America/Chicago", "central": "America/Chicago",
	"mst": "America/Denver", "mdt": "America/Denver", "mountain": "America/Denver",
	"pst": "America/Los_Angeles", "pdt": "America/Los_Angeles", "pacific": "America/Los_Angeles",
	"bst": "Europe/London", "cet": "Europe/Paris", "cest": "Europe/Paris",
}

// Normalize resolves a free-text temporal expression against a reference
// instant in the user's timezone. Underspecified-but-parseable expressions
// come back as an AmbiguityReport; only input with no temporal content at all
// fails with ErrMalformedTemporalExpression.
//
// Precedence: a timezone stated in the expression overrides userTZ; absent
// both, UTC is assumed and flagged low-confidence.
func Normalize(expression string, ref time.Time, userTZ string) (Result, error) {
	text := strings.ToLower(strings.TrimSpace(expression))
	if text == "" {
		return Result{}, fmt.Errorf("%w: empty expression", contractx.ErrMalformedTemporalExpression)
	}

	tzName, explicitTZ, text := extractTimezone(text)
	lowConfidence := false
	if !explicitTZ {
		tzName = strings.TrimSpace(userTZ)
		if tzName == "" {
			tzName = "UTC"
			lowConfidence = true
		}
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		// Unknown caller timezone degrades to UTC rather than failing the turn.
		tzName, loc, lowConfidence = "UTC", time.UTC, true
	}

	duration, hasDuration, text := extractDuration(text)
	if !hasDuration {
		duration = DefaultDuration
	}

	clock, hasTime, text := extractClock(text)
	day, dateKind, text := extractDate(text, ref.In(loc))

	if dateKind == dateNone && !hasTime && !hasDuration {
		return Result{}, fmt.Errorf("%w: %q", contractx.ErrMalformedTemporalExpression, expression)
	}

	switch dateKind {
	case dateVague:
		unresolved := []statex.SlotName{statex.SlotDate}
		slot := statex.SlotDate
		reason := "no day specified"
		if !hasTime {
			// Neither a concrete day nor a time of day: report on time, carrying
			// the full unresolved set so the caller clears both slots.
			unresolved = append(unresolved, statex.SlotTime)
			slot = statex.SlotTime
			reason = "no day or time of day specified"
		}
		return Result{
			Ambiguity:       &contractx.AmbiguityReport{Slot: slot, Unresolved: unresolved, Reason: reason},
			LowConfidenceTZ: lowConfidence,
		}, nil
	case dateNone:
		// A bare time of day or duration never guesses a day.
		return Result{
			Ambiguity: &contractx.AmbiguityReport{
				Slot:       statex.SlotDate,
				Unresolved: []statex.SlotName{statex.SlotDate},
				Reason:     "no day specified",
			},
			LowConfidenceTZ: lowConfidence,
		}, nil
	}

	if !hasTime {
		return Result{
			Ambiguity: &contractx.AmbiguityReport{
				Slot:       statex.SlotTime,
				Unresolved: []statex.SlotName{statex.SlotTime},
				Reason:     "no time of day specified",
			},
			LowConfidenceTZ: lowConfidence,
		}, nil
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), clock.hour, clock.minute, 0, 0, loc)
	window := statex.TimeWindow{
		Start:    start.UTC(),
		End:      start.Add(duration).UTC(),
		Timezone: tzName,
	}
	if err := window.Validate(); err != nil {
		return Result{}, err
	}

	return Result{Window: window, LowConfidenceTZ: lowConfidence}, nil
}

/* ------------------------------- extraction ------------------------------ */

type clockTime struct {
	hour   int
	minute int
}

func extractTimezone(text string) (string, bool, string) {
	for _, token := range strings.Fields(text) {
		trimmed := strings.Trim(token, ".,;:!?")
		if name, ok := tzAbbrevs[trimmed]; ok {
			return name, true, blank(text, trimmed)
		}
		if strings.Contains(trimmed, "/") {
			if _, err := time.LoadLocation(canonicalZone(trimmed)); err == nil {
				return canonicalZone(trimmed), true, blank(text, trimmed)
			}
		}
	}
	return "", false, text
}

// canonicalZone restores the case IANA expects ("america/new_york" is stored
// lowercased by the tokenizer).
func canonicalZone(token string) string {
	parts := strings.Split(token, "/")
	for i, part := range parts {
		segs := strings.Split(part, "_")
		for j, seg := range segs {
			if seg == "" {
				continue
			}
			segs[j] = strings.ToUpper(seg[:1]) + seg[1:]
		}
		parts[i] = strings.Join(segs, "_")
	}
	return strings.Join(parts, "/")
}

func extractDuration(text string) (time.Duration, bool, string) {
	if loc := reHalfHour.FindStringIndex(text); loc != nil {
		return 30 * time.Minute, true, text[:loc[0]] + strings.Repeat(" ", loc[1]-loc[0]) + text[loc[1]:]
	}
	if m := reDuration.FindStringSubmatchIndex(text); m != nil {
		n, _ := strconv.Atoi(text[m[2]:m[3]])
		unit := text[m[4]:m[5]]
		d := time.Duration(n) * time.Minute
		if strings.HasPrefix(unit, "h") {
			d = time.Duration(n) * time.Hour
		}
		return d, true, text[:m[0]] + strings.Repeat(" ", m[1]-m[0]) + text[m[1]:]
	}
	if loc := reAnHour.FindStringIndex(text); loc != nil {
		return time.Hour, true, text[:loc[0]] + strings.Repeat(" ", loc[1]-loc[0]) + text[loc[1]:]
	}
	return 0, false, text
}

func extractClock(text string) (clockTime, bool, string) {
	if strings.Contains(text, "noon") {
		return clockTime{hour: 12}, true, blank(text, "noon")
	}
	if strings.Contains(text, "midnight") {
		return clockTime{hour: 0}, true, blank(text, "midnight")
	}
	if m := reClock.FindStringSubmatchIndex(text); m != nil {
		hour, _ := strconv.Atoi(text[m[2]:m[3]])
		minute, _ := strconv.Atoi(text[m[4]:m[5]])
		if m[6] >= 0 {
			hour = to24h(hour, text[m[6]:m[7]])
		}
		if hour < 24 && minute < 60 {
			return clockTime{hour: hour, minute: minute}, true, cut(text, m)
		}
	}
	if m := reHourAMPM.FindStringSubmatchIndex(text); m != nil {
		hour, _ := strconv.Atoi(text[m[2]:m[3]])
		hour = to24h(hour, text[m[4]:m[5]])
		if hour < 24 {
			return clockTime{hour: hour}, true, cut(text, m)
		}
	}
	if m := reAtHour.FindStringSubmatchIndex(text); m != nil {
		hour, _ := strconv.Atoi(text[m[2]:m[3]])
		if hour < 24 {
			return clockTime{hour: hour}, true, cut(text, m)
		}
	}
	return clockTime{}, false, text
}

func to24h(hour int, meridiem string) int {
	if meridiem == "pm" && hour < 12 {
		return hour + 12
	}
	if meridiem == "am" && hour == 12 {
		return 0
	}
	return hour
}

type dateKind int

const (
	dateNone dateKind = iota
	dateResolved
	dateVague
)

// extractDate resolves the day portion against ref (already in the target
// location). Vague spans like "next week" parse but stay unresolved.
func extractDate(text string, ref time.Time) (time.Time, dateKind, string) {
	if reVague.MatchString(text) {
		return time.Time{}, dateVague, text
	}
	if strings.Contains(text, "day after tomorrow") {
		return ref.AddDate(0, 0, 2), dateResolved, blank(text, "day after tomorrow")
	}
	if strings.Contains(text, "tomorrow") {
		return ref.AddDate(0, 0, 1), dateResolved, blank(text, "tomorrow")
	}
	if strings.Contains(text, "today") || strings.Contains(text, "tonight") {
		return ref, dateResolved, text
	}
	if m := reISODate.FindStringSubmatchIndex(text); m != nil {
		year, _ := strconv.Atoi(text[m[2]:m[3]])
		month, _ := strconv.Atoi(text[m[4]:m[5]])
		day, _ := strconv.Atoi(text[m[6]:m[7]])
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			return time.Date(year, time.Month(month), day, 0, 0, 0, 0, ref.Location()), dateResolved, cut(text, m)
		}
	}
	if m := reInN.FindStringSubmatchIndex(text); m != nil {
		n, _ := strconv.Atoi(text[m[2]:m[3]])
		days := n
		if strings.HasPrefix(text[m[4]:m[5]], "week") {
			days = n * 7
		}
		return ref.AddDate(0, 0, days), dateResolved, cut(text, m)
	}
	if m := reMonthDay.FindStringSubmatchIndex(text); m != nil {
		month := months[text[m[2]:m[3]]]
		day, _ := strconv.Atoi(text[m[4]:m[5]])
		if day >= 1 && day <= 31 {
			candidate := time.Date(ref.Year(), month, day, 0, 0, 0, 0, ref.Location())
			if candidate.Before(time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())) {
				candidate = candidate.AddDate(1, 0, 0)
			}
			return candidate, dateResolved, cut(text, m)
		}
	}
	if m := reWeekday.FindStringSubmatchIndex(text); m != nil {
		hasNext := m[2] >= 0
		target := weekdays[text[m[4]:m[5]]]
		delta := (int(target) - int(ref.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		if hasNext && delta < 7 {
			delta += 7
		}
		return ref.AddDate(0, 0, delta), dateResolved, cut(text, m)
	}
	return time.Time{}, dateNone, text
}

func blank(text, sub string) string {
	return strings.Replace(text, sub, strings.Repeat(" ", len(sub)), 1)
}

func cut(text string, match []int) string {
	return text[:match[0]] + strings.Repeat(" ", match[1]-match[0]) + text[match[1]:]
}
