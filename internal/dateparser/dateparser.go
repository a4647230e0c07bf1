// Package dateparser turns the free-form date text portals render into
// naive local timestamps.
package dateparser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/text/unicode/norm"

	"github.com/heeplr/document-dl/internal/components/chrono"
)

// TypeError is returned for inputs that are neither text nor a time.
type TypeError struct {
	Value any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("cannot parse date from %T", e.Value)
}

var dotSpaceRegex = regexp.MustCompile(`\s*\.\s*`)

// weekdayRegex matches a leading english or german weekday, e.g. "fri, " or
// "montag ".
var weekdayRegex = regexp.MustCompile(`^(mon|tue|wed|thu|fri|sat|sun|mo|di|mi|do|fr|sa|so)[a-z]*\.?,?\s+`)

var (
	usLayouts     = []string{"1/2/2006", "1/2/2006 15:04:05"}
	germanLayouts = []string{"2.1.2006", "2.1.06"}
	// the shapes month replacement leaves behind, e.g. "15 3.2024" for
	// "15 march 2024" or "3.15, 2024" for "march 15, 2024"
	replacedLayouts = []string{
		"2.1.2006 15:04:05",
		"2.1.2006 15:04",
		"2.1.2006, 15:04",
		"2 1.2006",
		"2 1.2006 15:04",
		"1.2, 2006",
		"1.2 2006",
		"1.2006",
	}
)

const yearDayMonthLayout = "20060201"

// Parser parses dates relative to its clock.
type Parser struct {
	Clock chrono.API
}

// New creates a parser, a nil clock means the system clock.
func New(clock chrono.API) Parser {
	if clock == nil {
		clock = chrono.NewStandardImpl()
	}
	return Parser{Clock: clock}
}

var defaultParser = New(nil)

// Parse parses input with the system clock, see Parser.Parse.
func Parse(input any, layout string) (any, error) {
	return defaultParser.Parse(input, layout)
}

// Value parses text and falls back to the text itself when it is not a date.
func Value(text string, layout string) any {
	out, err := defaultParser.Parse(text, layout)
	if err != nil {
		return text
	}
	return out
}

// Parse converts input into a naive local time.Time.
//
// A nil input yields nil, a time.Time is returned as its wall clock in the
// local zone. Text is tried against a fixed sequence of interpretations and
// returned unchanged when none fits. A non-empty layout (a Go reference
// layout) replaces the sequence and its failure is returned as error.
func (p Parser) Parse(input any, layout string) (any, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return naive(v), nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		return naive(*v), nil
	case string:
		if v == "" {
			return v, nil
		}
		t, ok, err := p.parseText(v, layout)
		if err != nil {
			return nil, err
		}
		if !ok {
			return v, nil
		}
		return t, nil
	default:
		return nil, &TypeError{Value: input}
	}
}

// Time is the typed variant of Parse for text input.
func (p Parser) Time(text string) (time.Time, bool) {
	t, ok, err := p.parseText(text, "")
	if err != nil || !ok {
		return time.Time{}, false
	}
	return t, true
}

func (p Parser) parseText(text string, layout string) (time.Time, bool, error) {
	raw := strings.ToLower(strings.TrimSpace(norm.NFC.String(text)))
	if raw == "" {
		return time.Time{}, false, nil
	}
	date := weekdayRegex.ReplaceAllString(raw, "")
	date = dotSpaceRegex.ReplaceAllString(replaceMonths(date), ".")

	now := naive(p.Clock.Now())
	switch date {
	case "now", "today":
		return now, true, nil
	case "yesterday":
		return now.AddDate(0, 0, -1), true, nil
	case "tomorrow":
		return now.AddDate(0, 0, 1), true, nil
	case "last month", "lastmonth":
		return now.AddDate(0, 0, -30), true, nil
	case "last week", "lastweek":
		return now.AddDate(0, 0, -7), true, nil
	}

	if layout != "" {
		t, err := time.ParseInLocation(layout, date, time.Local)
		if err == nil {
			return naive(t), true, nil
		}
		// layouts with month names need the text before replacement
		t, err2 := time.ParseInLocation(layout, strings.TrimSpace(text), time.Local)
		if err2 == nil {
			return naive(t), true, nil
		}
		return time.Time{}, false, fmt.Errorf("parse %q with layout %q: %w", text, layout, err)
	}

	for _, l := range usLayouts {
		if t, err := time.ParseInLocation(l, date, time.Local); err == nil {
			return t, true, nil
		}
	}
	for _, l := range germanLayouts {
		if t, err := time.ParseInLocation(l, date, time.Local); err == nil {
			return t, true, nil
		}
	}

	if t, ok := fuzzy(date); ok {
		return t, true, nil
	}

	if t, err := time.ParseInLocation(yearDayMonthLayout, date, time.Local); err == nil {
		return t, true, nil
	}

	// before the suffix strip, which would cut the clock off
	if t, ok := parseOddball(raw); ok {
		return t, true, nil
	}

	if stripped := stripSuffix(date); stripped != date && stripped != "" {
		if t, ok := fuzzy(stripped); ok {
			return t, true, nil
		}
	}

	if seconds, err := strconv.ParseInt(date, 10, 64); err == nil {
		return naive(time.Unix(seconds, 0)), true, nil
	}

	return time.Time{}, false, nil
}

// fuzzy tries the layouts month replacement produces, then the general
// purpose parser as is and uppercased (it only knows "T" and "Z" in caps).
// A result without a year is a fragment, not a date.
func fuzzy(date string) (time.Time, bool) {
	for _, l := range replacedLayouts {
		if t, err := time.ParseInLocation(l, date, time.Local); err == nil {
			return t, true
		}
	}
	for _, candidate := range []string{date, strings.ToUpper(date)} {
		t, err := dateparse.ParseIn(candidate, time.Local)
		if err == nil && t.Year() != 0 {
			return naive(t), true
		}
	}
	return time.Time{}, false
}

// stripSuffix cuts off zone offsets and fractions.
func stripSuffix(date string) string {
	for _, sep := range []string{"+", "z", "."} {
		if before, _, ok := strings.Cut(date, sep); ok {
			date = before
		}
	}
	return strings.TrimSpace(date)
}

// parseOddball handles "2015-Jan-Thut05:01:39AKDT", seen in the wild.
// Weekday and zone are glued to their neighbours, so they are cut by
// position before parsing.
func parseOddball(raw string) (time.Time, bool) {
	// yyyy-mmm-wwwt hh:mm:ss zzzz
	if len(raw) < len("2006-jan-mont15:04:05") {
		return time.Time{}, false
	}
	datePart := raw[:len("2006-jan-")]
	rest := raw[len("2006-jan-"):]
	if len(rest) < len("mont15:04:05") || rest[3] != 't' {
		return time.Time{}, false
	}
	clock := rest[4 : 4+len("15:04:05")]
	t, err := time.ParseInLocation("2006-Jan-15:04:05", datePart+clock, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// naive keeps the wall clock reading and drops the zone.
func naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.Local)
}
