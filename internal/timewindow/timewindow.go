// Package timewindow parses vendor-entered meal time ranges such as
// "8:00–10:00 AM", "11:00 AM-3:00 PM" or "11 to 3" into minute-of-day
// intervals.
//
// Separators may be an en dash, an em dash, a hyphen or the word "to". When
// only one side carries an AM/PM marker it applies to both sides. When neither
// side carries one, hours below 12 are read as AM and 12 or above as PM; if
// that would leave the end before the start, the end is moved into the
// afternoon ("11 to 3" reads as 11:00-15:00).
//
// Ranges never wrap past midnight.
package timewindow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Clock is a 24-hour wall-clock point.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

type Range struct {
	Start Clock
	End   Clock
}

// Contains reports whether t's minute-of-day lies within the range, inclusive.
func (r Range) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	return m >= r.Start.Minutes() && m <= r.End.Minutes()
}

var (
	separator = regexp.MustCompile(`(?i)\s*(?:–|—|-|\bto\b)\s*`)
	half      = regexp.MustCompile(`(?i)^(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?$`)
)

type point struct {
	hour     int
	minute   int
	meridiem string // "am", "pm" or ""
}

// Parse returns ok=false for anything it cannot read. Callers treat that as
// "this slot is not available now".
func Parse(s string) (Range, bool) {
	parts := separator.Split(strings.TrimSpace(s), -1)
	if len(parts) != 2 {
		return Range{}, false
	}

	start, ok := parsePoint(parts[0])
	if !ok {
		return Range{}, false
	}
	end, ok := parsePoint(parts[1])
	if !ok {
		return Range{}, false
	}

	inferredEnd := false
	switch {
	case start.meridiem == "" && end.meridiem != "":
		start.meridiem = end.meridiem
	case start.meridiem != "" && end.meridiem == "":
		end.meridiem = start.meridiem
	case start.meridiem == "" && end.meridiem == "":
		start.meridiem = guessMeridiem(start.hour)
		end.meridiem = guessMeridiem(end.hour)
		inferredEnd = true
	}

	sc, ok := start.clock()
	if !ok {
		return Range{}, false
	}
	ec, ok := end.clock()
	if !ok {
		return Range{}, false
	}

	if inferredEnd && ec.Minutes() < sc.Minutes() && end.meridiem == "am" && end.hour < 12 {
		end.meridiem = "pm"
		ec, _ = end.clock()
	}

	return Range{Start: sc, End: ec}, true
}

// MustParse panics on malformed input. Intended for fixtures.
func MustParse(s string) Range {
	r, ok := Parse(s)
	if !ok {
		panic("timewindow: cannot parse " + strconv.Quote(s))
	}
	return r
}

func parsePoint(s string) (point, bool) {
	m := half.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return point{}, false
	}
	h, err := strconv.Atoi(m[1])
	if err != nil {
		return point{}, false
	}
	p := point{hour: h}
	if m[2] != "" {
		if p.minute, err = strconv.Atoi(m[2]); err != nil {
			return point{}, false
		}
	}
	if m[3] != "" {
		p.meridiem = strings.ReplaceAll(strings.ToLower(m[3]), ".", "")
	}
	return p, true
}

func guessMeridiem(hour int) string {
	if hour >= 12 {
		return "pm"
	}
	return "am"
}

func (p point) clock() (Clock, bool) {
	if p.minute < 0 || p.minute > 59 {
		return Clock{}, false
	}
	h := p.hour
	switch {
	case h > 12:
		// 24-hour value written without a marker, e.g. "13:30 to 15:00".
		if h > 23 || p.meridiem == "am" {
			return Clock{}, false
		}
	case h == 12:
		if p.meridiem == "am" {
			h = 0
		}
	case h == 0:
		if p.meridiem == "pm" {
			return Clock{}, false
		}
	default:
		if p.meridiem == "pm" {
			h += 12
		}
	}
	return Clock{Hour: h, Minute: p.minute}, true
}
