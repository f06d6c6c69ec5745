// Package temporal converts the locale date/time strings reported by fleet
// trackers into comparable epoch-millisecond instants.
package temporal

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Parser resolves locale date/time pairs in a fixed location
type Parser struct {
	loc *time.Location
}

// NewParser creates a parser for the given location. A nil location means UTC.
func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{loc: loc}
}

// NewParserForZone creates a parser from an IANA zone name such as "Asia/Ho_Chi_Minh"
func NewParserForZone(name string) (*Parser, error) {
	if name == "" {
		return NewParser(time.UTC), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return NewParser(loc), nil
}

var defaultParser = NewParser(time.UTC)

// Parse resolves a DD/MM/YYYY date and HH:MM:SS time in UTC.
// The second result is false when either string is malformed.
func Parse(date, clock string) (int64, bool) {
	return defaultParser.Parse(date, clock)
}

// Location returns the location instants are resolved in
func (p *Parser) Location() *time.Location {
	return p.loc
}

// Parse resolves a date and time-of-day into epoch milliseconds
func (p *Parser) Parse(date, clock string) (int64, bool) {
	y, m, d, ok := splitDate(date)
	if !ok {
		return 0, false
	}
	h, mi, s, ok := splitClock(clock)
	if !ok {
		return 0, false
	}
	return time.Date(y, time.Month(m), d, h, mi, s, 0, p.loc).UnixMilli(), true
}

// Format projects an instant back to locale date and time strings
func (p *Parser) Format(ms int64) (string, string) {
	t := time.UnixMilli(ms).In(p.loc)
	return t.Format("02/01/2006"), t.Format("15:04:05")
}

// DayKey returns the sortable YYYY-MM-DD form of a locale date
func DayKey(date string) (string, bool) {
	y, m, d, ok := splitDate(date)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d), true
}

// DateOnly strips anything after the date component of a date string
func DateOnly(date string) string {
	date = strings.TrimSpace(date)
	if i := strings.IndexAny(date, " T"); i >= 0 {
		return date[:i]
	}
	return date
}

// MinuteOfDay returns hours*60 + minutes + round(seconds/60)
func MinuteOfDay(clock string) (int, bool) {
	h, m, s, ok := splitClock(clock)
	if !ok {
		return 0, false
	}
	return h*60 + m + int(math.Round(float64(s)/60)), true
}

// Overlaps reports whether the closed intervals [aStart,aEnd] and
// [bStart,bEnd] share at least one instant. Touching boundaries overlap.
func Overlaps(aStart, aEnd, bStart, bEnd int64) bool {
	return aStart <= bEnd && bStart <= aEnd
}

func splitDate(date string) (year, month, day int, ok bool) {
	date = DateOnly(date)
	sep := strings.IndexAny(date, "/-.")
	if sep < 0 {
		return 0, 0, 0, false
	}
	parts := strings.Split(date, date[sep:sep+1])
	if len(parts) != 3 || len(parts[0]) > 2 || len(parts[1]) > 2 || len(parts[2]) != 4 {
		return 0, 0, 0, false
	}

	var nums [3]int
	for i, part := range parts {
		if part == "" || strings.Trim(part, "0123456789") != "" {
			return 0, 0, 0, false
		}
		nums[i], _ = strconv.Atoi(part)
	}
	day, month, year = nums[0], nums[1], nums[2]

	if month < 1 || month > 12 || day < 1 || year < 1 || year > 9999 {
		return 0, 0, 0, false
	}
	// time.Date normalizes 31/02 into March; reject instead
	if t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC); t.Day() != day {
		return 0, 0, 0, false
	}
	return year, month, day, true
}

func splitClock(clock string) (hour, minute, second int, ok bool) {
	clock = strings.TrimSpace(clock)
	if clock == "" {
		return 0, 0, 0, false
	}
	parts := strings.Split(clock, ":")
	if len(parts) > 3 {
		return 0, 0, 0, false
	}

	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return 0, 0, 0, false
		}
		nums[i] = n
	}
	hour, minute, second = nums[0], nums[1], nums[2]

	if hour > 23 || minute > 59 || second > 59 {
		return 0, 0, 0, false
	}
	return hour, minute, second, true
}
