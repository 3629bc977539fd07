// Package cron implements the 5-field cron expressions used by scheduled tasks:
// parsing into field sets, matching a timestamp and finding the next
// matching minute.
//
// Day-of-month and day-of-week are ANDed: a time matches only when both
// fields contain it. This deliberately differs from the classic Vixie cron
// rule, where two restricted day fields are ORed.
package cron

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// Field bounds.
const (
	MinuteMin, MinuteMax         = 0, 59
	HourMin, HourMax             = 0, 23
	DayOfMonthMin, DayOfMonthMax = 1, 31
	MonthMin, MonthMax           = 1, 12
	DayOfWeekMin, DayOfWeekMax   = 0, 6
)

const fieldCount = 5

var (
	ErrFieldCount = errors.New("cron expression must have exactly 5 fields")
	ErrEmptyField = errors.New("field has no values in range")
)

type bounds struct {
	name     string
	min, max int
}

var fieldBounds = [fieldCount]bounds{
	{"minute", MinuteMin, MinuteMax},
	{"hour", HourMin, HourMax},
	{"day-of-month", DayOfMonthMin, DayOfMonthMax},
	{"month", MonthMin, MonthMax},
	{"day-of-week", DayOfWeekMin, DayOfWeekMax},
}

// Fields is a parsed cron expression. Each slice is sorted ascending,
// deduplicated and within its field's range.
type Fields struct {
	Minutes     []int
	Hours       []int
	DaysOfMonth []int
	Months      []int
	DaysOfWeek  []int

	masks [fieldCount]uint64
}

// Parse parses a 5-field cron expression.
// It returns nil for anything unparseable; callers must not schedule such a task.
func Parse(expression string) *Fields {
	f, err := ParseStrict(expression)
	if err != nil {
		return nil
	}
	return f
}

// ParseStrict is Parse with the reason for rejection.
func ParseStrict(expression string) (*Fields, error) {
	tokens := strings.Fields(expression)
	if len(tokens) != fieldCount {
		return nil, fmt.Errorf("%w: got %d", ErrFieldCount, len(tokens))
	}

	f := &Fields{}
	for i, token := range tokens {
		mask, err := parseField(token, fieldBounds[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fieldBounds[i].name, err)
		}
		f.masks[i] = mask
	}

	f.Minutes = maskValues(f.masks[0])
	f.Hours = maskValues(f.masks[1])
	f.DaysOfMonth = maskValues(f.masks[2])
	f.Months = maskValues(f.masks[3])
	f.DaysOfWeek = maskValues(f.masks[4])

	return f, nil
}

// Valid reports whether expression parses.
func Valid(expression string) bool {
	return Parse(expression) != nil
}

// parseField expands a comma-separated field into a bitmask.
// Values outside the field range are dropped; a field left empty is an error.
func parseField(token string, b bounds) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(token, ",") {
		start, end, step, err := parseRange(part, b)
		if err != nil {
			return 0, err
		}
		if end > b.max {
			end = b.max
		}
		for v := start; v <= end; v += step {
			if v < b.min || v > b.max {
				continue
			}
			mask |= 1 << uint(v)
		}
	}
	if mask == 0 {
		return 0, fmt.Errorf("%w: %q", ErrEmptyField, token)
	}
	return mask, nil
}

// parseRange handles one sub-part: *, n, a-b, */s, a/s, a-b/s.
func parseRange(part string, b bounds) (start, end, step int, err error) {
	if part == "" {
		return 0, 0, 0, fmt.Errorf("empty value")
	}

	step = 1
	base := part
	if idx := strings.IndexByte(part, '/'); idx >= 0 {
		base = part[:idx]
		step, err = strconv.Atoi(part[idx+1:])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid step %q", part)
		}
		if step <= 0 {
			return 0, 0, 0, fmt.Errorf("step must be positive: %q", part)
		}
		if base == "" {
			return 0, 0, 0, fmt.Errorf("missing range before step: %q", part)
		}
	}

	switch {
	case base == "*":
		return b.min, b.max, step, nil
	case strings.Contains(base, "-"):
		lo, hi, ok := strings.Cut(base, "-")
		if !ok {
			return 0, 0, 0, fmt.Errorf("invalid range %q", part)
		}
		if start, err = strconv.Atoi(lo); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid range start %q", part)
		}
		if end, err = strconv.Atoi(hi); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid range end %q", part)
		}
		return start, end, step, nil
	default:
		if start, err = strconv.Atoi(base); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid value %q", part)
		}
		if strings.Contains(part, "/") {
			// "a/s" runs from a to the field maximum.
			return start, b.max, step, nil
		}
		return start, start, 1, nil
	}
}

func maskValues(mask uint64) []int {
	values := make([]int, 0, bits.OnesCount64(mask))
	for mask != 0 {
		v := bits.TrailingZeros64(mask)
		values = append(values, v)
		mask &^= 1 << uint(v)
	}
	return values
}

func (f *Fields) has(field, value int) bool {
	if value < 0 || value > 63 {
		return false
	}
	return f.masks[field]&(1<<uint(value)) != 0
}

// isFull reports whether field covers its whole range.
func (f *Fields) isFull(field int) bool {
	b := fieldBounds[field]
	want := uint64(1<<uint(b.max+1)) - uint64(1<<uint(b.min))
	return f.masks[field] == want
}
