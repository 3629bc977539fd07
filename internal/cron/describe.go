package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var presets = map[string]string{
	"* * * * *":    "Every minute",
	"*/5 * * * *":  "Every 5 minutes",
	"*/10 * * * *": "Every 10 minutes",
	"*/15 * * * *": "Every 15 minutes",
	"*/30 * * * *": "Every 30 minutes",
	"0 * * * *":    "Every hour",
	"0 */2 * * *":  "Every 2 hours",
	"0 */4 * * *":  "Every 4 hours",
	"0 */6 * * *":  "Every 6 hours",
	"0 */12 * * *": "Every 12 hours",
	"0 0 * * *":    "Daily at midnight",
	"0 9 * * *":    "Daily at 9:00 AM",
	"0 12 * * *":   "Daily at noon",
	"0 18 * * *":   "Daily at 6:00 PM",
	"0 9 * * 1-5":  "Weekdays at 9:00 AM",
	"0 0 * * 0":    "Weekly on Sunday",
	"0 0 * * 1":    "Weekly on Monday",
	"0 0 1 * *":    "Monthly on the 1st",
}

// Describe returns a human readable label for expression. It is display-only:
// irregular expressions are echoed back unchanged.
func Describe(expression string) string {
	normalized := strings.Join(strings.Fields(expression), " ")
	if label, ok := presets[normalized]; ok {
		return label
	}

	f := Parse(normalized)
	if f == nil {
		return expression
	}
	tokens := strings.Fields(normalized)

	if step, ok := everyStep(tokens[0]); ok && f.isFull(1) && f.isFull(2) && f.isFull(3) && f.isFull(4) {
		return fmt.Sprintf("Every %d minutes", step)
	}

	if len(f.Minutes) != 1 {
		return expression
	}

	if step, ok := everyStep(tokens[1]); ok && f.isFull(2) && f.isFull(3) && f.isFull(4) {
		return fmt.Sprintf("Every %d hours at minute %d", step, f.Minutes[0])
	}

	if len(f.Hours) != 1 {
		return expression
	}

	var b strings.Builder
	fmt.Fprintf(&b, "At %02d:%02d", f.Hours[0], f.Minutes[0])
	if !f.isFull(4) {
		b.WriteString(" on ")
		b.WriteString(joinNames(f.DaysOfWeek, weekdayName))
	}
	if !f.isFull(2) {
		b.WriteString(" on day ")
		b.WriteString(joinInts(f.DaysOfMonth))
		b.WriteString(" of the month")
	}
	if !f.isFull(3) {
		b.WriteString(" in ")
		b.WriteString(joinNames(f.Months, monthName))
	}
	return b.String()
}

// everyStep recognizes "*/n".
func everyStep(token string) (int, bool) {
	rest, ok := strings.CutPrefix(token, "*/")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func weekdayName(v int) string { return time.Weekday(v).String() }

func monthName(v int) string { return time.Month(v).String() }

func joinNames(values []int, name func(int) string) string {
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = name(v)
	}
	return strings.Join(names, ", ")
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
