package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	inputLayout    = "2006-01-02"
	displayLayout  = "Jan 2, 2006"
	dateTimeLayout = "Jan 2, 2006, 03:04 PM"
)

// ParseDueDate reads a YYYY-MM-DD value as midnight UTC. Empty input yields nil.
func ParseDueDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(inputLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid due date %q (want YYYY-MM-DD)", raw)
	}
	return &t, nil
}

func FormatDateForInput(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(inputLayout)
}

func FormatDateForDisplay(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.UTC().Format(displayLayout)
}

func FormatDateTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "N/A"
	}
	return t.Format(dateTimeLayout)
}

// IsPastDue compares calendar days only: a task due today is not past due.
func IsPastDue(due *time.Time, now time.Time) bool {
	if due == nil {
		return false
	}
	return dueDay(*due, now.Location()).Before(dayOf(now, now.Location()))
}

// RelativeDay renders a due date as Today/Tomorrow/Yesterday, falling back
// to the display format.
func RelativeDay(due *time.Time, now time.Time) string {
	if due == nil {
		return "No date"
	}
	loc := now.Location()
	days := int(math.Round(dueDay(*due, loc).Sub(dayOf(now, loc)).Hours() / 24))
	switch days {
	case 0:
		return "Today"
	case 1:
		return "Tomorrow"
	case -1:
		return "Yesterday"
	}
	return FormatDateForDisplay(due)
}

// dueDay keeps the calendar date of a due date (stored as UTC midnight)
// and places it in loc.
func dueDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
