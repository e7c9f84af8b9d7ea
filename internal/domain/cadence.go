package domain

import (
	"fmt"
	"strings"
	"time"
)

type Cadence string

const (
	CadenceDaily        Cadence = "DAILY"
	CadenceAlternateDay Cadence = "ALTERNATE_DAY"
	CadenceWeekly       Cadence = "WEEKLY"
)

// IntervalDays is the number of days between two deliveries. Zero means the
// cadence is unknown.
func (c Cadence) IntervalDays() int {
	switch c {
	case CadenceDaily:
		return 1
	case CadenceAlternateDay:
		return 2
	case CadenceWeekly:
		return 7
	default:
		return 0
	}
}

func (c Cadence) Valid() bool {
	return c.IntervalDays() > 0
}

func ParseCadence(raw string) (Cadence, error) {
	c := Cadence(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown cadence %q", raw)
	}
	return c, nil
}

const DateLayout = "2006-01-02"

// DateOf drops the clock part of t as seen in t's own location and returns
// that calendar day as UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return DateOf(t), nil
}

// NextDueDate returns the first date on which the subscription should get an
// order. Before any generation the start date anchors the cadence; afterwards
// the last generated date does. Pausing never moves the anchor.
func (s Subscription) NextDueDate() time.Time {
	if s.LastGeneratedDate == nil {
		return DateOf(s.StartDate)
	}
	return DateOf(*s.LastGeneratedDate).AddDate(0, 0, s.Cadence.IntervalDays())
}

// IsDueOn reports whether an order should be generated for the subscription
// on date.
func (s Subscription) IsDueOn(date time.Time) bool {
	if s.Status != SubscriptionStatusActive || !s.Cadence.Valid() {
		return false
	}
	date = DateOf(date)
	if date.Before(DateOf(s.StartDate)) {
		return false
	}
	if s.EndDate != nil && date.After(DateOf(*s.EndDate)) {
		return false
	}
	return !date.Before(s.NextDueDate())
}
