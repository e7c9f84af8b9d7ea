package domain

import (
	"testing"
	"time"
)

func date(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := ParseDate(raw)
	if err != nil {
		t.Fatalf("parse date %q: %v", raw, err)
	}
	return d
}

func TestSubscriptionIsDueOn(t *testing.T) {
	start := date(t, "2026-03-01")
	last := func(raw string) *time.Time {
		d := date(t, raw)
		return &d
	}

	cases := []struct {
		name    string
		sub     Subscription
		on      string
		wantDue bool
	}{
		{"daily before start", Subscription{Cadence: CadenceDaily, StartDate: start}, "2026-02-28", false},
		{"daily first day", Subscription{Cadence: CadenceDaily, StartDate: start}, "2026-03-01", true},
		{"daily generated today", Subscription{Cadence: CadenceDaily, StartDate: start, LastGeneratedDate: last("2026-03-02")}, "2026-03-02", false},
		{"daily next day", Subscription{Cadence: CadenceDaily, StartDate: start, LastGeneratedDate: last("2026-03-02")}, "2026-03-03", true},
		{"alternate skip day", Subscription{Cadence: CadenceAlternateDay, StartDate: start, LastGeneratedDate: last("2026-03-01")}, "2026-03-02", false},
		{"alternate due", Subscription{Cadence: CadenceAlternateDay, StartDate: start, LastGeneratedDate: last("2026-03-01")}, "2026-03-03", true},
		{"weekly mid week", Subscription{Cadence: CadenceWeekly, StartDate: start, LastGeneratedDate: last("2026-03-01")}, "2026-03-05", false},
		{"weekly due", Subscription{Cadence: CadenceWeekly, StartDate: start, LastGeneratedDate: last("2026-03-01")}, "2026-03-08", true},
		{"missed run catches up", Subscription{Cadence: CadenceWeekly, StartDate: start, LastGeneratedDate: last("2026-03-01")}, "2026-03-11", true},
		{"past end date", Subscription{Cadence: CadenceDaily, StartDate: start, EndDate: last("2026-03-10")}, "2026-03-11", false},
		{"unknown cadence", Subscription{Cadence: "HOURLY", StartDate: start}, "2026-03-01", false},
	}
	for _, tc := range cases {
		tc.sub.Status = SubscriptionStatusActive
		if got := tc.sub.IsDueOn(date(t, tc.on)); got != tc.wantDue {
			t.Errorf("%s: IsDueOn(%s) = %v, want %v", tc.name, tc.on, got, tc.wantDue)
		}
	}
}

func TestIsDueOnRequiresActive(t *testing.T) {
	for _, status := range []SubscriptionStatus{
		SubscriptionStatusPending,
		SubscriptionStatusPaused,
		SubscriptionStatusCancelled,
		SubscriptionStatusExpired,
	} {
		sub := Subscription{Cadence: CadenceDaily, StartDate: date(t, "2026-03-01"), Status: status}
		if sub.IsDueOn(date(t, "2026-03-05")) {
			t.Errorf("subscription in %s must never be due", status)
		}
	}
}

func TestParseCadence(t *testing.T) {
	got, err := ParseCadence(" alternate_day ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != CadenceAlternateDay || got.IntervalDays() != 2 {
		t.Fatalf("unexpected cadence %s", got)
	}
	if _, err := ParseCadence("monthly"); err == nil {
		t.Fatalf("expected unknown cadence to fail")
	}
}

func TestDateOfUsesLocalCalendarDay(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	// 01:00 IST on the 2nd is still the 1st in UTC.
	at := time.Date(2026, 3, 2, 1, 0, 0, 0, ist)
	if got := DateOf(at); !got.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 2026-03-02, got %s", got.Format(DateLayout))
	}
}
