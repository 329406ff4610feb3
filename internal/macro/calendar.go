package macro

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Impact grades a macro event.
type Impact string

const (
	ImpactLow      Impact = "LOW"
	ImpactMedium   Impact = "MEDIUM"
	ImpactHigh     Impact = "HIGH"
	ImpactCritical Impact = "CRITICAL"
)

var impactRank = map[Impact]int{ImpactLow: 0, ImpactMedium: 1, ImpactHigh: 2, ImpactCritical: 3}

// ParseImpact parses an impact name (case-insensitive).
func ParseImpact(s string) (Impact, error) {
	i := Impact(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := impactRank[i]; !ok {
		return "", fmt.Errorf("macro: unknown impact %q", s)
	}
	return i, nil
}

// Event is a scheduled macro release. Trading pauses within At ± Window.
// All-day events are anchored at midnight UTC.
type Event struct {
	Name   string        `json:"name"`
	At     time.Time     `json:"at"`
	Window time.Duration `json:"window"`
	Impact Impact        `json:"impact"`
	AllDay bool          `json:"all_day"`
}

// Calendar answers whether trading should pause at a given time.
type Calendar struct {
	events    []Event
	minImpact Impact
	now       func() time.Time
}

// NewCalendar creates a calendar. Events below minImpact never pause; an
// empty minImpact means every event pauses.
func NewCalendar(events []Event, minImpact Impact) *Calendar {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })
	if minImpact == "" {
		minImpact = ImpactLow
	}
	return &Calendar{events: sorted, minImpact: minImpact, now: time.Now}
}

// ShouldPause implements domain.PauseChecker using the wall clock.
func (c *Calendar) ShouldPause(_ context.Context) (bool, string) {
	return c.PauseAt(c.now().UTC())
}

// PauseAt reports whether now falls inside any event's window.
func (c *Calendar) PauseAt(now time.Time) (bool, string) {
	for _, ev := range c.events {
		if impactRank[ev.Impact] < impactRank[c.minImpact] {
			continue
		}
		start := ev.At.Add(-ev.Window)
		end := ev.At.Add(ev.Window)
		if now.Before(start) || now.After(end) {
			continue
		}
		reason := fmt.Sprintf("Macro event: %s (%s)", ev.Name, ev.Impact)
		if !ev.AllDay {
			if now.Before(ev.At) {
				reason += fmt.Sprintf(" - starts in %dm", int(ev.At.Sub(now).Minutes()))
			} else {
				reason += fmt.Sprintf(" - started %dm ago", int(now.Sub(ev.At).Minutes()))
			}
		}
		return true, reason
	}
	return false, ""
}

// Upcoming lists events starting within the next days days.
func (c *Calendar) Upcoming(now time.Time, days int) []Event {
	limit := now.Add(time.Duration(days) * 24 * time.Hour)
	var out []Event
	for _, ev := range c.events {
		if !ev.At.Before(now) && !ev.At.After(limit) {
			out = append(out, ev)
		}
	}
	return out
}

// NextCritical returns the next CRITICAL event after now.
func (c *Calendar) NextCritical(now time.Time) (Event, bool) {
	for _, ev := range c.events {
		if ev.Impact == ImpactCritical && ev.At.After(now) {
			return ev, true
		}
	}
	return Event{}, false
}

func timed(date, clock, name string, minutes int, impact Impact) Event {
	at, _ := time.Parse("2006-01-02 15:04", date+" "+clock)
	return Event{Name: name, At: at, Window: time.Duration(minutes) * time.Minute, Impact: impact}
}

func allDay(date, name string, hours int, impact Impact) Event {
	at, _ := time.Parse("2006-01-02", date)
	return Event{Name: name, At: at, Window: time.Duration(hours) * time.Hour, Impact: impact, AllDay: true}
}

// DefaultEvents is the 2026 release schedule (UTC).
func DefaultEvents() []Event {
	return []Event{
		timed("2026-02-20", "17:30", "PCE Inflation Data", 30, ImpactHigh),
		timed("2026-02-26", "19:00", "Fed Minutes", 60, ImpactHigh),
		timed("2026-03-07", "13:30", "NFP Report", 30, ImpactHigh),
		timed("2026-03-19", "18:00", "FOMC Rate Decision", 90, ImpactCritical),
		timed("2026-03-26", "19:00", "Fed Chair Speech", 60, ImpactHigh),
		allDay("2026-04-15", "US Tax Deadline", 24, ImpactMedium),
		timed("2026-04-29", "13:30", "GDP Q1 Advance", 30, ImpactHigh),
		timed("2026-05-02", "13:30", "NFP Report", 30, ImpactHigh),
		timed("2026-05-07", "18:00", "FOMC Rate Decision", 90, ImpactCritical),
		timed("2026-05-15", "17:30", "PCE Inflation Data", 30, ImpactHigh),
		timed("2026-06-06", "13:30", "NFP Report", 30, ImpactHigh),
		timed("2026-06-18", "18:00", "FOMC Rate Decision", 90, ImpactCritical),
		allDay("2026-07-04", "US Holiday (July 4)", 12, ImpactLow),
		timed("2026-07-11", "13:30", "NFP Report", 30, ImpactHigh),
		timed("2026-07-29", "18:00", "FOMC Rate Decision", 90, ImpactCritical),
		allDay("2026-09-18", "Quarterly Options Expiry", 6, ImpactMedium),
		timed("2026-10-02", "13:30", "NFP Report", 30, ImpactHigh),
		timed("2026-10-29", "18:00", "FOMC Rate Decision", 90, ImpactCritical),
		allDay("2026-11-03", "US Midterm Elections", 48, ImpactCritical),
		timed("2026-11-06", "13:30", "NFP Report", 30, ImpactHigh),
		timed("2026-12-16", "18:00", "FOMC Rate Decision", 90, ImpactCritical),
		allDay("2026-12-25", "Christmas Holiday", 24, ImpactLow),
		allDay("2026-12-31", "New Year (Year-end flows)", 12, ImpactMedium),
	}
}
