// Package schedule derives watering schedules and their display state from
// plant snapshots. Everything here is a pure function of its inputs plus the
// calculator's clock, so a Calculator is safe for concurrent use.
package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"plantcare/pkg/domain"
)

// Calculator evaluates schedules against a clock and the calendar location
// that decides where one day ends and the next begins.
type Calculator struct {
	now func() time.Time
	loc *time.Location
}

type Option func(*Calculator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLocation sets the calendar location used for day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(c *Calculator) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// New builds a Calculator using the wall clock and the local time zone unless
// overridden.
func New(options ...Option) *Calculator {
	c := &Calculator{now: time.Now, loc: time.Local}
	for _, option := range options {
		if option != nil {
			option(c)
		}
	}
	return c
}

// LoadLocation resolves a configured time zone name. Empty and "Local" map to
// the process local zone.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// Location returns the calendar location of the calculator.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// Now returns the calculator's current time in its calendar location.
func (c *Calculator) Now() time.Time {
	return c.now().In(c.loc)
}

// NextWatering returns the last watering date plus the plant's interval in
// whole calendar days, keeping the time of day. Never-watered plants have no
// next watering.
func (c *Calculator) NextWatering(p domain.Plant) *time.Time {
	if p.LastWateringDate == nil {
		return nil
	}
	next := p.LastWateringDate.In(c.loc).AddDate(0, 0, p.WateringInterval)
	return &next
}

// DaysFromToday returns ceil((midnight(date) - now) / 1 day): negative in the
// past, zero for any time today, positive in the future. Since midnight(date)
// and now differ by a whole number of calendar days minus a fraction of a
// day, the result equals the calendar-day distance, which is what is computed
// so that short and long DST days do not skew it.
func (c *Calculator) DaysFromToday(date *time.Time) *int {
	if date == nil {
		return nil
	}
	days := calendarDays(date.In(c.loc)) - calendarDays(c.Now())
	return &days
}

// calendarDays numbers the civil date of t as days since the Unix epoch.
func calendarDays(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// DescribeRelativeDays renders a date relative to today.
func (c *Calculator) DescribeRelativeDays(date *time.Time) string {
	return FormatDays(c.DaysFromToday(date))
}

// FormatDays renders a day offset: "-" when absent, "Today!" for zero,
// "N day(s) ago" in the past and "In N day(s)" in the future.
func FormatDays(days *int) string {
	if days == nil {
		return "-"
	}
	n := *days
	switch {
	case n == 0:
		return "Today!"
	case n < 0:
		return fmt.Sprintf("%d %s ago", -n, dayUnit(-n))
	default:
		return fmt.Sprintf("In %d %s", n, dayUnit(n))
	}
}

func dayUnit(n int) string {
	if n == 1 {
		return "day"
	}
	return "days"
}

// Urgency classifies a plant. Overdue is checked before recently watered.
func (c *Calculator) Urgency(p domain.Plant) domain.Urgency {
	if daysToNext := c.DaysFromToday(c.NextWatering(p)); daysToNext != nil && *daysToNext <= 0 {
		return domain.UrgencyOverdue
	}
	if daysSinceLast := c.DaysFromToday(p.LastWateringDate); daysSinceLast != nil && *daysSinceLast == 0 {
		return domain.UrgencyRecentlyWatered
	}
	return domain.UrgencyNeutral
}

// View is the schedule state of a plant as shown to clients.
type View struct {
	NextWatering     *time.Time     `json:"nextWatering,omitempty"`
	DaysToNext       *int           `json:"daysToNext,omitempty"`
	NextWateringText string         `json:"nextWateringText"`
	LastWateringText string         `json:"lastWateringText"`
	Urgency          domain.Urgency `json:"urgency"`
}

// Describe evaluates every schedule field of a plant at once.
func (c *Calculator) Describe(p domain.Plant) View {
	next := c.NextWatering(p)
	daysToNext := c.DaysFromToday(next)
	return View{
		NextWatering:     next,
		DaysToNext:       daysToNext,
		NextWateringText: FormatDays(daysToNext),
		LastWateringText: c.DescribeRelativeDays(p.LastWateringDate),
		Urgency:          c.Urgency(p),
	}
}

// LastWatering projects a plant's last watering date from its waterings:
// the latest watering date, or nil when there are none.
func LastWatering(waterings []domain.Watering) *time.Time {
	var last *time.Time
	for i := range waterings {
		date := waterings[i].WateringDate
		if last == nil || date.After(*last) {
			d := date
			last = &d
		}
	}
	return last
}

// SortByNextWatering orders plants by NextWatering, never-watered plants
// first. Ties keep their input order.
func (c *Calculator) SortByNextWatering(plants []domain.Plant) {
	type keyed struct {
		plant domain.Plant
		next  *time.Time
	}
	items := make([]keyed, len(plants))
	for i, p := range plants {
		items[i] = keyed{plant: p, next: c.NextWatering(p)}
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].next, items[j].next
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	for i := range items {
		plants[i] = items[i].plant
	}
}
