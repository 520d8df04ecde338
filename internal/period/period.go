// Package period maps instants onto bucket identifiers in the fixed UTC+8 calendar.
package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/period-counters/internal/domain"
)

const (
	// Offset is the fixed distance of the local calendar from UTC.
	Offset = 8 * time.Hour

	// Suffix is appended to every period id.
	Suffix = "+GMT8"
)

// Local returns t shifted into the local calendar. The result is in UTC so that
// its calendar fields read as local wall-clock fields.
func Local(t time.Time) time.Time {
	return t.UTC().Add(Offset)
}

// LocalDate returns the local calendar date of t.
func LocalDate(t time.Time) civil.Date {
	return civil.DateOf(Local(t))
}

// Midnight returns the instant at which local date d begins.
func Midnight(d civil.Date) time.Time {
	return d.In(time.UTC).Add(-Offset)
}

// ID returns the bucket id for t at granularity g.
func ID(t time.Time, g domain.Granularity) string {
	d := LocalDate(t)
	switch g {
	case domain.Weekly:
		return fmt.Sprintf("%04d-W%02d%s", d.Year, weekOfYear(d), Suffix)
	case domain.Monthly:
		return fmt.Sprintf("%04d-%02d%s", d.Year, int(d.Month), Suffix)
	default:
		return fmt.Sprintf("%04d-%02d-%02d%s", d.Year, int(d.Month), d.Day, Suffix)
	}
}

// Range returns the half-open interval [start, end) of the bucket containing t.
func Range(t time.Time, g domain.Granularity) (time.Time, time.Time) {
	d := LocalDate(t)
	switch g {
	case domain.Weekly:
		start := weekStart(d)
		return Midnight(start), Midnight(start.AddDays(7))
	case domain.Monthly:
		first := civil.Date{Year: d.Year, Month: d.Month, Day: 1}
		next := civil.Date{Year: d.Year, Month: d.Month + 1, Day: 1}
		if d.Month == time.December {
			next = civil.Date{Year: d.Year + 1, Month: time.January, Day: 1}
		}
		return Midnight(first), Midnight(next)
	default:
		return Midnight(d), Midnight(d.AddDays(1))
	}
}

// Previous returns the id of the period immediately before id. Weekly ids roll
// over from week 1 to week 52 of the prior year. Week 0 (days before a year's
// first Monday) rolls over the same way, and a W01 in a year that has a W00
// still maps to the prior year's W52.
func Previous(g domain.Granularity, id string) (string, error) {
	raw := strings.TrimSuffix(id, Suffix)
	switch g {
	case domain.Daily:
		d, err := civil.ParseDate(raw)
		if err != nil {
			return "", fmt.Errorf("Previous: parsing daily id %q: %w", id, err)
		}
		p := d.AddDays(-1)
		return fmt.Sprintf("%04d-%02d-%02d%s", p.Year, int(p.Month), p.Day, Suffix), nil
	case domain.Weekly:
		year, week, err := parseWeek(raw)
		if err != nil {
			return "", fmt.Errorf("Previous: parsing weekly id %q: %w", id, err)
		}
		if week > 1 {
			return fmt.Sprintf("%04d-W%02d%s", year, week-1, Suffix), nil
		}
		return fmt.Sprintf("%04d-W%02d%s", year-1, 52, Suffix), nil
	case domain.Monthly:
		m, err := time.Parse("2006-01", raw)
		if err != nil {
			return "", fmt.Errorf("Previous: parsing monthly id %q: %w", id, err)
		}
		p := m.AddDate(0, -1, 0)
		return fmt.Sprintf("%04d-%02d%s", p.Year(), int(p.Month()), Suffix), nil
	default:
		return "", fmt.Errorf("Previous: unknown granularity %q", g)
	}
}

// DocID returns the bucket document id for a user, granularity and period.
func DocID(userID string, g domain.Granularity, periodID string) string {
	return fmt.Sprintf("%s_%s_%s", userID, g, periodID)
}

// ParseDocID splits a bucket document id. User ids may themselves contain underscores.
func ParseDocID(id string) (userID string, g domain.Granularity, periodID string, err error) {
	i := strings.LastIndex(id, "_")
	if i <= 0 {
		return "", "", "", fmt.Errorf("ParseDocID: malformed bucket id %q", id)
	}
	periodID = id[i+1:]
	rest := id[:i]
	j := strings.LastIndex(rest, "_")
	if j <= 0 {
		return "", "", "", fmt.Errorf("ParseDocID: malformed bucket id %q", id)
	}
	g, err = domain.ParseGranularity(rest[j+1:])
	if err != nil {
		return "", "", "", fmt.Errorf("ParseDocID: %w", err)
	}
	return rest[:j], g, periodID, nil
}

// Change describes where a transaction sits at one granularity before and after an event.
// Old or New is empty when the corresponding side of the event is absent.
type Change struct {
	Granularity domain.Granularity
	Old         string
	New         string
}

// Moved reports whether both sides exist and fall in different buckets.
func (c Change) Moved() bool {
	return c.Old != "" && c.New != "" && c.Old != c.New
}

// AffectedPeriods returns one Change per granularity. A zero time marks an absent side.
func AffectedPeriods(newTS, oldTS time.Time) []Change {
	changes := make([]Change, 0, len(domain.Granularities))
	for _, g := range domain.Granularities {
		c := Change{Granularity: g}
		if !newTS.IsZero() {
			c.New = ID(newTS, g)
		}
		if !oldTS.IsZero() {
			c.Old = ID(oldTS, g)
		}
		changes = append(changes, c)
	}
	return changes
}

func weekStart(d civil.Date) civil.Date {
	wd := int(d.In(time.UTC).Weekday())
	if wd == 0 {
		wd = 7
	}
	return d.AddDays(1 - wd)
}

// weekOfYear counts Monday-start weeks from January 1st of d's year. Days before
// the first Monday land in week 0.
func weekOfYear(d civil.Date) int {
	jan1 := civil.Date{Year: d.Year, Month: time.January, Day: 1}
	days := weekStart(d).DaysSince(jan1)
	w := days / 7
	if days%7 != 0 && days < 0 {
		w--
	}
	return w + 1
}

func parseWeek(raw string) (int, int, error) {
	year, week, ok := strings.Cut(raw, "-W")
	if !ok {
		return 0, 0, fmt.Errorf("missing week marker")
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return 0, 0, err
	}
	w, err := strconv.Atoi(week)
	if err != nil {
		return 0, 0, err
	}
	return y, w, nil
}
