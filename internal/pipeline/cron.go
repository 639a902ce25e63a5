package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule yields the trigger times of a recurring job.
type Schedule interface {
	// Next returns the first trigger strictly after t, or the zero time
	// when the schedule never fires again.
	Next(t time.Time) time.Time
}

// ParseSchedule accepts a 5-field cron expression
// ("minute hour day-of-month month day-of-week") or "@every <duration>".
// Cron fields support "*", lists, ranges ("1-5") and steps ("*/5", "0-30/10").
func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if rest, ok := strings.CutPrefix(expr, "@every"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("pipeline: schedule %q: %w", expr, err)
		}
		if d < time.Second {
			return nil, fmt.Errorf("pipeline: schedule %q: interval must be at least 1s", expr)
		}
		return every(d), nil
	}
	c, err := parseCron(expr)
	if err != nil {
		return nil, fmt.Errorf("pipeline: schedule %q: %w", expr, err)
	}
	return c, nil
}

type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

// cronField is the set of matching values of one field.
type cronField struct {
	wildcard bool
	set      map[int]bool
}

func (f cronField) matches(v int) bool { return f.wildcard || f.set[v] }

type fieldBounds struct {
	name     string
	min, max int
}

var cronBounds = [5]fieldBounds{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// parseCronField parses one field such as "0", "*", "1,15", "9-17" or "*/15".
func parseCronField(field string, b fieldBounds) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	f := cronField{set: make(map[int]bool)}
	for _, part := range strings.Split(field, ",") {
		rng, stepStr, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("%s: invalid step %q", b.name, stepStr)
			}
			step = n
		}

		lo, hi := b.min, b.max
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			loStr, hiStr, _ := strings.Cut(rng, "-")
			var err error
			if lo, err = strconv.Atoi(loStr); err != nil {
				return cronField{}, fmt.Errorf("%s: invalid value %q", b.name, loStr)
			}
			if hi, err = strconv.Atoi(hiStr); err != nil {
				return cronField{}, fmt.Errorf("%s: invalid value %q", b.name, hiStr)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return cronField{}, fmt.Errorf("%s: invalid value %q", b.name, rng)
			}
			lo = v
			if !hasStep {
				hi = v
			}
		}
		if lo < b.min || hi > b.max || lo > hi {
			return cronField{}, fmt.Errorf("%s: %q out of range %d-%d", b.name, part, b.min, b.max)
		}
		for v := lo; v <= hi; v += step {
			f.set[v] = true
		}
	}
	// Sunday is both 0 and 7.
	if b.name == "day-of-week" && f.set[7] {
		f.set[0] = true
	}
	return f, nil
}

// parsedCron holds five parsed cron fields.
type parsedCron struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	var parsed [5]cronField
	for i, raw := range fields {
		f, err := parseCronField(raw, cronBounds[i])
		if err != nil {
			return parsedCron{}, err
		}
		parsed[i] = f
	}
	return parsedCron{
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

// Next scans minute by minute, up to a year ahead.
func (c parsedCron) Next(after time.Time) time.Time {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if c.matchesTime(candidate) {
			return candidate
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}
}
