// Package cron parses standard 5-field cron expressions
// (minute hour day-of-month month day-of-week) and computes fire times.
// All computations use UTC.
package cron

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidExpression is returned when an expression cannot be parsed.
	ErrInvalidExpression = errors.New("cron: invalid expression")
	// ErrNoMatch is returned when no fire time exists within the search horizon.
	ErrNoMatch = errors.New("cron: no matching time found")
)

const (
	fieldCount    = 5
	maxMinute     = 59
	maxHour       = 23
	minDayOfMonth = 1
	maxDayOfMonth = 31
	minMonth      = 1
	maxMonth      = 12
	maxDayOfWeek  = 6
)

// Schedule is a parsed cron expression.
//
// When both day-of-month and day-of-week are restricted, a candidate day
// must satisfy both fields.
type Schedule struct {
	minutes []int
	hours   []int
	doms    []int
	months  []int
	dows    []int
}

// Parse parses a 5-field cron expression. Fields accept single values,
// ranges (a-b), lists (a,b,c), wildcards (*), and steps (*/n, a-b/n).
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != fieldCount {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", ErrInvalidExpression, fieldCount, len(fields))
	}

	sched := &Schedule{}
	specs := []struct {
		name string
		dst  *[]int
		min  int
		max  int
	}{
		{"minute", &sched.minutes, 0, maxMinute},
		{"hour", &sched.hours, 0, maxHour},
		{"day-of-month", &sched.doms, minDayOfMonth, maxDayOfMonth},
		{"month", &sched.months, minMonth, maxMonth},
		{"day-of-week", &sched.dows, 0, maxDayOfWeek},
	}
	for i, spec := range specs {
		values, err := parseField(fields[i], spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("%s field: %w", spec.name, err)
		}
		*spec.dst = values
	}

	return sched, nil
}

// Next returns the first fire time strictly after from, in UTC. It returns
// ErrNoMatch when the expression describes a date that cannot occur, such
// as February 31st.
func (s *Schedule) Next(from time.Time) (time.Time, error) {
	from = from.UTC()
	candidate := from.Add(time.Minute).Truncate(time.Minute)

	// A year of minutes covers every reachable combination.
	const horizon = 366 * 24 * 60
	for i := 0; i < horizon; i++ {
		switch {
		case !slices.Contains(s.months, int(candidate.Month())):
			candidate = time.Date(candidate.Year(), candidate.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		case !slices.Contains(s.doms, candidate.Day()) || !slices.Contains(s.dows, int(candidate.Weekday())):
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day()+1, 0, 0, 0, 0, time.UTC)
		case !slices.Contains(s.hours, candidate.Hour()):
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), candidate.Hour()+1, 0, 0, 0, time.UTC)
		case !slices.Contains(s.minutes, candidate.Minute()):
			candidate = candidate.Add(time.Minute)
		default:
			return candidate, nil
		}
	}

	return time.Time{}, ErrNoMatch
}

func parseField(field string, minVal, maxVal int) ([]int, error) {
	var values []int
	for _, part := range strings.Split(field, ",") {
		expanded, err := parsePart(part, minVal, maxVal)
		if err != nil {
			return nil, err
		}
		values = append(values, expanded...)
	}

	slices.Sort(values)

	return slices.Compact(values), nil
}

func parsePart(part string, minVal, maxVal int) ([]int, error) {
	base, stepRaw, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		parsed, err := strconv.Atoi(stepRaw)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%w: bad step %q", ErrInvalidExpression, stepRaw)
		}
		step = parsed
	}

	lo, hi := minVal, maxVal
	switch {
	case base == "*":
	case strings.Contains(base, "-"):
		var err error
		lo, hi, err = parseRange(base, minVal, maxVal)
		if err != nil {
			return nil, err
		}
	default:
		value, err := strconv.Atoi(base)
		if err != nil {
			return nil, fmt.Errorf("%w: bad value %q", ErrInvalidExpression, base)
		}
		if value < minVal || value > maxVal {
			return nil, fmt.Errorf("%w: value %d out of range [%d, %d]", ErrInvalidExpression, value, minVal, maxVal)
		}
		if !hasStep {
			return []int{value}, nil
		}
		lo = value
	}

	var values []int
	for v := lo; v <= hi; v += step {
		values = append(values, v)
	}

	return values, nil
}

func parseRange(base string, minVal, maxVal int) (int, int, error) {
	loRaw, hiRaw, _ := strings.Cut(base, "-")
	lo, err := strconv.Atoi(loRaw)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad range start %q", ErrInvalidExpression, loRaw)
	}
	hi, err := strconv.Atoi(hiRaw)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad range end %q", ErrInvalidExpression, hiRaw)
	}
	if lo < minVal || hi > maxVal || lo > hi {
		return 0, 0, fmt.Errorf("%w: range %d-%d out of range [%d, %d]", ErrInvalidExpression, lo, hi, minVal, maxVal)
	}

	return lo, hi, nil
}
