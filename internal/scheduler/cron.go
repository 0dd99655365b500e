// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

// Package scheduler provides cron-based scheduling for pipeline runs.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldMask is a bit set over a cron field's value range. Bit n set means
// value n matches. Minutes need 60 bits, so uint64 covers every field.
type fieldMask uint64

func (m fieldMask) has(v int) bool { return m&(1<<uint(v)) != 0 }

// fullMask returns the mask with every value in [min, max] set.
func fullMask(minVal, maxVal int) fieldMask {
	var m fieldMask
	for v := minVal; v <= maxVal; v++ {
		m |= 1 << uint(v)
	}
	return m
}

// Schedule is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
type Schedule struct {
	minutes  fieldMask // 0-59
	hours    fieldMask // 0-23
	days     fieldMask // 1-31
	months   fieldMask // 1-12
	weekdays fieldMask // 0-6 (0 = Sunday; 7 accepted as alias)
}

// Parse parses a standard 5-field cron expression.
//
// Supported syntax per field:
//   - * (any value)
//   - n (specific value)
//   - n-m (range)
//   - n,m,o (list)
//   - */s and n-m/s (steps)
//
// Examples:
//   - "*/30 * * * *" - every 30 minutes
//   - "0 6 * * *"    - daily at 06:00
//   - "0 */2 * * 1"  - every 2 hours on Mondays
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	minutes, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}

	hours, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}

	days, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-month field: %w", err)
	}

	months, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}

	weekdays, err := parseField(fields[4], 0, 7)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-week field: %w", err)
	}
	// Fold the 7 alias for Sunday onto bit 0.
	if weekdays.has(7) {
		weekdays = (weekdays &^ (1 << 7)) | 1
	}

	return &Schedule{
		minutes:  minutes,
		hours:    hours,
		days:     days,
		months:   months,
		weekdays: weekdays,
	}, nil
}

// Next returns the first time strictly after the given time that matches the
// schedule. If loc is nil, UTC is used.
func (s *Schedule) Next(after time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := after.In(loc).Add(time.Minute)
	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)

	// Minute stepping with a 4-year cap against degenerate expressions.
	maxIterations := 365 * 24 * 60 * 4
	for i := 0; i < maxIterations; i++ {
		if s.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}

	return time.Time{}
}

// matches reports whether t satisfies the schedule.
func (s *Schedule) matches(t time.Time) bool {
	if !s.minutes.has(t.Minute()) || !s.hours.has(t.Hour()) || !s.months.has(int(t.Month())) {
		return false
	}

	// Day-of-month and day-of-week are OR'd when both are restricted;
	// a wildcard on one side defers entirely to the other (standard cron).
	dayMatch := s.days.has(t.Day())
	weekdayMatch := s.weekdays.has(int(t.Weekday()))
	dayWildcard := s.days == fullMask(1, 31)
	weekdayWildcard := s.weekdays == fullMask(0, 6)

	switch {
	case dayWildcard && weekdayWildcard:
		return true
	case dayWildcard:
		return weekdayMatch
	case weekdayWildcard:
		return dayMatch
	default:
		return dayMatch || weekdayMatch
	}
}

// parseField parses one cron field into a bit set.
func parseField(field string, minVal, maxVal int) (fieldMask, error) {
	if field == "*" {
		return fullMask(minVal, maxVal), nil
	}

	var mask fieldMask
	for _, part := range strings.Split(field, ",") {
		m, err := parseFieldPart(part, minVal, maxVal)
		if err != nil {
			return 0, err
		}
		mask |= m
	}
	return mask, nil
}

// parseFieldPart parses a single list element: value, range, or step form.
func parseFieldPart(part string, minVal, maxVal int) (fieldMask, error) {
	step := 1
	if idx := strings.IndexByte(part, '/'); idx >= 0 {
		s, err := strconv.Atoi(part[idx+1:])
		if err != nil || s <= 0 {
			return 0, fmt.Errorf("invalid step value: %s", part[idx+1:])
		}
		step = s
		part = part[:idx]
	}

	start, end := minVal, maxVal
	switch {
	case part == "*":
		// full range
	case strings.Contains(part, "-"):
		rangeParts := strings.SplitN(part, "-", 2)
		var err error
		start, err = strconv.Atoi(rangeParts[0])
		if err != nil {
			return 0, fmt.Errorf("invalid range start: %s", rangeParts[0])
		}
		end, err = strconv.Atoi(rangeParts[1])
		if err != nil {
			return 0, fmt.Errorf("invalid range end: %s", rangeParts[1])
		}
		if start > end || start < minVal || end > maxVal {
			return 0, fmt.Errorf("invalid range: %d-%d (min=%d, max=%d)", start, end, minVal, maxVal)
		}
	default:
		v, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("invalid value: %s", part)
		}
		if v < minVal || v > maxVal {
			return 0, fmt.Errorf("value out of range: %d (min=%d, max=%d)", v, minVal, maxVal)
		}
		start, end = v, v
		if step > 1 {
			// "n/s" steps from n to the field maximum
			end = maxVal
		}
	}

	var mask fieldMask
	for v := start; v <= end; v += step {
		mask |= 1 << uint(v)
	}
	return mask, nil
}
