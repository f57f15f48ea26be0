// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cron parses 5-field cron expressions and computes occurrence
// times for deployment schedules.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed cron expression. Each field is a set of allowed
// values stored as a bitmask.
type Schedule struct {
	minute uint64 // 0-59
	hour   uint64 // 0-23
	dom    uint64 // 1-31
	month  uint64 // 1-12
	dow    uint64 // 0-6, Sunday = 0
}

// Parse parses a cron expression.
// Format: minute hour day-of-month month day-of-week
// Examples:
//   - "0 * * * *" - every hour at minute 0
//   - "*/15 * * * *" - every 15 minutes
//   - "0 9 * * 1-5" - 9 AM on weekdays
//
// The @hourly, @daily, @midnight, @weekly, @monthly and @yearly
// shorthands are accepted.
func Parse(expr string) (*Schedule, error) {
	switch strings.ToLower(expr) {
	case "@hourly":
		expr = "0 * * * *"
	case "@daily", "@midnight":
		expr = "0 0 * * *"
	case "@weekly":
		expr = "0 0 * * 0"
	case "@monthly":
		expr = "0 0 1 * *"
	case "@yearly", "@annually":
		expr = "0 0 1 1 *"
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	s := &Schedule{}
	specs := []struct {
		name     string
		dst      *uint64
		min, max int
	}{
		{"minute", &s.minute, 0, 59},
		{"hour", &s.hour, 0, 23},
		{"day-of-month", &s.dom, 1, 31},
		{"month", &s.month, 1, 12},
		{"day-of-week", &s.dow, 0, 6},
	}
	for i, spec := range specs {
		set, err := parseField(fields[i], spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", spec.name, err)
		}
		*spec.dst = set
	}
	return s, nil
}

// parseField parses one cron field into a bitmask of allowed values.
// Supports wildcards, single values, ranges, steps and comma lists.
func parseField(field string, min, max int) (uint64, error) {
	var set uint64
	for _, part := range strings.Split(field, ",") {
		step := 1
		if idx := strings.Index(part, "/"); idx != -1 {
			n, err := strconv.Atoi(part[idx+1:])
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step: %s", part[idx+1:])
			}
			step = n
			part = part[:idx]
		}

		var start, end int
		switch {
		case part == "*":
			start, end = min, max
		case strings.Contains(part, "-"):
			idx := strings.Index(part, "-")
			var err error
			start, err = strconv.Atoi(part[:idx])
			if err != nil {
				return 0, fmt.Errorf("invalid range start: %s", part[:idx])
			}
			end, err = strconv.Atoi(part[idx+1:])
			if err != nil {
				return 0, fmt.Errorf("invalid range end: %s", part[idx+1:])
			}
		default:
			n, err := strconv.Atoi(part)
			if err != nil {
				return 0, fmt.Errorf("invalid value: %s", part)
			}
			start, end = n, n
		}

		if start < min || end > max {
			return 0, fmt.Errorf("value out of range [%d-%d]: %s", min, max, part)
		}
		if start > end {
			return 0, fmt.Errorf("invalid range: %d > %d", start, end)
		}

		for v := start; v <= end; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func (s *Schedule) matchMinute(v int) bool { return s.minute&(1<<uint(v)) != 0 }
func (s *Schedule) matchHour(v int) bool   { return s.hour&(1<<uint(v)) != 0 }
func (s *Schedule) matchDOM(v int) bool    { return s.dom&(1<<uint(v)) != 0 }
func (s *Schedule) matchMonth(v int) bool  { return s.month&(1<<uint(v)) != 0 }
func (s *Schedule) matchDOW(v int) bool    { return s.dow&(1<<uint(v)) != 0 }

// Next returns the first time after from that matches the schedule.
// Returns the zero time if nothing matches within four years.
func (s *Schedule) Next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(4, 0, 0)

	for t.Before(limit) {
		if !s.matchMonth(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !s.matchDOM(t.Day()) || !s.matchDOW(int(t.Weekday())) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !s.matchHour(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !s.matchMinute(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}
