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

package cron

import (
	"testing"
	"time"
)

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"too few fields", "0 * * *"},
		{"too many fields", "0 * * * * *"},
		{"minute out of range", "60 * * * *"},
		{"hour out of range", "0 24 * * *"},
		{"bad step", "*/0 * * * *"},
		{"inverted range", "30-10 * * * *"},
		{"not a number", "x * * * *"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.expr); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.expr)
			}
		})
	}
}

func TestNext(t *testing.T) {
	// Wednesday 2025-06-04 10:30 UTC
	from := time.Date(2025, 6, 4, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{
			name: "every hour",
			expr: "0 * * * *",
			want: time.Date(2025, 6, 4, 11, 0, 0, 0, time.UTC),
		},
		{
			name: "every 15 minutes",
			expr: "*/15 * * * *",
			want: time.Date(2025, 6, 4, 10, 45, 0, 0, time.UTC),
		},
		{
			name: "weekday mornings",
			expr: "0 9 * * 1-5",
			want: time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "first of month",
			expr: "0 0 1 * *",
			want: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "specific minute list",
			expr: "5,35 * * * *",
			want: time.Date(2025, 6, 4, 10, 35, 0, 0, time.UTC),
		},
		{
			name: "daily shorthand",
			expr: "@daily",
			want: time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "weekly shorthand lands on Sunday",
			expr: "@weekly",
			want: time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.expr, err)
			}
			if got := s.Next(from); !got.Equal(tt.want) {
				t.Errorf("Next() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNext_StrictlyAfter(t *testing.T) {
	s, err := Parse("30 10 * * *")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// A time exactly on the schedule advances to the next day.
	from := time.Date(2025, 6, 4, 10, 30, 0, 0, time.UTC)
	want := time.Date(2025, 6, 5, 10, 30, 0, 0, time.UTC)
	if got := s.Next(from); !got.Equal(want) {
		t.Errorf("Next() = %v, want %v", got, want)
	}
}
