package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/user/keepsake/internal/types"
)

func TestParseJobID(t *testing.T) {
	id, err := parseJobID("42")
	if err != nil || id != 42 {
		t.Fatalf("parseJobID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "abc", "0", "-3"} {
		if _, err := parseJobID(bad); !errors.Is(err, types.ErrValidation) {
			t.Errorf("parseJobID(%q) = %v, want ErrValidation", bad, err)
		}
	}
}

func TestDescribeSchedule(t *testing.T) {
	recurring := &types.CronJob{ScheduleDays: []int{0, 1, 2, 3, 4}, ScheduleTime: "7:00 AM"}
	if got := describeSchedule(recurring); got != "Weekdays at 7:00 AM" {
		t.Errorf("recurring = %q", got)
	}
	once := &types.CronJob{IsOneTime: true, RunDate: "2026-03-14", ScheduleTime: "12:00 PM"}
	if got := describeSchedule(once); got != "once on 2026-03-14 at 12:00 PM" {
		t.Errorf("one-time = %q", got)
	}
}

func TestLastRun(t *testing.T) {
	job := &types.CronJob{}
	if got := lastRun(job, time.UTC); got != "never" {
		t.Errorf("lastRun = %q", got)
	}
	at := time.Date(2026, 3, 12, 18, 30, 0, 0, time.UTC)
	job.LastRunAt = &at
	job.LastRunStatus = types.JobRunSuccess
	if got := lastRun(job, time.UTC); !strings.HasPrefix(got, "2026-03-12 18:30") {
		t.Errorf("lastRun = %q", got)
	}
}
