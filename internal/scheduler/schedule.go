// internal/scheduler/schedule.go
package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/keepsake/internal/types"
)

// DefaultOneTimeClock is used for one-time jobs created without a time.
const DefaultOneTimeClock = "12:00 PM"

var dayNames = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// ParseClock reads a wall-clock time such as "7:00 PM", "7 PM" or "19:00".
func ParseClock(s string) (hour, minute int, err error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	pm := strings.HasSuffix(raw, "PM")
	am := strings.HasSuffix(raw, "AM")
	if am || pm {
		raw = strings.TrimSpace(raw[:len(raw)-2])
	}

	h, m := raw, "0"
	if i := strings.Index(raw, ":"); i >= 0 {
		h, m = raw[:i], raw[i+1:]
	}
	hour, err1 := strconv.Atoi(strings.TrimSpace(h))
	minute, err2 := strconv.Atoi(strings.TrimSpace(m))
	if err1 != nil || err2 != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: invalid time %q", types.ErrValidation, s)
	}

	switch {
	case am || pm:
		if hour < 1 || hour > 12 {
			return 0, 0, fmt.Errorf("%w: invalid time %q", types.ErrValidation, s)
		}
		if pm && hour != 12 {
			hour += 12
		} else if am && hour == 12 {
			hour = 0
		}
	case hour < 0 || hour > 23:
		return 0, 0, fmt.Errorf("%w: invalid time %q", types.ErrValidation, s)
	}
	return hour, minute, nil
}

// Validate checks that a job is exactly one of recurring or one-time and
// that its timezone, days, date and time are well formed. It runs before
// any state is written.
func Validate(job *types.CronJob) error {
	if strings.TrimSpace(job.Name) == "" {
		return fmt.Errorf("%w: job name is required", types.ErrValidation)
	}
	if strings.TrimSpace(job.Instructions) == "" {
		return fmt.Errorf("%w: job instructions are required", types.ErrValidation)
	}
	if _, err := time.LoadLocation(job.Timezone); err != nil || job.Timezone == "" {
		return fmt.Errorf("%w: unknown timezone %q", types.ErrValidation, job.Timezone)
	}
	if _, _, err := ParseClock(job.ScheduleTime); err != nil {
		return err
	}
	if job.IsOneTime {
		if job.RunDate == "" {
			return fmt.Errorf("%w: one-time job needs a run date", types.ErrValidation)
		}
		if _, err := time.Parse(types.DateLayout, job.RunDate); err != nil {
			return fmt.Errorf("%w: run date must be YYYY-MM-DD, got %q", types.ErrValidation, job.RunDate)
		}
		if len(job.ScheduleDays) > 0 {
			return fmt.Errorf("%w: one-time job cannot have schedule days", types.ErrValidation)
		}
		return nil
	}
	if len(job.ScheduleDays) == 0 {
		return fmt.Errorf("%w: recurring job needs at least one day", types.ErrValidation)
	}
	if job.RunDate != "" {
		return fmt.Errorf("%w: recurring job cannot have a run date", types.ErrValidation)
	}
	for _, d := range job.ScheduleDays {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: day %d out of range 0-6", types.ErrValidation, d)
		}
	}
	return nil
}

// NormalizeDays sorts and de-duplicates a day set.
func NormalizeDays(days []int) []int {
	seen := make(map[int]bool, len(days))
	var out []int
	for _, d := range days {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Ints(out)
	return out
}

// specFor builds the robfig schedule for a recurring job. Days are numbered
// from Monday; cron numbers from Sunday.
func specFor(job *types.CronJob) (cron.Schedule, error) {
	hour, minute, err := ParseClock(job.ScheduleTime)
	if err != nil {
		return nil, err
	}
	dows := make([]string, 0, len(job.ScheduleDays))
	for _, d := range NormalizeDays(job.ScheduleDays) {
		dows = append(dows, strconv.Itoa((d+1)%7))
	}
	spec := fmt.Sprintf("CRON_TZ=%s %d %d * * %s", job.Timezone, minute, hour, strings.Join(dows, ","))
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	return sched, nil
}

// RunAt returns the single run instant of a one-time job.
func RunAt(job *types.CronJob) (time.Time, error) {
	loc, err := time.LoadLocation(job.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: unknown timezone %q", types.ErrValidation, job.Timezone)
	}
	hour, minute, err := ParseClock(job.ScheduleTime)
	if err != nil {
		return time.Time{}, err
	}
	day, err := time.ParseInLocation(types.DateLayout, job.RunDate, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: run date must be YYYY-MM-DD, got %q", types.ErrValidation, job.RunDate)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc), nil
}

// Eligible reports whether a job should still be triggered by the clock.
// Paused jobs never are; a one-time job stops being eligible once it has
// run at or after its run instant.
func Eligible(job *types.CronJob) bool {
	if job.Status != types.JobActive {
		return false
	}
	if !job.IsOneTime {
		return true
	}
	at, err := RunAt(job)
	if err != nil {
		return false
	}
	return job.LastRunAt == nil || job.LastRunAt.Before(at)
}

// NextRun computes the next trigger instant after from. For recurring jobs
// it is the earliest allowed weekday at the job's local time; for one-time
// jobs it is the run instant. ok is false when the job will not run again.
func NextRun(job *types.CronJob, from time.Time) (next time.Time, ok bool, err error) {
	if !Eligible(job) {
		return time.Time{}, false, nil
	}
	if job.IsOneTime {
		at, err := RunAt(job)
		if err != nil {
			return time.Time{}, false, err
		}
		return at, true, nil
	}
	sched, err := specFor(job)
	if err != nil {
		return time.Time{}, false, err
	}
	next = sched.Next(from)
	return next, !next.IsZero(), nil
}

// FormatDays renders a day set for display.
func FormatDays(days []int) string {
	days = NormalizeDays(days)
	switch {
	case len(days) == 7:
		return "Every day"
	case len(days) == 5 && days[0] == 0 && days[4] == 4:
		return "Weekdays"
	case len(days) == 2 && days[0] == 5 && days[1] == 6:
		return "Weekends"
	}
	names := make([]string, 0, len(days))
	for _, d := range days {
		if d >= 0 && d < len(dayNames) {
			names = append(names, dayNames[d])
		}
	}
	return strings.Join(names, ", ")
}

// Timezone is an entry of the curated timezone list offered to UIs.
type Timezone struct {
	Name    string `json:"value"`
	Display string `json:"label"`
}

var Timezones = []Timezone{
	{"America/New_York", "Eastern Time (ET)"},
	{"America/Chicago", "Central Time (CT)"},
	{"America/Denver", "Mountain Time (MT)"},
	{"America/Los_Angeles", "Pacific Time (PT)"},
	{"America/Anchorage", "Alaska Time (AKT)"},
	{"Pacific/Honolulu", "Hawaii Time (HT)"},
	{"Europe/London", "Greenwich Mean Time (GMT)"},
	{"Europe/Paris", "Central European Time (CET)"},
	{"Europe/Athens", "Eastern European Time (EET)"},
	{"Asia/Tokyo", "Japan Standard Time (JST)"},
	{"Asia/Shanghai", "China Standard Time (CST)"},
	{"Asia/Dubai", "Gulf Standard Time (GST)"},
	{"Australia/Sydney", "Australian Eastern Time (AET)"},
	{"Pacific/Auckland", "New Zealand Time (NZT)"},
	{"UTC", "UTC"},
}

// TimezoneDisplay returns the friendly name of tz, or tz itself.
func TimezoneDisplay(tz string) string {
	for _, z := range Timezones {
		if z.Name == tz {
			return z.Display
		}
	}
	return tz
}
