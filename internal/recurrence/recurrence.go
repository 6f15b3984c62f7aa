// Package recurrence compiles human-level repeat specifications into either a
// standard 5-field cron expression or, for custom intervals, a finite ordered
// list of future occurrence timestamps.
package recurrence

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"cronflow/internal/task"
)

// Kind is the repeat pattern of a schedule. The string encoding matches the
// storage layer.
type Kind string

const (
	NoRepeat       Kind = "no_repeat"
	DailyRepeat    Kind = "daily_repeat"
	WeeklyRepeat   Kind = "weekly_repeat"
	MonthlyRepeat  Kind = "monthly_repeat"
	AnnuallyRepeat Kind = "annually_repeat"
	WeekdayRepeat  Kind = "weekday_repeat"
	CustomRepeat   Kind = "custom_repeat"
)

func (k Kind) needsDay() bool {
	switch k {
	case NoRepeat, WeeklyRepeat, MonthlyRepeat, AnnuallyRepeat, CustomRepeat:
		return true
	}
	return false
}

func (k Kind) needsTime() bool {
	return k != WeekdayRepeat
}

// IntervalUnit is the step unit for custom repeats.
type IntervalUnit string

const (
	UnitDay   IntervalUnit = "day"
	UnitWeek  IntervalUnit = "week"
	UnitMonth IntervalUnit = "month"
	UnitYear  IntervalUnit = "year"
)

const (
	dayLayout  = "2006-01-02"
	timeLayout = "15:04"

	// maxSpanDays caps the deadline horizon for non-year custom repeats.
	maxSpanDays = 1825
)

// Custom holds the extra fields a CustomRepeat spec needs.
type Custom struct {
	Unit     IntervalUnit
	Interval int
	// Values are weekday numbers (0=Sunday..6=Saturday) for the week unit and
	// day-of-month numbers for the month and year units. Duplicates are
	// removed; order is preserved.
	Values []int
	// Month is the calendar month for the year unit.
	Month time.Month
}

// Spec is a validated recurrence specification. Construct with New; a Spec
// that exists is internally consistent.
type Spec struct {
	kind      Kind
	day       string
	timeOfDay string
	custom    Custom
	deadline  *time.Time
}

// New validates a recurrence specification and fails fast on any
// inconsistency. day is a calendar date for NoRepeat/AnnuallyRepeat/
// CustomRepeat, a weekday number 0-6 (0=Monday) for WeeklyRepeat, and a
// day-of-month 1-31 for MonthlyRepeat. timeOfDay is "HH:MM". custom is
// required for CustomRepeat and ignored otherwise.
func New(kind Kind, day, timeOfDay string, custom *Custom, deadline *time.Time) (*Spec, error) {
	s := &Spec{kind: kind, day: day, timeOfDay: timeOfDay, deadline: deadline}
	if custom != nil {
		s.custom = *custom
	}
	if err := s.validate(time.Now()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Spec) validate(now time.Time) error {
	s.custom.Values = dedupe(s.custom.Values)

	if s.kind == CustomRepeat {
		if s.custom.Unit == "" {
			return task.Validationf("custom repeat requires an interval unit")
		}
		if s.custom.Interval < 1 || s.custom.Interval > 30 {
			return task.Validationf("custom repeat interval must be between 1 and 30")
		}
		switch s.custom.Unit {
		case UnitWeek:
			if len(s.custom.Values) == 0 {
				return task.Validationf("custom week repeat requires day values")
			}
			for _, v := range s.custom.Values {
				if v < 0 || v > 6 {
					return task.Validationf("week day value must be between 0 and 6, got %d", v)
				}
			}
		case UnitMonth:
			if len(s.custom.Values) == 0 {
				return task.Validationf("custom month repeat requires day values")
			}
			for _, v := range s.custom.Values {
				if v < 1 || v > 31 {
					return task.Validationf("month day value must be between 1 and 31, got %d", v)
				}
			}
		case UnitYear:
			for _, v := range s.custom.Values {
				if v < 1 || v > 31 {
					return task.Validationf("year day value must be between 1 and 31, got %d", v)
				}
			}
		case UnitDay:
			s.custom.Values = nil
		default:
			return task.Validationf("unknown interval unit %q", s.custom.Unit)
		}
	} else {
		s.custom = Custom{}
	}

	if s.kind.needsDay() && s.day == "" {
		return task.Validationf("day cannot be empty for %s", s.kind)
	}
	if s.kind.needsTime() && s.timeOfDay == "" {
		return task.Validationf("time cannot be empty for %s", s.kind)
	}
	if s.timeOfDay != "" {
		if _, err := time.Parse(timeLayout, s.timeOfDay); err != nil {
			return task.Validationf("invalid time %q, want HH:MM", s.timeOfDay)
		}
	}

	switch s.kind {
	case WeeklyRepeat:
		n, err := strconv.Atoi(s.day)
		if err != nil || n < 0 || n > 6 {
			return task.Validationf("weekly repeat day must be between 0 and 6, got %q", s.day)
		}
	case MonthlyRepeat:
		n, err := strconv.Atoi(s.day)
		if err != nil || n < 1 || n > 31 {
			return task.Validationf("monthly repeat day must be between 1 and 31, got %q", s.day)
		}
	case NoRepeat, AnnuallyRepeat:
		if _, err := time.ParseInLocation(dayLayout, s.day, time.Local); err != nil {
			return task.Validationf("invalid day %q, want YYYY-MM-DD", s.day)
		}
	}

	// The combined day+time instant must be strictly in the future. A
	// same-day date with a later time-of-day passes. CustomRepeat is exempt:
	// its deadline-bounded iteration filters past occurrences itself.
	if s.kind != CustomRepeat && s.timeOfDay != "" {
		if dt, err := s.Datetime(); err == nil && !dt.After(now) {
			return task.Validationf("day and time %s resolve to a past instant", dt.Format("2006-01-02 15:04"))
		}
	}

	if s.deadline != nil {
		cmp := *s.deadline
		if s.timeOfDay != "" {
			cmp = atTimeOfDay(cmp, s.timeOfDay)
		}
		if cmp.Before(now) {
			return task.Validationf("deadline %s is in the past", cmp.Format("2006-01-02 15:04"))
		}
	}
	return nil
}

// Kind returns the repeat pattern.
func (s *Spec) Kind() Kind { return s.kind }

// Deadline returns the configured deadline, nil when unset.
func (s *Spec) Deadline() *time.Time { return s.deadline }

// Datetime resolves the spec's calendar day and time-of-day to one instant.
// Only meaningful for kinds whose day field is a calendar date.
func (s *Spec) Datetime() (time.Time, error) {
	dt, err := time.ParseInLocation(dayLayout+" "+timeLayout, s.day+" "+s.timeOfDay, time.Local)
	if err != nil {
		return time.Time{}, task.Validationf("invalid day/time %q %q", s.day, s.timeOfDay)
	}
	return dt, nil
}

// CronRule compiles the spec into a 5-field cron expression
// (minute hour day-of-month month day-of-week). NoRepeat has no cron rule;
// its single instant comes from Datetime.
func (s *Spec) CronRule() (string, error) {
	if s.kind == NoRepeat {
		return "", task.Validationf("no-repeat schedules have no cron rule")
	}

	minute, hour, dayOfMonth, month, dayOfWeek := "*", "*", "*", "*", "*"
	if s.timeOfDay != "" {
		t, _ := time.Parse(timeLayout, s.timeOfDay)
		hour = strconv.Itoa(t.Hour())
		minute = strconv.Itoa(t.Minute())
	}

	switch s.kind {
	case DailyRepeat:
	case WeeklyRepeat:
		// Input weekday 0-6 means Monday through Sunday; cron uses 0 for
		// Sunday.
		n, _ := strconv.Atoi(s.day)
		dow := n + 1
		if dow == 7 {
			dow = 0
		}
		dayOfWeek = strconv.Itoa(dow)
	case MonthlyRepeat:
		dayOfMonth = s.day
	case AnnuallyRepeat:
		dt, err := time.ParseInLocation(dayLayout, s.day, time.Local)
		if err != nil {
			return "", task.Validationf("invalid day %q", s.day)
		}
		dayOfMonth = strconv.Itoa(dt.Day())
		month = strconv.Itoa(int(dt.Month()))
	case WeekdayRepeat:
		dayOfWeek = "1-5"
	case CustomRepeat:
		switch s.custom.Unit {
		case UnitDay:
			dayOfMonth = "*/" + strconv.Itoa(s.custom.Interval)
		case UnitWeek:
			dayOfWeek = joinInts(s.custom.Values)
		case UnitMonth:
			dayOfMonth = joinInts(s.custom.Values)
		case UnitYear:
			dt, err := time.ParseInLocation(dayLayout, s.day, time.Local)
			if err != nil {
				return "", task.Validationf("invalid day %q", s.day)
			}
			dayOfMonth = strconv.Itoa(dt.Day())
			month = strconv.Itoa(int(dt.Month()))
		}
	}

	rule := fmt.Sprintf("%s %s %s %s %s", minute, hour, dayOfMonth, month, dayOfWeek)
	if _, err := cron.ParseStandard(rule); err != nil {
		return "", task.Validationf("generated cron rule %q is invalid: %v", rule, err)
	}
	return rule, nil
}

// Occurrences computes the finite ordered list of future occurrence
// timestamps for a CustomRepeat spec: everything strictly after now and at or
// before the deadline (defaulted to +2 years, +10 for the year unit). Month
// and year steps skip day values beyond the target month's length rather than
// clamping them. An empty result is a validation error: the configuration can
// produce no runnable occurrence.
func (s *Spec) Occurrences(now time.Time) ([]time.Time, error) {
	if s.kind != CustomRepeat {
		return nil, task.Validationf("occurrence lists are only computed for custom repeats")
	}
	if s.custom.Unit == UnitYear && s.custom.Month == 0 {
		return nil, task.Validationf("month cannot be empty for a yearly custom repeat")
	}

	deadline := s.deadline
	if deadline == nil {
		var d time.Time
		if s.custom.Unit == UnitYear {
			d = now.AddDate(10, 0, 0)
		} else {
			d = now.AddDate(2, 0, 0)
		}
		deadline = &d
	}

	spanDays := int(deadline.Sub(now).Hours() / 24)
	if spanDays < 0 {
		spanDays = 0
	}
	if spanDays > maxSpanDays && s.custom.Unit != UnitYear {
		return nil, task.Validationf("deadline span cannot exceed five years")
	}

	base, err := s.Datetime()
	if err != nil {
		return nil, err
	}

	steps := s.stepCount(spanDays)
	candidates := s.generate(base, steps, now)

	// Deadline comparison happens at the configured time-of-day.
	cutoff := atTimeOfDay(*deadline, s.timeOfDay)
	var occurrences []time.Time
	for _, c := range candidates {
		if c.After(cutoff) {
			continue
		}
		occurrences = append(occurrences, c)
	}

	if len(occurrences) == 0 {
		return nil, task.Validationf("configuration produces no runnable occurrence")
	}
	return occurrences, nil
}

// stepCount over-approximates how many interval steps reach the deadline.
func (s *Spec) stepCount(spanDays int) int {
	interval := s.custom.Interval
	steps := 1
	switch s.custom.Unit {
	case UnitDay:
		steps++
		steps += int(math.Ceil(float64(spanDays) / float64(interval)))
	case UnitWeek:
		weeks := float64(spanDays) / 7
		steps += int(math.Ceil(weeks / float64(interval)))
	case UnitMonth:
		months := float64(spanDays) / 30
		if interval == 1 {
			months++
		}
		steps += int(math.Ceil(months / float64(interval)))
	case UnitYear:
		years := float64(spanDays) / 365
		steps += int(math.Ceil(years / float64(interval)))
	}
	return steps
}

func (s *Spec) generate(base time.Time, steps int, now time.Time) []time.Time {
	interval := s.custom.Interval
	hour, minute := base.Hour(), base.Minute()
	loc := base.Location()

	var out []time.Time
	for i := 0; i < steps; i++ {
		switch s.custom.Unit {
		case UnitDay:
			cand := base.AddDate(0, 0, interval*i)
			if cand.After(now) {
				out = append(out, cand)
			}
		case UnitWeek:
			start := base.AddDate(0, 0, 7*interval*i)
			for _, v := range s.custom.Values {
				cand := snapToWeekday(start, time.Weekday(v), hour, minute)
				if cand.After(now) {
					out = append(out, cand)
				}
			}
		case UnitMonth:
			year, month := shiftMonths(base, interval*i)
			length := daysInMonth(year, month)
			for _, v := range s.custom.Values {
				if v > length {
					continue
				}
				cand := time.Date(year, month, v, hour, minute, 0, 0, loc)
				if cand.After(now) {
					out = append(out, cand)
				}
			}
		case UnitYear:
			year := base.Year() + interval*i
			month := s.custom.Month
			length := daysInMonth(year, month)
			values := s.custom.Values
			if len(values) == 0 {
				values = []int{base.Day()}
			}
			for _, v := range values {
				if v > length {
					continue
				}
				cand := time.Date(year, month, v, hour, minute, 0, 0, loc)
				if cand.After(now) {
					out = append(out, cand)
				}
			}
		}
	}
	return out
}

// snapToWeekday moves t forward to the requested weekday (staying put when
// already there) while preserving the given time-of-day.
func snapToWeekday(t time.Time, target time.Weekday, hour, minute int) time.Time {
	delta := (int(target) - int(t.Weekday()) + 7) % 7
	d := t.AddDate(0, 0, delta)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, t.Location())
}

// shiftMonths advances base by n calendar months without the end-of-month
// overflow AddDate would introduce; the day is re-resolved by the caller.
func shiftMonths(base time.Time, n int) (int, time.Month) {
	total := int(base.Month()) - 1 + n
	year := base.Year() + total/12
	month := time.Month(total%12 + 1)
	return year, month
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func atTimeOfDay(t time.Time, timeOfDay string) time.Time {
	if timeOfDay == "" {
		return t
	}
	tod, err := time.Parse(timeLayout, timeOfDay)
	if err != nil {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), tod.Hour(), tod.Minute(), 0, 0, t.Location())
}

func dedupe(values []int) []int {
	if len(values) == 0 {
		return values
	}
	seen := make(map[int]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
