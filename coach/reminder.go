package coach

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	// Reminder dates are checked in the user's zone, which must resolve
	// even on hosts without a zoneinfo database.
	_ "time/tzdata"
)

// Reminder defaults.
const (
	DefaultTimezone      = "Asia/Kolkata"
	DefaultScheduledTime = "09:00"
	reminderDateLayout   = "2006-01-02"
	reminderTimeLayout   = "15:04"
)

// Frequencies accepted for a recurring reminder.
var Frequencies = []string{"daily", "fortnightly", "monthly", "weekly"}

var frequencyAliases = map[string]string{
	"daily": "daily", "day": "daily", "everyday": "daily", "every day": "daily",
	"weekly": "weekly", "week": "weekly", "every week": "weekly",
	"fortnightly": "fortnightly", "fortnight": "fortnightly", "every fortnight": "fortnightly",
	"every two weeks": "fortnightly", "bi-weekly": "fortnightly", "biweekly": "fortnightly",
	"monthly": "monthly", "month": "monthly", "every month": "monthly",
}

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ErrInvalidReminder is matched by every reminder validation failure.
var ErrInvalidReminder = errors.New("invalid reminder")

// Reminder is a validated reminder request. Exactly one of Frequency or
// Date is set.
type Reminder struct {
	Frequency string `json:"frequency,omitempty"`
	Date      string `json:"date,omitempty"`
	Time      string `json:"time"`
	Timezone  string `json:"timezone"`
}

// Recurring reports whether the reminder repeats.
func (r Reminder) Recurring() bool {
	return r.Frequency != ""
}

func (r Reminder) String() string {
	if r.Recurring() {
		return fmt.Sprintf("%s at %s (%s)", r.Frequency, r.Time, r.Timezone)
	}
	return fmt.Sprintf("on %s at %s (%s)", r.Date, r.Time, r.Timezone)
}

// NormalizeFrequency maps common spellings onto the accepted frequencies.
// Unknown values are returned lowercased and trimmed.
func NormalizeFrequency(frequency string) string {
	normalized := strings.ToLower(strings.TrimSpace(frequency))
	if canonical, ok := frequencyAliases[normalized]; ok {
		return canonical
	}
	return normalized
}

// ValidateReminder normalizes and checks a reminder request.
//
// The date, if any, must be YYYY-MM-DD and not earlier than today in tz.
// An empty tz means DefaultTimezone and an empty clock time means
// DefaultScheduledTime.
func ValidateReminder(frequency, date, clock, tz string, now time.Time) (Reminder, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Reminder{}, fmt.Errorf("%w: unknown timezone %q", ErrInvalidReminder, tz)
	}

	frequency = strings.TrimSpace(frequency)
	date = strings.TrimSpace(date)
	switch {
	case frequency == "" && date == "":
		return Reminder{}, fmt.Errorf("%w: must specify either frequency or date", ErrInvalidReminder)
	case frequency != "" && date != "":
		return Reminder{}, fmt.Errorf("%w: cannot specify both frequency and date", ErrInvalidReminder)
	}

	r := Reminder{Time: DefaultScheduledTime, Timezone: tz}
	if clock = strings.TrimSpace(clock); clock != "" {
		if _, err := time.Parse(reminderTimeLayout, clock); err != nil {
			return Reminder{}, fmt.Errorf("%w: invalid time %q, use HH:MM", ErrInvalidReminder, clock)
		}
		r.Time = clock
	}

	if frequency != "" {
		r.Frequency = NormalizeFrequency(frequency)
		i := sort.SearchStrings(Frequencies, r.Frequency)
		if i == len(Frequencies) || Frequencies[i] != r.Frequency {
			return Reminder{}, fmt.Errorf("%w: invalid frequency %q, allowed values: %s",
				ErrInvalidReminder, frequency, strings.Join(Frequencies, ", "))
		}
		return r, nil
	}

	if !datePattern.MatchString(date) {
		return Reminder{}, fmt.Errorf("%w: invalid date format %q, use YYYY-MM-DD", ErrInvalidReminder, date)
	}
	day, err := time.ParseInLocation(reminderDateLayout, date, loc)
	if err != nil {
		return Reminder{}, fmt.Errorf("%w: invalid date %q", ErrInvalidReminder, date)
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if day.Before(today) {
		return Reminder{}, fmt.Errorf("%w: date %q is in the past", ErrInvalidReminder, date)
	}
	r.Date = date
	return r, nil
}
