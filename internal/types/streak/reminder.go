package streak

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const DefaultReminderTime = "19:00"

var reminderTimePattern = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):([0-5][0-9])$`)

var ErrInvalidReminderTime = errors.New("reminder time must be HH:MM in 24-hour format")

// ReminderTime is a time of day with minute precision.
type ReminderTime struct {
	Hour   int
	Minute int
}

func ParseReminderTime(s string) (ReminderTime, error) {
	m := reminderTimePattern.FindStringSubmatch(s)
	if m == nil {
		return ReminderTime{}, fmt.Errorf("%w: %q", ErrInvalidReminderTime, s)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	return ReminderTime{Hour: hour, Minute: minute}, nil
}

func (r ReminderTime) String() string {
	return fmt.Sprintf("%02d:%02d", r.Hour, r.Minute)
}

// Matches reports whether t falls in the reminder's minute.
func (r ReminderTime) Matches(t time.Time) bool {
	return t.Hour() == r.Hour && t.Minute() == r.Minute
}
