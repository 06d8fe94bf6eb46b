package engine

import "time"

// NextSendTime adds the step delay to base. When timeOfDay ("HH:MM") is set,
// the result moves forward to the next occurrence of that wall-clock time in loc.
// The result is always UTC.
func NextSendTime(base time.Time, delayDays, delayHours int, timeOfDay string, loc *time.Location) time.Time {
	if delayDays < 0 {
		delayDays = 0
	}
	if delayHours < 0 {
		delayHours = 0
	}
	t := base.Add(time.Duration(delayDays)*24*time.Hour + time.Duration(delayHours)*time.Hour)

	hour, minute, ok := parseTimeOfDay(timeOfDay)
	if !ok {
		return t.UTC()
	}
	if loc == nil {
		loc = time.UTC
	}

	local := t.In(loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if at.Before(local) {
		at = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return at.UTC()
}

func parseTimeOfDay(s string) (int, int, bool) {
	if s == "" {
		return 0, 0, false
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}
