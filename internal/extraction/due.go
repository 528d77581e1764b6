package extraction

import (
	"regexp"
	"strings"
	"time"
)

var (
	isoDatePattern   = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	todayPattern     = regexp.MustCompile(`\b(today|tonight|eod|end of (the )?day)\b`)
	tomorrowPattern  = regexp.MustCompile(`\btomorrow\b`)
	endOfWeekPattern = regexp.MustCompile(`\bend of (the )?week\b`)
	nextWeekPattern  = regexp.MustCompile(`\bnext week\b`)
	asapPattern      = regexp.MustCompile(`\b(asap|as soon as possible|urgent(ly)?)\b`)
	endOfMonthPat    = regexp.MustCompile(`\bend of (the )?month\b`)
	nextMonthPattern = regexp.MustCompile(`\bnext month\b`)
	weekdayPattern   = regexp.MustCompile(`\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// NormalizeDue resolves a spoken deadline against the session's start time
// in its own location. It returns nil when the expression is not one it
// understands; the raw text is kept either way.
func NormalizeDue(raw string, ref time.Time) *time.Time {
	dl := strings.ToLower(strings.TrimSpace(raw))
	if dl == "" {
		return nil
	}

	var t time.Time
	switch {
	case isoDatePattern.MatchString(dl):
		d, err := time.ParseInLocation("2006-01-02", isoDatePattern.FindString(dl), ref.Location())
		if err != nil {
			return nil
		}
		t = at(d, 17)
	case todayPattern.MatchString(dl):
		t = at(ref, 18)
	case tomorrowPattern.MatchString(dl):
		t = at(ref.AddDate(0, 0, 1), 9)
	case endOfWeekPattern.MatchString(dl):
		t = at(nextWeekday(ref, time.Friday), 17)
	case weekdayPattern.MatchString(dl):
		t = at(nextWeekday(ref, weekdays[weekdayPattern.FindString(dl)]), 17)
	case nextWeekPattern.MatchString(dl):
		t = at(ref.AddDate(0, 0, 7), 9)
	case asapPattern.MatchString(dl):
		days := 2
		if wd := ref.Weekday(); wd == time.Friday || wd == time.Saturday || wd == time.Sunday {
			days = 3
		}
		t = at(ref.AddDate(0, 0, days), 9)
	case endOfMonthPat.MatchString(dl):
		first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
		t = at(first.AddDate(0, 1, -1), 17)
	case nextMonthPattern.MatchString(dl):
		t = sameDayNextMonth(ref)
	default:
		return nil
	}
	return &t
}

func at(d time.Time, hour int) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, d.Location())
}

// nextWeekday is the next date falling on wd, a full week ahead when ref is
// already that weekday.
func nextWeekday(ref time.Time, wd time.Weekday) time.Time {
	days := (int(wd) - int(ref.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return ref.AddDate(0, 0, days)
}

func sameDayNextMonth(ref time.Time) time.Time {
	year, month := ref.Year(), ref.Month()+1
	if month > time.December {
		year, month = year+1, time.January
	}
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, ref.Location()).Day()
	day := ref.Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, 9, 0, 0, 0, ref.Location())
}
