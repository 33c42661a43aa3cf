package quest

import (
	"fmt"
	"time"

	"github.com/kasuganosora/questengine/model"
)

// NextResetAt returns the next reset instant of q strictly after now, in UTC,
// with wall-clock times interpreted in loc. It returns nil for quests that
// never reset.
//
// A daily quest resets at its reset time; a weekly quest at its reset time
// on its weekday; a monthly quest at 00:00 on the first day of the month.
// When the candidate equals now the next cycle is used, so a record reset at
// exactly the boundary is not reset again until the following period.
func NextResetAt(q *model.Quest, now time.Time, loc *time.Location) (*time.Time, error) {
	if !q.ResetType.Periodic() {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	var next time.Time
	switch q.ResetType {
	case model.ResetMonthly:
		next = time.Date(local.Year(), local.Month()+1, 1, 0, 0, 0, 0, loc)

	case model.ResetDaily, model.ResetWeekly:
		hh, mm, err := parseResetTime(q.ResetTime)
		if err != nil {
			return nil, err
		}
		daysAhead := 0
		period := 1
		if q.ResetType == model.ResetWeekly {
			if q.ResetDayOfWeek == nil {
				return nil, invalid("reset_day_of_week", "is required for weekly quests")
			}
			daysAhead = (*q.ResetDayOfWeek - int(local.Weekday()) + 7) % 7
			period = 7
		}
		next = time.Date(local.Year(), local.Month(), local.Day()+daysAhead, hh, mm, 0, 0, loc)
		if !next.After(local) {
			next = next.AddDate(0, 0, period)
		}
	}

	utc := next.UTC()
	return &utc, nil
}

func parseResetTime(s string) (int, int, error) {
	if s == "" {
		return 0, 0, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: reset_time %q", ErrInvalidQuest, s)
	}
	return t.Hour(), t.Minute(), nil
}
