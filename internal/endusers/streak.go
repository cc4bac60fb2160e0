package endusers

import "time"

// RecordActivity updates the login streak for activity at the given instant.
// Days are UTC calendar days: a second event on the same day leaves the streak alone,
// an event on the following day extends it and any longer gap restarts it at one.
func RecordActivity(user *EndUser, at time.Time) {
	if user == nil {
		return
	}
	day := truncateDay(at)
	switch {
	case user.LastLoginAt == nil:
		user.CurrentStreak = 1
	default:
		last := truncateDay(*user.LastLoginAt)
		gap := int(day.Sub(last).Hours() / 24)
		switch {
		case gap <= 0:
			if user.CurrentStreak == 0 {
				user.CurrentStreak = 1
			}
		case gap == 1:
			user.CurrentStreak++
		default:
			user.CurrentStreak = 1
		}
	}
	if user.CurrentStreak > user.LongestStreak {
		user.LongestStreak = user.CurrentStreak
	}
	if user.LastLoginAt == nil || at.After(*user.LastLoginAt) {
		stamp := at.UTC()
		user.LastLoginAt = &stamp
	}
}

func truncateDay(at time.Time) time.Time {
	utc := at.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
