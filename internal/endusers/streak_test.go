package endusers

import (
	"testing"
	"time"
)

func TestRecordActivityStreaks(t *testing.T) {
	day := func(d, hour int) time.Time {
		return time.Date(2025, 1, d, hour, 0, 0, 0, time.UTC)
	}
	testCases := []struct {
		name            string
		events          []time.Time
		expectedCurrent int
		expectedLongest int
	}{
		{name: "first activity", events: []time.Time{day(1, 9)}, expectedCurrent: 1, expectedLongest: 1},
		{name: "same day twice", events: []time.Time{day(1, 9), day(1, 22)}, expectedCurrent: 1, expectedLongest: 1},
		{name: "consecutive days", events: []time.Time{day(1, 9), day(2, 1), day(3, 23)}, expectedCurrent: 3, expectedLongest: 3},
		{name: "gap resets", events: []time.Time{day(1, 9), day(2, 9), day(5, 9)}, expectedCurrent: 1, expectedLongest: 2},
		{name: "late event keeps streak", events: []time.Time{day(3, 9), day(2, 9)}, expectedCurrent: 1, expectedLongest: 1},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			user := &EndUser{}
			for _, event := range testCase.events {
				RecordActivity(user, event)
			}
			if user.CurrentStreak != testCase.expectedCurrent {
				t.Fatalf("expected current streak %d, got %d", testCase.expectedCurrent, user.CurrentStreak)
			}
			if user.LongestStreak != testCase.expectedLongest {
				t.Fatalf("expected longest streak %d, got %d", testCase.expectedLongest, user.LongestStreak)
			}
		})
	}
}

func TestRecordActivityUsesUTCDays(t *testing.T) {
	paris := time.FixedZone("CET", 3600)
	user := &EndUser{}
	RecordActivity(user, time.Date(2025, 1, 1, 23, 30, 0, 0, time.UTC))
	// 00:30 CET on Jan 2 is still Jan 1 in UTC.
	RecordActivity(user, time.Date(2025, 1, 2, 0, 30, 0, 0, paris))
	if user.CurrentStreak != 1 {
		t.Fatalf("expected same UTC day to keep streak at 1, got %d", user.CurrentStreak)
	}
}
