package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeSlotOverlaps(t *testing.T) {
	base := TimeSlot{DayOfWeek: 1, StartMinute: 540, EndMinute: 600}

	cases := []struct {
		name  string
		other TimeSlot
		want  bool
	}{
		{"identical", TimeSlot{DayOfWeek: 1, StartMinute: 540, EndMinute: 600}, true},
		{"partial overlap", TimeSlot{DayOfWeek: 1, StartMinute: 570, EndMinute: 630}, true},
		{"contained", TimeSlot{DayOfWeek: 1, StartMinute: 550, EndMinute: 590}, true},
		{"back to back after", TimeSlot{DayOfWeek: 1, StartMinute: 600, EndMinute: 660}, false},
		{"back to back before", TimeSlot{DayOfWeek: 1, StartMinute: 480, EndMinute: 540}, false},
		{"different day", TimeSlot{DayOfWeek: 2, StartMinute: 540, EndMinute: 600}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, base.Overlaps(tc.other))
			assert.Equal(t, tc.want, tc.other.Overlaps(base))
		})
	}
}

func TestCourseSectionSeatsLeft(t *testing.T) {
	section := CourseSection{MaxCapacity: 30, CurrentEnrollment: 28}
	assert.Equal(t, 2, section.SeatsLeft())

	section.CurrentEnrollment = 30
	assert.Equal(t, 0, section.SeatsLeft())
}

func TestStringListRoundTrip(t *testing.T) {
	list := StringList{"CS-101", "MA-110"}
	value, err := list.Value()
	require.NoError(t, err)

	var scanned StringList
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, list, scanned)

	var empty StringList
	require.NoError(t, empty.Scan(nil))
	assert.Empty(t, empty)
}
