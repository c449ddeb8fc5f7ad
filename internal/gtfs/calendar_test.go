package gtfs

import (
	"testing"
	"time"

	"github.com/passbi/passbi_core/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestServiceCalendar_IsActiveOn(t *testing.T) {
	calendars := []models.GTFSCalendar{
		{
			ServiceID: "weekday",
			Monday:    true,
			Tuesday:   true,
			Wednesday: true,
			Thursday:  true,
			Friday:    true,
			StartDate: "20260101",
			EndDate:   "20261231",
		},
	}
	calendarDates := []models.GTFSCalendarDate{
		{ServiceID: "weekday", Date: "20260706", ExceptionType: 2}, // holiday, removed
		{ServiceID: "weekday", Date: "20260705", ExceptionType: 1}, // added on a Sunday
	}

	cal := NewServiceCalendar(calendars, calendarDates)

	tests := []struct {
		name      string
		serviceID string
		date      string
		expected  bool
	}{
		{"removed exception overrides a Monday within range", "weekday", "20260706", false},
		{"runs on a normal Wednesday within range", "weekday", "20260701", true},
		{"does not run on Saturday", "weekday", "20260704", false},
		{"added exception runs despite being a Sunday", "weekday", "20260705", true},
		{"before start_date does not run", "weekday", "20251231", false},
		{"unknown service never runs", "unknown", "20260701", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			date, err := time.Parse("20060102", tt.date)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, cal.IsActiveOn(tt.serviceID, date))
		})
	}
}

func TestServiceCalendar_ExceptionOnlyService(t *testing.T) {
	calendarDates := []models.GTFSCalendarDate{
		{ServiceID: "special-event", Date: "20260815", ExceptionType: 1},
	}
	cal := NewServiceCalendar(nil, calendarDates)

	active, _ := time.Parse("20060102", "20260815")
	inactive, _ := time.Parse("20060102", "20260816")

	assert.True(t, cal.IsActiveOn("special-event", active))
	assert.False(t, cal.IsActiveOn("special-event", inactive))
}
