package gtfs

import (
	"time"

	"github.com/passbi/passbi_core/internal/models"
)

// weeklyPattern is the day-of-week × date-range part of a calendar.txt
// row, keyed separately from the GTFSCalendar struct so ServiceCalendar
// can answer IsActiveOn without re-parsing date strings per query.
type weeklyPattern struct {
	days      [7]bool // indexed by time.Weekday
	startDate string  // YYYYMMDD, inclusive
	endDate   string  // YYYYMMDD, inclusive
}

// ServiceCalendar answers "does service X run on date Y", combining
// calendar.txt's weekly pattern with calendar_dates.txt's per-date
// exceptions — the trip_is_possible predicate ProfileSearch's schedule
// gate needs, adapted from GTFS's own calendar model rather than
// invented from scratch.
type ServiceCalendar struct {
	weekly     map[string]weeklyPattern
	exceptions map[string]map[string]int // service_id -> date -> exception_type (1=added, 2=removed)
}

// NewServiceCalendar builds a calendar from parsed calendar.txt and
// calendar_dates.txt rows. Either may be nil/empty — a service with no
// calendar.txt row and only calendar_dates.txt additions is valid GTFS.
func NewServiceCalendar(calendars []models.GTFSCalendar, calendarDates []models.GTFSCalendarDate) *ServiceCalendar {
	c := &ServiceCalendar{
		weekly:     make(map[string]weeklyPattern),
		exceptions: make(map[string]map[string]int),
	}

	for _, row := range calendars {
		c.weekly[row.ServiceID] = weeklyPattern{
			days: [7]bool{
				time.Sunday:    row.Sunday,
				time.Monday:    row.Monday,
				time.Tuesday:   row.Tuesday,
				time.Wednesday: row.Wednesday,
				time.Thursday:  row.Thursday,
				time.Friday:    row.Friday,
				time.Saturday:  row.Saturday,
			},
			startDate: row.StartDate,
			endDate:   row.EndDate,
		}
	}

	for _, row := range calendarDates {
		if c.exceptions[row.ServiceID] == nil {
			c.exceptions[row.ServiceID] = make(map[string]int)
		}
		c.exceptions[row.ServiceID][row.Date] = row.ExceptionType
	}

	return c
}

// IsActiveOn reports whether serviceID operates on date, applying
// calendar_dates.txt exceptions (exception_type 1 adds a date regardless
// of the weekly pattern, 2 removes one) over the calendar.txt weekly
// pattern.
func (c *ServiceCalendar) IsActiveOn(serviceID string, date time.Time) bool {
	dateStr := date.Format("20060102")

	if exceptions, ok := c.exceptions[serviceID]; ok {
		switch exceptions[dateStr] {
		case 1:
			return true
		case 2:
			return false
		}
	}

	pattern, ok := c.weekly[serviceID]
	if !ok {
		return false
	}
	if dateStr < pattern.startDate || dateStr > pattern.endDate {
		return false
	}
	return pattern.days[date.Weekday()]
}
