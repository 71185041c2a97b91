package booking

import (
	"errors"
	"fmt"
	"time"

	"github.com/havenapp/haven/server/models"
	"gorm.io/gorm"
)

const (
	// Candidate slots are generated on a fixed 30 minute grid no matter
	// what session duration the caller asked for - only the conflict
	// check below uses the requested duration.
	SLOT_INTERVAL_MINUTES = 30

	MIN_SESSION_MINUTES = 30
	MAX_SESSION_MINUTES = 180
)

var ErrInvalidDuration = fmt.Errorf(
	"session duration must be between %v and %v minutes", MIN_SESSION_MINUTES, MAX_SESSION_MINUTES)

type Slot struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type SlotsResult struct {
	Date       string `json:"date"`
	Day        string `json:"day"`
	Slots      []Slot `json:"slots"`
	TotalSlots int    `json:"total_slots"`
	Message    string `json:"message,omitempty"`
}

// AvailableSlots produces the bookable start times for a counselor on a
// date. 'now' is passed in so the same-day cutoff is testable.
func AvailableSlots(counselorID uint, date time.Time, durationMinutes int, now time.Time) (*SlotsResult, error) {
	if durationMinutes < MIN_SESSION_MINUTES || durationMinutes > MAX_SESSION_MINUTES {
		return nil, ErrInvalidDuration
	}

	dayName := date.Weekday().String()
	result := &SlotsResult{
		Date:  date.Format("2006-01-02"),
		Day:   dayName,
		Slots: []Slot{},
	}

	windows, err := availabilityWindows(counselorID, dayName)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		result.Message = fmt.Sprintf("Counselor is not available on %vs", dayName)
		return result, nil
	}

	appointments, err := models.ActiveAppointmentsForDay(counselorID, result.Date)
	if err != nil {
		return nil, err
	}

	booked := make([][2]int, 0, len(appointments))
	for _, appointment := range appointments {
		start, err := parseMinutes(appointment.StartTime)
		if err != nil {
			continue
		}
		booked = append(booked, [2]int{start, start + appointment.DurationMinutes})
	}

	sameDay := date.Format("2006-01-02") == now.Format("2006-01-02")
	nowMinutes := now.Hour()*60 + now.Minute()

	for _, window := range windows {
		windowStart, err := parseMinutes(window.StartTime)
		if err != nil {
			continue
		}
		windowEnd, err := parseMinutes(window.EndTime)
		if err != nil {
			continue
		}

		for start := windowStart; start+SLOT_INTERVAL_MINUTES <= windowEnd; start += SLOT_INTERVAL_MINUTES {
			if overlapsAny(start, start+durationMinutes, booked) {
				continue
			}
			if sameDay && start <= nowMinutes {
				continue
			}

			result.Slots = append(result.Slots, Slot{
				StartTime: minutesToClock(start),
				EndTime:   minutesToClock(start + SLOT_INTERVAL_MINUTES),
			})
		}
	}

	result.TotalSlots = len(result.Slots)
	if result.TotalSlots == 0 {
		result.Message = fmt.Sprintf("No open slots on %v", result.Date)
	}

	return result, nil
}

// HasConflict reports whether a proposed booking overlaps an existing
// confirmed or pending one.
func HasConflict(counselorID uint, date, startTime string, durationMinutes int) (bool, error) {
	start, err := parseMinutes(startTime)
	if err != nil {
		return false, err
	}

	appointments, err := models.ActiveAppointmentsForDay(counselorID, date)
	if err != nil {
		return false, err
	}

	for _, appointment := range appointments {
		bookedStart, err := parseMinutes(appointment.StartTime)
		if err != nil {
			continue
		}
		if overlaps(start, start+durationMinutes, bookedStart, bookedStart+appointment.DurationMinutes) {
			return true, nil
		}
	}

	return false, nil
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

// availabilityWindows resolves the counselor's recurring availability for
// a weekday. Two legacy shapes coexist; the per-day slot list wins over
// the single-window schedule record when both exist.
func availabilityWindows(counselorID uint, dayName string) ([]models.SlotWindow, error) {
	day, err := models.AvailabilityForDay(counselorID, dayName)
	if err == nil {
		return day.SlotWindows()
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	window, err := models.ScheduleWindowForDay(counselorID, dayName)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !window.IsAvailable {
		return nil, nil
	}

	return []models.SlotWindow{{StartTime: window.StartTime, EndTime: window.EndTime}}, nil
}

func overlapsAny(start, end int, booked [][2]int) bool {
	for _, interval := range booked {
		if overlaps(start, end, interval[0], interval[1]) {
			return true
		}
	}
	return false
}

// Half-open interval test: [start, end) vs [bookedStart, bookedEnd)
func overlaps(start, end, bookedStart, bookedEnd int) bool {
	return start < bookedEnd && end > bookedStart
}

func parseMinutes(clock string) (int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, fmt.Errorf("parseMinutes: %v", err)
	}

	return t.Hour()*60 + t.Minute(), nil
}

func minutesToClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
