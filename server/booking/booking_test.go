package booking

import (
	"testing"
	"time"

	"github.com/havenapp/haven/server/models"
	"github.com/stretchr/testify/assert"
)

// 2026-03-02 is a Monday
var testMonday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func createTestCounselor(t *testing.T) *models.User {
	counselor := &models.User{
		FirstName:   "donna",
		LastName:    "paulsen",
		Email:       "donna@specter-litt.com",
		Password:    "very-secure",
		PhoneNumber: "+12345678900",
	}

	err := models.CreateUser(counselor)
	assert.Nil(t, err, "Should create counselor record")

	return counselor
}

func addMondayMorningAvailability(t *testing.T, counselor *models.User) {
	day := &models.AvailabilityDay{UserID: counselor.ID, Day: "Monday"}
	err := day.SetSlotWindows([]models.SlotWindow{{StartTime: "09:00", EndTime: "12:00"}})
	assert.Nil(t, err)

	err = models.CreateAvailabilityDay(day)
	assert.Nil(t, err, "Should create availability record")
}

func TestAvailableSlotsOnOpenDay(t *testing.T) {
	models.InitializeTestDb()

	counselor := createTestCounselor(t)
	addMondayMorningAvailability(t, counselor)

	dayBefore := testMonday.AddDate(0, 0, -1)
	result, err := AvailableSlots(counselor.ID, testMonday, 60, dayBefore)
	assert.Nil(t, err)

	// 09:00-12:00 on a 30 minute grid
	assert.Equal(t, 6, result.TotalSlots)
	assert.Equal(t, Slot{StartTime: "09:00", EndTime: "09:30"}, result.Slots[0])
	assert.Equal(t, Slot{StartTime: "11:30", EndTime: "12:00"}, result.Slots[5])
	assert.Empty(t, result.Message)
}

func TestAvailableSlotsExcludesBookedTimes(t *testing.T) {
	models.InitializeTestDb()

	counselor := createTestCounselor(t)
	addMondayMorningAvailability(t, counselor)

	err := models.CreateAppointment(&models.Appointment{
		CounselorID:     counselor.ID,
		UserID:          counselor.ID + 1,
		Date:            testMonday.Format("2006-01-02"),
		StartTime:       "10:00",
		DurationMinutes: 60,
		Status:          models.CONFIRMED_APPOINTMENT,
	})
	assert.Nil(t, err)

	dayBefore := testMonday.AddDate(0, 0, -1)
	result, err := AvailableSlots(counselor.ID, testMonday, 30, dayBefore)
	assert.Nil(t, err)

	starts := []string{}
	for _, slot := range result.Slots {
		starts = append(starts, slot.StartTime)
	}

	// the 10:00-11:00 booking knocks out 10:00 & 10:30
	assert.Equal(t, []string{"09:00", "09:30", "11:00", "11:30"}, starts)
}

func TestAvailableSlotsDurationAffectsConflictsNotGrid(t *testing.T) {
	models.InitializeTestDb()

	counselor := createTestCounselor(t)
	addMondayMorningAvailability(t, counselor)

	err := models.CreateAppointment(&models.Appointment{
		CounselorID:     counselor.ID,
		UserID:          counselor.ID + 1,
		Date:            testMonday.Format("2006-01-02"),
		StartTime:       "10:00",
		DurationMinutes: 30,
		Status:          models.PENDING_APPOINTMENT,
	})
	assert.Nil(t, err)

	dayBefore := testMonday.AddDate(0, 0, -1)

	// with a 90 minute session, starts at 09:00 & 09:30 would run into
	// the 10:00 booking, yet the grid itself stays 30 minutes wide
	result, err := AvailableSlots(counselor.ID, testMonday, 90, dayBefore)
	assert.Nil(t, err)

	starts := []string{}
	for _, slot := range result.Slots {
		starts = append(starts, slot.StartTime)
		assert.Equal(t, 30, slotWidthMinutes(t, slot))
	}
	assert.Equal(t, []string{"10:30", "11:00", "11:30"}, starts)
}

func TestAvailableSlotsSameDayCutoff(t *testing.T) {
	models.InitializeTestDb()

	counselor := createTestCounselor(t)
	addMondayMorningAvailability(t, counselor)

	// at 10:45 on the day itself, slots at or before 10:45 are gone
	now := time.Date(2026, 3, 2, 10, 45, 0, 0, time.UTC)
	result, err := AvailableSlots(counselor.ID, testMonday, 30, now)
	assert.Nil(t, err)

	starts := []string{}
	for _, slot := range result.Slots {
		starts = append(starts, slot.StartTime)
	}
	assert.Equal(t, []string{"11:00", "11:30"}, starts)
}

func TestAvailableSlotsFallsBackToScheduleWindow(t *testing.T) {
	models.InitializeTestDb()

	counselor := createTestCounselor(t)

	err := models.CreateScheduleWindow(&models.ScheduleWindow{
		UserID:      counselor.ID,
		DayOfWeek:   "Monday",
		IsAvailable: true,
		StartTime:   "14:00",
		EndTime:     "15:00",
	})
	assert.Nil(t, err)

	dayBefore := testMonday.AddDate(0, 0, -1)
	result, err := AvailableSlots(counselor.ID, testMonday, 30, dayBefore)
	assert.Nil(t, err)
	assert.Equal(t, 2, result.TotalSlots)
	assert.Equal(t, "14:00", result.Slots[0].StartTime)
}

func TestAvailableSlotsOnUnavailableDay(t *testing.T) {
	models.InitializeTestDb()

	counselor := createTestCounselor(t)

	dayBefore := testMonday.AddDate(0, 0, -1)
	result, err := AvailableSlots(counselor.ID, testMonday, 60, dayBefore)
	assert.Nil(t, err)
	assert.Equal(t, 0, result.TotalSlots)
	assert.Equal(t, "Counselor is not available on Mondays", result.Message)
}

func TestAvailableSlotsRejectsBadDuration(t *testing.T) {
	models.InitializeTestDb()

	counselor := createTestCounselor(t)

	_, err := AvailableSlots(counselor.ID, testMonday, 15, testMonday)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = AvailableSlots(counselor.ID, testMonday, 240, testMonday)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestHasConflict(t *testing.T) {
	models.InitializeTestDb()

	counselor := createTestCounselor(t)
	date := testMonday.Format("2006-01-02")

	err := models.CreateAppointment(&models.Appointment{
		CounselorID:     counselor.ID,
		UserID:          counselor.ID + 1,
		Date:            date,
		StartTime:       "10:00",
		DurationMinutes: 60,
		Status:          models.CONFIRMED_APPOINTMENT,
	})
	assert.Nil(t, err)

	conflict, err := HasConflict(counselor.ID, date, "10:30", 60)
	assert.Nil(t, err)
	assert.True(t, conflict)

	// back-to-back is fine, intervals are half-open
	conflict, err = HasConflict(counselor.ID, date, "11:00", 60)
	assert.Nil(t, err)
	assert.False(t, conflict)

	// cancelled bookings don't block the slot
	err = models.CreateAppointment(&models.Appointment{
		CounselorID:     counselor.ID,
		UserID:          counselor.ID + 1,
		Date:            date,
		StartTime:       "13:00",
		DurationMinutes: 60,
		Status:          models.CANCELLED_APPOINTMENT,
	})
	assert.Nil(t, err)

	conflict, err = HasConflict(counselor.ID, date, "13:00", 60)
	assert.Nil(t, err)
	assert.False(t, conflict)
}

func slotWidthMinutes(t *testing.T, slot Slot) int {
	start, err := time.Parse("15:04", slot.StartTime)
	assert.Nil(t, err)
	end, err := time.Parse("15:04", slot.EndTime)
	assert.Nil(t, err)

	return int(end.Sub(start).Minutes())
}
