package models

import "encoding/json"

// Counselor recurring weekly availability exists in two legacy shapes,
// resolved in this priority order:
//  1. AvailabilityDay - one row per weekday holding a JSON list of windows
//  2. ScheduleWindow  - one row per weekday with a single start/end window
type AvailabilityDay struct {
	BaseModel
	UserID uint   `json:"user_id" gorm:"not null;uniqueIndex:idx_availability_user_day"`
	Day    string `json:"day" validate:"required" gorm:"uniqueIndex:idx_availability_user_day"`
	Slots  string `json:"-"`
}

type SlotWindow struct {
	StartTime string `json:"start_time" validate:"required,time_stamp"`
	EndTime   string `json:"end_time" validate:"required,time_stamp"`
}

type ScheduleWindow struct {
	BaseModel
	UserID      uint   `json:"user_id" gorm:"not null"`
	DayOfWeek   string `json:"day_of_week" validate:"required"`
	IsAvailable bool   `json:"is_available" gorm:"default:true"`
	StartTime   string `json:"start_time" validate:"required,time_stamp"`
	EndTime     string `json:"end_time" validate:"required,time_stamp"`
}

func (day *AvailabilityDay) SlotWindows() ([]SlotWindow, error) {
	windows := []SlotWindow{}
	if day.Slots == "" {
		return windows, nil
	}

	err := json.Unmarshal([]byte(day.Slots), &windows)
	if err != nil {
		return nil, err
	}

	return windows, nil
}

func (day *AvailabilityDay) SetSlotWindows(windows []SlotWindow) error {
	windowsAsJson, err := json.Marshal(windows)
	if err != nil {
		return err
	}

	day.Slots = string(windowsAsJson)
	return nil
}

func CreateAvailabilityDay(day *AvailabilityDay) error {
	return db.Create(day).Error
}

func CreateScheduleWindow(window *ScheduleWindow) error {
	return db.Create(window).Error
}

func AvailabilityForDay(userID interface{}, dayName string) (*AvailabilityDay, error) {
	day := AvailabilityDay{}
	err := db.First(&day, "user_id = ? AND day = ?", userID, dayName).Error
	if err != nil {
		return nil, err
	}

	return &day, nil
}

func ScheduleWindowForDay(userID interface{}, dayName string) (*ScheduleWindow, error) {
	window := ScheduleWindow{}
	err := db.First(&window, "user_id = ? AND day_of_week = ?", userID, dayName).Error
	if err != nil {
		return nil, err
	}

	return &window, nil
}
