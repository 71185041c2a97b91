package models

import "errors"

const (
	PENDING_APPOINTMENT   = "pending"
	CONFIRMED_APPOINTMENT = "confirmed"
	CANCELLED_APPOINTMENT = "cancelled"
	COMPLETED_APPOINTMENT = "completed"
)

var AppointmentStatusNameMap = map[string]bool{
	PENDING_APPOINTMENT:   true,
	CONFIRMED_APPOINTMENT: true,
	CANCELLED_APPOINTMENT: true,
	COMPLETED_APPOINTMENT: true,
}

var ErrAppointmentNotCancellable = errors.New("appointment is already cancelled or completed")

// Appointment is one booked counseling session. Date is "2006-01-02" &
// StartTime "15:04" in the counselor's timezone, which keeps the slot
// arithmetic in plain minutes-of-day.
type Appointment struct {
	BaseModel
	CounselorID     uint   `json:"counselor_id" validate:"required" gorm:"not null"`
	UserID          uint   `json:"user_id" gorm:"not null"`
	Date            string `json:"date" validate:"required" gorm:"not null"`
	StartTime       string `json:"start_time" validate:"required,time_stamp" gorm:"not null"`
	DurationMinutes int    `json:"duration_minutes" validate:"min=30,max=180" gorm:"not null"`
	Status          string `json:"status" gorm:"default:pending"`
	Notes           string `json:"notes,omitempty" validate:"max=1000"`
	CancelReason    string `json:"cancel_reason,omitempty"`
}

func (appointment *Appointment) Save() error {
	return db.Save(appointment).Error
}

func CreateAppointment(appointment *Appointment) error {
	if appointment.Status == "" {
		appointment.Status = PENDING_APPOINTMENT
	}
	return db.Create(appointment).Error
}

// ActiveAppointmentsForDay returns a counselor's confirmed & pending
// bookings on a date - the set that blocks out candidate slots.
func ActiveAppointmentsForDay(counselorID interface{}, date string) ([]Appointment, error) {
	appointments := []Appointment{}

	err := db.Where("counselor_id = ? AND date = ? AND status IN ?",
		counselorID, date, []string{CONFIRMED_APPOINTMENT, PENDING_APPOINTMENT}).
		Find(&appointments).Error
	if err != nil {
		return nil, err
	}

	return appointments, nil
}

func FindAppointmentForUser(id interface{}, userID uint) (*Appointment, error) {
	appointment := Appointment{}
	err := db.Where("user_id = ? OR counselor_id = ?", userID, userID).
		First(&appointment, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &appointment, nil
}

func AppointmentsForUser(userID uint, page int) ([]Appointment, *Paging, error) {
	var total int64
	appointments := []Appointment{}

	query := db.Model(&Appointment{}).Where("user_id = ? OR counselor_id = ?", userID, userID)

	err := query.Count(&total).Error
	if err != nil && !isRecordNotFound(err) {
		return nil, nil, err
	}

	err = query.Scopes(paginate(page, MAX_PAGE_SIZE)).
		Order("date desc, start_time desc").Find(&appointments).Error
	if err != nil && !isRecordNotFound(err) {
		return nil, nil, err
	}

	return appointments, newPaging(int64(page), MAX_PAGE_SIZE, total), nil
}
