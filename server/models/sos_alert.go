package models

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	DELIVERY_PENDING = "pending"
	DELIVERY_SENT    = "sent"
	DELIVERY_FAILED  = "failed"

	SMS_CHANNEL = "sms"

	MAX_CUSTOM_NOTE_LENGTH = 500
)

var (
	ErrAlertOwnership    = errors.New("exactly one of user id or guest session id must be set")
	ErrNoDeliveryTargets = errors.New("an alert needs at least one delivery target")
)

// GuestContact is supplied inline on unauthenticated triggers & only
// ever lives embedded in the owning alert.
type GuestContact struct {
	Name         string `json:"name"`
	PhoneNumber  string `json:"phone_number"`
	Relationship string `json:"relationship,omitempty"`
}

type DeliveryAttempt struct {
	At      time.Time `json:"at"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
}

// DeliveryRecord is the per-contact delivery ledger entry. Name,
// relationship & phone number are snapshots taken at dispatch time,
// so later edits to the contact don't rewrite alert history.
type DeliveryRecord struct {
	ContactID     uint              `json:"contact_id,omitempty"`
	GuestIndex    int               `json:"guest_index"`
	Name          string            `json:"name"`
	Relationship  string            `json:"relationship,omitempty"`
	PhoneNumber   string            `json:"phone_number"`
	Status        string            `json:"status"`
	Channel       string            `json:"channel"`
	LastAttemptAt *time.Time        `json:"last_attempt_at,omitempty"`
	LastError     string            `json:"last_error,omitempty"`
	MessageSid    string            `json:"message_sid,omitempty"`
	Attempts      []DeliveryAttempt `json:"attempts,omitempty"`
}

// SOSAlert is one emergency trigger event. Owned by either a user or a
// guest session - never both, never neither. The delivery ledger &
// guest contacts are stored as JSON text columns.
type SOSAlert struct {
	BaseModel
	Reference       string     `json:"reference" gorm:"not null;unique"`
	UserID          *uint      `json:"user_id,omitempty"`
	GuestSessionID  string     `json:"guest_session_id,omitempty"`
	SOSStatusID     uint       `json:"sos_status_id"`
	SOSStatus       *SOSStatus `json:"status,omitempty"`
	LocationAddress string     `json:"location_address,omitempty"`
	CustomNote      string     `json:"custom_note,omitempty"`
	WasOffline      bool       `json:"was_offline" gorm:"default:false"`
	Metadata        string     `json:"-"`
	GuestContacts   string     `json:"-"`
	Deliveries      string     `json:"-"`
	Dispatching     bool       `json:"-" gorm:"default:false"`
	TriggeredAt     time.Time  `json:"triggered_at"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

func (alert *SOSAlert) IsGuest() bool {
	return alert.GuestSessionID != ""
}

func (alert *SOSAlert) DeliveryRecords() ([]DeliveryRecord, error) {
	records := []DeliveryRecord{}
	if alert.Deliveries == "" {
		return records, nil
	}

	err := json.Unmarshal([]byte(alert.Deliveries), &records)
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (alert *SOSAlert) SetDeliveryRecords(records []DeliveryRecord) error {
	recordsAsJson, err := json.Marshal(records)
	if err != nil {
		return err
	}

	alert.Deliveries = string(recordsAsJson)
	return nil
}

func (alert *SOSAlert) GuestContactList() ([]GuestContact, error) {
	contacts := []GuestContact{}
	if alert.GuestContacts == "" {
		return contacts, nil
	}

	err := json.Unmarshal([]byte(alert.GuestContacts), &contacts)
	if err != nil {
		return nil, err
	}

	return contacts, nil
}

func (alert *SOSAlert) SetGuestContactList(contacts []GuestContact) error {
	contactsAsJson, err := json.Marshal(contacts)
	if err != nil {
		return err
	}

	alert.GuestContacts = string(contactsAsJson)
	return nil
}

func (alert *SOSAlert) MetadataMap() map[string]interface{} {
	metadata := map[string]interface{}{}
	if alert.Metadata == "" {
		return metadata
	}

	if err := json.Unmarshal([]byte(alert.Metadata), &metadata); err != nil {
		logg.Errorf("MetadataMap: alert=%v %v", alert.ID, err)
	}

	return metadata
}

func (alert *SOSAlert) SetMetadataMap(metadata map[string]interface{}) error {
	if len(metadata) == 0 {
		alert.Metadata = ""
		return nil
	}

	metadataAsJson, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	alert.Metadata = string(metadataAsJson)
	return nil
}

// MarkAsDispatching claims the alert for a dispatch run, so two
// concurrent retries can't interleave their ledger updates. Returns
// whether this caller won the claim.
func (alert *SOSAlert) MarkAsDispatching() (bool, error) {
	res := db.Model(&SOSAlert{}).Where("id = ? AND dispatching = ?", alert.ID, false).
		Update("dispatching", true)

	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

func (alert *SOSAlert) ClearDispatching() error {
	return db.Model(&SOSAlert{}).Where("id = ?", alert.ID).Update("dispatching", false).Error
}

func (alert *SOSAlert) Save() error {
	return db.Save(alert).Error
}

func (alert *SOSAlert) SetStatus(statusName string) error {
	sosStatus, err := FindSOSStatus(statusName)
	if err != nil {
		return err
	}

	alert.SOSStatusID = sosStatus.ID
	alert.SOSStatus = sosStatus
	return nil
}

func (alert *SOSAlert) StatusName() string {
	if alert.SOSStatus == nil {
		return ""
	}
	return alert.SOSStatus.Name
}

// RecalcAlertStatus derives the aggregate alert status from the
// per-contact ledger:
//   - every record failed            -> failed
//   - at least one record sent       -> sent (partial success counts)
//   - otherwise(nothing attempted)   -> pending
func RecalcAlertStatus(records []DeliveryRecord) string {
	if len(records) == 0 {
		return PENDING_SOS
	}

	failedCount := 0
	for _, record := range records {
		switch record.Status {
		case DELIVERY_SENT:
			return SENT_SOS
		case DELIVERY_FAILED:
			failedCount++
		}
	}

	if failedCount == len(records) {
		return FAILED_SOS
	}

	return PENDING_SOS
}

// CreateSOSAlert persists a new alert after checking the aggregate
// invariants: exactly one owner reference & a non-empty delivery ledger.
func CreateSOSAlert(alert *SOSAlert) error {
	hasUser := alert.UserID != nil && *alert.UserID != 0
	if hasUser == alert.IsGuest() {
		return ErrAlertOwnership
	}

	records, err := alert.DeliveryRecords()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return ErrNoDeliveryTargets
	}

	if alert.TriggeredAt.IsZero() {
		alert.TriggeredAt = time.Now()
	}

	if alert.SOSStatusID == 0 {
		if err := alert.SetStatus(PENDING_SOS); err != nil {
			return err
		}
	}

	return db.Create(alert).Error
}

func FindSOSAlert(id interface{}) (*SOSAlert, error) {
	alert := SOSAlert{}
	err := db.Preload("SOSStatus").First(&alert, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &alert, nil
}

// FindOwnedSOSAlert scopes the lookup to the owning user or guest
// session, so callers can never touch someone else's alert.
func FindOwnedSOSAlert(id interface{}, userID uint, guestSessionID string) (*SOSAlert, error) {
	alert := SOSAlert{}

	query := db.Preload("SOSStatus")
	if guestSessionID != "" {
		query = query.Where("guest_session_id = ?", guestSessionID)
	} else {
		query = query.Where("user_id = ?", userID)
	}

	err := query.First(&alert, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &alert, nil
}

// SOSAlertHistory lists a user's alerts newest first. limit is clamped
// to [1, MAX_PAGE_SIZE] & skip is floored at 0.
func SOSAlertHistory(userID uint, limit, skip int, statusName string) ([]SOSAlert, int64, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > MAX_PAGE_SIZE {
		limit = MAX_PAGE_SIZE
	}
	if skip < 0 {
		skip = 0
	}

	var total int64
	alerts := []SOSAlert{}

	query := db.Model(&SOSAlert{}).Where("user_id = ?", userID)
	if statusName != "" {
		query = query.Joins(
			"INNER JOIN sos_statuses ON sos_statuses.id = sos_alerts.sos_status_id AND sos_statuses.name = ?", statusName)
	}

	err := query.Count(&total).Error
	if err != nil && !isRecordNotFound(err) {
		return nil, 0, err
	}

	err = query.Preload("SOSStatus").Order("sos_alerts.triggered_at desc").
		Offset(skip).Limit(limit).Find(&alerts).Error
	if err != nil && !isRecordNotFound(err) {
		return nil, 0, err
	}

	return alerts, total, nil
}

// FailedSOSAlertsUpdatedSince feeds the periodic retry sweep with
// alerts that ended up 'failed' within the last 'minutesAgo' minutes.
func FailedSOSAlertsUpdatedSince(minutesAgo uint) ([]SOSAlert, error) {
	failedStatus, err := FindSOSStatus(FAILED_SOS)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-time.Duration(minutesAgo) * time.Minute)

	alerts := []SOSAlert{}
	err = db.Preload("SOSStatus").
		Where("sos_status_id = ? AND updated_at >= ?", failedStatus.ID, cutoff).
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}

	return alerts, nil
}
