package sos

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/havenapp/haven/colors"
	"github.com/havenapp/haven/server/logger"
	"github.com/havenapp/haven/server/models"
	"github.com/havenapp/haven/utils"
	"gorm.io/gorm"
)

const MAX_GUEST_CONTACTS = 10

var (
	ErrNoEligibleContacts = errors.New("no active emergency contacts with consent given")
	ErrNoFailedDeliveries = errors.New("no failed deliveries to retry")
	ErrAlertNotFound      = errors.New("SOS alert not found")
	ErrDispatchInProgress = errors.New("a dispatch for this alert is already in progress")
)

var logg = logger.NewLogger()

// SMSGateway delivers one text message & reports the provider message sid.
type SMSGateway interface {
	SendSMS(to, body string) (string, error)
}

// ValidationError marks input the caller must fix before any state is created.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// MissingPhoneNumbersError rejects alert creation wholesale when any
// eligible contact has no phone number on record - a half-configured
// contact list is a data-quality defect the user must fix, not
// something to partially dispatch around.
type MissingPhoneNumbersError struct {
	ContactNames []string
}

func (e *MissingPhoneNumbersError) Error() string {
	return fmt.Sprintf("emergency contact(s) missing phone numbers: %v", strings.Join(e.ContactNames, ", "))
}

type Location struct {
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

type AlertPayload struct {
	Location      *Location              `json:"location,omitempty"`
	CustomNote    string                 `json:"custom_note,omitempty"`
	WasOffline    bool                   `json:"was_offline,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	GuestContacts []models.GuestContact  `json:"guest_contacts,omitempty"`
}

// Engine orchestrates SOS alert creation & SMS dispatch. The gateway is
// injected so tests can swap in a fake instead of the twilio client.
type Engine struct {
	gateway SMSGateway
}

func NewEngine(gateway SMSGateway) *Engine {
	return &Engine{gateway: gateway}
}

// CreateAlert creates & synchronously dispatches an alert for an
// authenticated user, with one delivery record per eligible contact.
func (engine *Engine) CreateAlert(userID uint, payload AlertPayload) (*models.SOSAlert, error) {
	if err := validatePayload(&payload); err != nil {
		return nil, err
	}

	contacts, err := models.EligibleContacts(userID)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, ErrNoEligibleContacts
	}

	missing := []string{}
	for _, contact := range contacts {
		if !contact.HasPhoneNumber() {
			missing = append(missing, contact.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingPhoneNumbersError{ContactNames: missing}
	}

	alert, err := newAlertFromPayload(&payload)
	if err != nil {
		return nil, err
	}
	alert.UserID = &userID

	records := make([]models.DeliveryRecord, 0, len(contacts))
	for _, contact := range contacts {
		records = append(records, models.DeliveryRecord{
			ContactID:    contact.ID,
			GuestIndex:   -1,
			Name:         contact.Name,
			Relationship: contact.Relationship,
			PhoneNumber:  contact.PhoneNumber,
			Status:       models.DELIVERY_PENDING,
			Channel:      models.SMS_CHANNEL,
		})
	}
	if err := alert.SetDeliveryRecords(records); err != nil {
		return nil, err
	}

	if err := models.CreateSOSAlert(alert); err != nil {
		return nil, err
	}

	if err := engine.dispatch(alert); err != nil {
		return nil, err
	}

	return alert, nil
}

// CreateGuestAlert creates & dispatches an alert for an unauthenticated
// session, with contacts supplied inline. Every contact is validated
// eagerly - one bad entry fails the whole call before anything is written.
func (engine *Engine) CreateGuestAlert(guestSessionID string, payload AlertPayload) (*models.SOSAlert, error) {
	if strings.TrimSpace(guestSessionID) == "" {
		return nil, &ValidationError{Msg: "a guest session id is required"}
	}

	if err := validatePayload(&payload); err != nil {
		return nil, err
	}

	if len(payload.GuestContacts) == 0 {
		return nil, &ValidationError{Msg: "at least one guest contact is required"}
	}
	if len(payload.GuestContacts) > MAX_GUEST_CONTACTS {
		return nil, &ValidationError{Msg: fmt.Sprintf("at most %v guest contacts are allowed", MAX_GUEST_CONTACTS)}
	}

	for i := range payload.GuestContacts {
		contact := &payload.GuestContacts[i]
		if strings.TrimSpace(contact.Name) == "" {
			return nil, &ValidationError{Msg: fmt.Sprintf("guest contact %v is missing a name", i+1)}
		}
		if !utils.IsValidE164(contact.PhoneNumber) {
			return nil, &ValidationError{
				Msg: fmt.Sprintf("guest contact %q has an invalid phone number %q, expected E.164 e.g +250788123456",
					contact.Name, contact.PhoneNumber),
			}
		}
		if contact.Relationship == "" {
			contact.Relationship = models.OTHER_RELATIONSHIP
		}
	}

	alert, err := newAlertFromPayload(&payload)
	if err != nil {
		return nil, err
	}
	alert.GuestSessionID = guestSessionID

	if err := alert.SetGuestContactList(payload.GuestContacts); err != nil {
		return nil, err
	}

	records := make([]models.DeliveryRecord, 0, len(payload.GuestContacts))
	for i, contact := range payload.GuestContacts {
		records = append(records, models.DeliveryRecord{
			GuestIndex:   i,
			Name:         contact.Name,
			Relationship: contact.Relationship,
			PhoneNumber:  contact.PhoneNumber,
			Status:       models.DELIVERY_PENDING,
			Channel:      models.SMS_CHANNEL,
		})
	}
	if err := alert.SetDeliveryRecords(records); err != nil {
		return nil, err
	}

	if err := models.CreateSOSAlert(alert); err != nil {
		return nil, err
	}

	if err := engine.dispatch(alert); err != nil {
		return nil, err
	}

	return alert, nil
}

// RetryFailed re-runs dispatch for an alert's failed deliveries. Records
// already 'sent' are never re-notified.
func (engine *Engine) RetryFailed(alertID interface{}, userID uint, guestSessionID string) (*models.SOSAlert, error) {
	alert, err := findOwnedAlert(alertID, userID, guestSessionID)
	if err != nil {
		return nil, err
	}

	records, err := alert.DeliveryRecords()
	if err != nil {
		return nil, err
	}

	failedCount := 0
	for _, record := range records {
		if record.Status == models.DELIVERY_FAILED {
			failedCount++
		}
	}
	if failedCount == 0 {
		return nil, ErrNoFailedDeliveries
	}

	if err := engine.dispatch(alert); err != nil {
		return nil, err
	}

	return alert, nil
}

// Cancel flips an alert to 'cancelled'. A no-op when the alert has
// already been cancelled or resolved. In-flight sends are not interrupted.
func (engine *Engine) Cancel(alertID interface{}, userID uint, guestSessionID string) (*models.SOSAlert, error) {
	return engine.close(alertID, userID, guestSessionID, models.CANCELLED_SOS)
}

// Resolve marks an alert 'resolved', symmetric with Cancel.
func (engine *Engine) Resolve(alertID interface{}, userID uint, guestSessionID string) (*models.SOSAlert, error) {
	return engine.close(alertID, userID, guestSessionID, models.RESOLVED_SOS)
}

func (engine *Engine) close(alertID interface{}, userID uint, guestSessionID, statusName string) (*models.SOSAlert, error) {
	alert, err := findOwnedAlert(alertID, userID, guestSessionID)
	if err != nil {
		return nil, err
	}

	currentStatus := alert.StatusName()
	if currentStatus == models.CANCELLED_SOS || currentStatus == models.RESOLVED_SOS {
		return alert, nil
	}

	if err := alert.SetStatus(statusName); err != nil {
		return nil, err
	}

	now := time.Now()
	switch statusName {
	case models.CANCELLED_SOS:
		alert.CancelledAt = &now
	case models.RESOLVED_SOS:
		alert.ResolvedAt = &now
	}

	if err := alert.Save(); err != nil {
		return nil, err
	}

	return alert, nil
}

// History lists a user's alerts newest first, optionally filtered by status.
func (engine *Engine) History(userID uint, limit, skip int, statusName string) ([]models.SOSAlert, int64, error) {
	if statusName != "" && !models.SOSStatusNameMap[statusName] {
		return nil, 0, &ValidationError{Msg: fmt.Sprintf("unknown status %q", statusName)}
	}

	return models.SOSAlertHistory(userID, limit, skip, statusName)
}

// RetrySweep re-dispatches alerts that ended up 'failed' in the last
// 'windowMinutes'. Safe to run on a schedule - dispatch skips records
// that have already been delivered & alerts another run has claimed.
func (engine *Engine) RetrySweep(windowMinutes uint) error {
	alerts, err := models.FailedSOSAlertsUpdatedSince(windowMinutes)
	if err != nil {
		return fmt.Errorf("RetrySweep: %v", err)
	}

	retried := 0
	for i := range alerts {
		err := engine.dispatch(&alerts[i])
		if errors.Is(err, ErrDispatchInProgress) {
			continue
		}
		if err != nil {
			logg.Errorf("RetrySweep: alert=%v %v", alerts[i].ID, err)
			continue
		}
		retried++
	}

	logg.Infof(colors.Blue("%v failed alert(s) found, %v re-dispatched"), len(alerts), retried)
	return nil
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

// dispatch attempts SMS delivery for every record not already 'sent',
// records each outcome on the ledger & recomputes the aggregate status.
// Per-contact failures never abort the batch; the updated alert is
// persisted once at the end.
func (engine *Engine) dispatch(alert *models.SOSAlert) error {
	claimed, err := alert.MarkAsDispatching()
	if err != nil {
		return err
	}
	if !claimed {
		return ErrDispatchInProgress
	}

	defer func() {
		if err := alert.ClearDispatching(); err != nil {
			logg.Errorf("dispatch: alert=%v failed to release claim: %v", alert.ID, err)
		}
	}()

	records, err := alert.DeliveryRecords()
	if err != nil {
		return err
	}

	senderName := "Someone"
	var contactsByID map[uint]models.EmergencyContact
	var guestContacts []models.GuestContact

	if alert.IsGuest() {
		guestContacts, err = alert.GuestContactList()
		if err != nil {
			return err
		}
	} else {
		user, err := models.FindUserBy("id", *alert.UserID)
		if err != nil {
			return err
		}
		senderName = user.DisplayName()

		contactIDs := []uint{}
		for _, record := range records {
			if record.Status != models.DELIVERY_SENT && record.ContactID != 0 {
				contactIDs = append(contactIDs, record.ContactID)
			}
		}
		if len(contactIDs) > 0 {
			contactsByID, err = models.ContactsByIDs(*alert.UserID, contactIDs)
			if err != nil {
				return err
			}
		}
	}

	for i := range records {
		record := &records[i]
		if record.Status == models.DELIVERY_SENT {
			continue
		}

		// Phone numbers are re-read at dispatch time, so a contact who
		// fixed their number since creation still gets the retry.
		phoneNumber := record.PhoneNumber
		if alert.IsGuest() {
			if record.GuestIndex >= 0 && record.GuestIndex < len(guestContacts) {
				phoneNumber = guestContacts[record.GuestIndex].PhoneNumber
			}
		} else if contact, ok := contactsByID[record.ContactID]; ok {
			phoneNumber = contact.PhoneNumber
		}

		now := time.Now()
		record.LastAttemptAt = &now

		if phoneNumber == "" {
			markRecordFailed(record, "Missing phone number")
			logg.Errorf("dispatch: alert=%v contact=%v missing phone number", alert.ID, record.Name)
			continue
		}

		body := buildAlertMessage(record.Name, senderName, alert)
		messageSid, err := engine.gateway.SendSMS(phoneNumber, body)
		if err != nil {
			markRecordFailed(record, err.Error())
			logg.Errorf("dispatch: alert=%v contact=%v %v", alert.ID, record.Name, err)
			continue
		}

		record.Status = models.DELIVERY_SENT
		record.MessageSid = messageSid
		record.LastError = ""
		record.Attempts = append(record.Attempts, models.DeliveryAttempt{
			At:      now,
			Outcome: models.DELIVERY_SENT,
			Detail:  messageSid,
		})
	}

	if err := alert.SetDeliveryRecords(records); err != nil {
		return err
	}

	if err := alert.SetStatus(models.RecalcAlertStatus(records)); err != nil {
		return err
	}

	return alert.Save()
}

func markRecordFailed(record *models.DeliveryRecord, errMsg string) {
	record.Status = models.DELIVERY_FAILED
	record.LastError = errMsg
	record.Attempts = append(record.Attempts, models.DeliveryAttempt{
		At:      time.Now(),
		Outcome: models.DELIVERY_FAILED,
		Detail:  errMsg,
	})
}

func newAlertFromPayload(payload *AlertPayload) (*models.SOSAlert, error) {
	alert := &models.SOSAlert{
		Reference:  uuid.NewString(),
		CustomNote: payload.CustomNote,
		WasOffline: payload.WasOffline,
	}

	if payload.Location != nil {
		alert.LocationAddress = payload.Location.Address
	}

	if err := alert.SetMetadataMap(payload.Metadata); err != nil {
		return nil, err
	}

	return alert, nil
}

func validatePayload(payload *AlertPayload) error {
	if len(payload.CustomNote) > models.MAX_CUSTOM_NOTE_LENGTH {
		return &ValidationError{
			Msg: fmt.Sprintf("custom note cannot be longer than %v characters", models.MAX_CUSTOM_NOTE_LENGTH),
		}
	}

	// A location without an address is useless in a text message, so bare
	// coordinates are rejected rather than silently dropped.
	if payload.Location != nil && strings.TrimSpace(payload.Location.Address) == "" {
		return &ValidationError{Msg: "location must include an address"}
	}

	return nil
}

func findOwnedAlert(alertID interface{}, userID uint, guestSessionID string) (*models.SOSAlert, error) {
	alert, err := models.FindOwnedSOSAlert(alertID, userID, guestSessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}

	return alert, nil
}
