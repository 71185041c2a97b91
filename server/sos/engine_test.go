package sos

import (
	"fmt"
	"testing"

	"github.com/havenapp/haven/server/models"
	"github.com/stretchr/testify/assert"
)

type fakeGateway struct {
	sends       map[string]int
	failNumbers map[string]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sends: map[string]int{}, failNumbers: map[string]bool{}}
}

func (gateway *fakeGateway) SendSMS(to, body string) (string, error) {
	gateway.sends[to]++
	if gateway.failNumbers[to] {
		return "", fmt.Errorf("twilio: number unreachable")
	}
	return fmt.Sprintf("SM-%v-%v", to, gateway.sends[to]), nil
}

func createTestUser(t *testing.T, email, phoneNumber string) *models.User {
	user := &models.User{
		FirstName:   "tony",
		LastName:    "stark",
		Email:       email,
		Password:    "very-secure",
		PhoneNumber: phoneNumber,
	}

	err := models.CreateUser(user)
	assert.Nil(t, err, "Should create user record")

	return user
}

func addConsentedContact(t *testing.T, user *models.User, name, email, phoneNumber string) *models.EmergencyContact {
	contact := &models.EmergencyContact{
		Name:         name,
		Relationship: models.FRIEND_RELATIONSHIP,
		PhoneNumber:  phoneNumber,
		Email:        email,
		IsActive:     true,
		ConsentGiven: true,
	}

	err := user.AddContact(contact)
	assert.Nil(t, err, "Should create contact record")

	return contact
}

func TestCreateAlertWithNoEligibleContacts(t *testing.T) {
	models.InitializeTestDb()

	engine := NewEngine(newFakeGateway())
	user := createTestUser(t, "stark@avengers.com", "+12345678900")

	// contact exists but has not consented, so no one can be alerted
	contact := &models.EmergencyContact{
		Name:         "pepper",
		Relationship: models.PARTNER_RELATIONSHIP,
		PhoneNumber:  "+22345678900",
		Email:        "pepper@avengers.com",
		IsActive:     true,
		ConsentGiven: false,
	}
	err := user.AddContact(contact)
	assert.Nil(t, err)

	_, err = engine.CreateAlert(user.ID, AlertPayload{})
	assert.ErrorIs(t, err, ErrNoEligibleContacts)
}

func TestCreateAlertRejectsContactsMissingPhoneNumbers(t *testing.T) {
	models.InitializeTestDb()

	engine := NewEngine(newFakeGateway())
	user := createTestUser(t, "stark@avengers.com", "+12345678900")

	addConsentedContact(t, user, "rhodey", "rhodey@avengers.com", "+22345678900")
	addConsentedContact(t, user, "happy", "happy@avengers.com", "")

	_, err := engine.CreateAlert(user.ID, AlertPayload{})

	var missingErr *MissingPhoneNumbersError
	assert.ErrorAs(t, err, &missingErr)
	assert.Contains(t, missingErr.ContactNames, "happy", "Should name the contact missing a number")

	// nothing should be persisted when creation is rejected
	_, total, err := models.SOSAlertHistory(user.ID, 10, 0, "")
	assert.Nil(t, err)
	assert.Equal(t, int64(0), total, "No alert record should be created")
}

func TestCreateAlertWithPartialDeliveryFailure(t *testing.T) {
	models.InitializeTestDb()

	gateway := newFakeGateway()
	gateway.failNumbers["+32345678900"] = true

	engine := NewEngine(gateway)
	user := createTestUser(t, "stark@avengers.com", "+12345678900")
	addConsentedContact(t, user, "rhodey", "rhodey@avengers.com", "+22345678900")
	addConsentedContact(t, user, "happy", "happy@avengers.com", "+32345678900")

	alert, err := engine.CreateAlert(user.ID, AlertPayload{
		Location:   &Location{Address: "12 KN 4 Ave, Kigali"},
		CustomNote: "please call me",
	})
	assert.Nil(t, err)

	// one delivery made it out, so the alert counts as sent
	assert.Equal(t, models.SENT_SOS, alert.StatusName())

	records, err := alert.DeliveryRecords()
	assert.Nil(t, err)
	assert.Len(t, records, 2)

	recordsByName := map[string]models.DeliveryRecord{}
	for _, record := range records {
		recordsByName[record.Name] = record
	}

	assert.Equal(t, models.DELIVERY_SENT, recordsByName["rhodey"].Status)
	assert.NotEmpty(t, recordsByName["rhodey"].MessageSid)

	assert.Equal(t, models.DELIVERY_FAILED, recordsByName["happy"].Status)
	assert.Contains(t, recordsByName["happy"].LastError, "unreachable")
}

func TestRetryFailedOnlyRetriesFailedDeliveries(t *testing.T) {
	models.InitializeTestDb()

	gateway := newFakeGateway()
	gateway.failNumbers["+32345678900"] = true

	engine := NewEngine(gateway)
	user := createTestUser(t, "stark@avengers.com", "+12345678900")
	addConsentedContact(t, user, "rhodey", "rhodey@avengers.com", "+22345678900")
	addConsentedContact(t, user, "happy", "happy@avengers.com", "+32345678900")

	alert, err := engine.CreateAlert(user.ID, AlertPayload{})
	assert.Nil(t, err)

	// the outage clears & the retry goes through
	gateway.failNumbers = map[string]bool{}

	alert, err = engine.RetryFailed(alert.ID, user.ID, "")
	assert.Nil(t, err)
	assert.Equal(t, models.SENT_SOS, alert.StatusName())

	records, err := alert.DeliveryRecords()
	assert.Nil(t, err)
	for _, record := range records {
		assert.Equal(t, models.DELIVERY_SENT, record.Status)
	}

	assert.Equal(t, 1, gateway.sends["+22345678900"], "Contact already notified should not be re-notified")
	assert.Equal(t, 2, gateway.sends["+32345678900"], "Failed delivery should be retried")
}

func TestRetryFailedWithNoFailedDeliveries(t *testing.T) {
	models.InitializeTestDb()

	engine := NewEngine(newFakeGateway())
	user := createTestUser(t, "stark@avengers.com", "+12345678900")
	addConsentedContact(t, user, "rhodey", "rhodey@avengers.com", "+22345678900")

	alert, err := engine.CreateAlert(user.ID, AlertPayload{})
	assert.Nil(t, err)

	_, err = engine.RetryFailed(alert.ID, user.ID, "")
	assert.ErrorIs(t, err, ErrNoFailedDeliveries)
}

func TestGuestAlertRejectsInvalidPhoneNumber(t *testing.T) {
	models.InitializeTestDb()

	engine := NewEngine(newFakeGateway())

	_, err := engine.CreateGuestAlert("session-abc123", AlertPayload{
		GuestContacts: []models.GuestContact{
			{Name: "aunt grace", PhoneNumber: "0712345678"},
		},
	})

	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Msg, "E.164")
	assert.Contains(t, validationErr.Msg, "aunt grace")
}

func TestGuestAlertDispatchesToInlineContacts(t *testing.T) {
	models.InitializeTestDb()

	gateway := newFakeGateway()
	engine := NewEngine(gateway)

	alert, err := engine.CreateGuestAlert("session-abc123", AlertPayload{
		GuestContacts: []models.GuestContact{
			{Name: "aunt grace", PhoneNumber: "+250788123456", Relationship: models.FAMILY_RELATIONSHIP},
		},
	})
	assert.Nil(t, err)
	assert.True(t, alert.IsGuest())
	assert.Equal(t, models.SENT_SOS, alert.StatusName())
	assert.Equal(t, 1, gateway.sends["+250788123456"])

	records, err := alert.DeliveryRecords()
	assert.Nil(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 0, records[0].GuestIndex)
}

func TestCancelAndResolveAreIdempotent(t *testing.T) {
	models.InitializeTestDb()

	engine := NewEngine(newFakeGateway())
	user := createTestUser(t, "stark@avengers.com", "+12345678900")
	addConsentedContact(t, user, "rhodey", "rhodey@avengers.com", "+22345678900")

	alert, err := engine.CreateAlert(user.ID, AlertPayload{})
	assert.Nil(t, err)

	alert, err = engine.Cancel(alert.ID, user.ID, "")
	assert.Nil(t, err)
	assert.Equal(t, models.CANCELLED_SOS, alert.StatusName())
	assert.NotNil(t, alert.CancelledAt)

	// a closed alert stays closed
	alert, err = engine.Resolve(alert.ID, user.ID, "")
	assert.Nil(t, err)
	assert.Equal(t, models.CANCELLED_SOS, alert.StatusName())
}

func TestAlertOwnershipIsEnforced(t *testing.T) {
	models.InitializeTestDb()

	engine := NewEngine(newFakeGateway())
	user := createTestUser(t, "stark@avengers.com", "+12345678900")
	addConsentedContact(t, user, "rhodey", "rhodey@avengers.com", "+22345678900")

	otherUser := createTestUser(t, "web@avengers.com", "+42345678900")

	alert, err := engine.CreateAlert(user.ID, AlertPayload{})
	assert.Nil(t, err)

	_, err = engine.Cancel(alert.ID, otherUser.ID, "")
	assert.ErrorIs(t, err, ErrAlertNotFound, "Another user's alert should read as not found")
}

func TestHistoryFiltersByStatus(t *testing.T) {
	models.InitializeTestDb()

	engine := NewEngine(newFakeGateway())
	user := createTestUser(t, "stark@avengers.com", "+12345678900")
	addConsentedContact(t, user, "rhodey", "rhodey@avengers.com", "+22345678900")

	first, err := engine.CreateAlert(user.ID, AlertPayload{})
	assert.Nil(t, err)

	_, err = engine.CreateAlert(user.ID, AlertPayload{})
	assert.Nil(t, err)

	_, err = engine.Cancel(first.ID, user.ID, "")
	assert.Nil(t, err)

	alerts, total, err := engine.History(user.ID, 10, 0, "")
	assert.Nil(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, alerts, 2)

	cancelled, total, err := engine.History(user.ID, 10, 0, models.CANCELLED_SOS)
	assert.Nil(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, cancelled, 1)

	_, _, err = engine.History(user.ID, 10, 0, "no-such-status")
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}
