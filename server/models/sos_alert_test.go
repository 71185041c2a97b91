package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestAlert(t *testing.T, userID *uint, guestSessionID string) *SOSAlert {
	alert := &SOSAlert{
		Reference:      "ref-" + time.Now().Format("150405.000000000"),
		UserID:         userID,
		GuestSessionID: guestSessionID,
	}

	err := alert.SetDeliveryRecords([]DeliveryRecord{
		{Name: "rachel", PhoneNumber: "+12345678900", Status: DELIVERY_PENDING, Channel: SMS_CHANNEL, GuestIndex: -1},
	})
	assert.Nil(t, err)

	return alert
}

func TestRecalcAlertStatus(t *testing.T) {
	testCases := []struct {
		name     string
		records  []DeliveryRecord
		expected string
	}{
		{
			name:     "empty ledger stays pending",
			records:  []DeliveryRecord{},
			expected: PENDING_SOS,
		},
		{
			name: "one sent outweighs failures",
			records: []DeliveryRecord{
				{Status: DELIVERY_FAILED}, {Status: DELIVERY_SENT}, {Status: DELIVERY_FAILED},
			},
			expected: SENT_SOS,
		},
		{
			name: "all failed",
			records: []DeliveryRecord{
				{Status: DELIVERY_FAILED}, {Status: DELIVERY_FAILED},
			},
			expected: FAILED_SOS,
		},
		{
			name: "nothing attempted yet",
			records: []DeliveryRecord{
				{Status: DELIVERY_PENDING}, {Status: DELIVERY_PENDING},
			},
			expected: PENDING_SOS,
		},
		{
			name: "mix of failed & pending is still pending",
			records: []DeliveryRecord{
				{Status: DELIVERY_FAILED}, {Status: DELIVERY_PENDING},
			},
			expected: PENDING_SOS,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, RecalcAlertStatus(tc.records))
		})
	}
}

func TestCreateSOSAlertOwnershipInvariant(t *testing.T) {
	InitializeTestDb()

	userID := uint(1)

	// neither owner reference
	err := CreateSOSAlert(newTestAlert(t, nil, ""))
	assert.ErrorIs(t, err, ErrAlertOwnership)

	// both owner references
	err = CreateSOSAlert(newTestAlert(t, &userID, "session-abc123"))
	assert.ErrorIs(t, err, ErrAlertOwnership)

	// exactly one is fine
	err = CreateSOSAlert(newTestAlert(t, &userID, ""))
	assert.Nil(t, err)

	err = CreateSOSAlert(newTestAlert(t, nil, "session-abc123"))
	assert.Nil(t, err)
}

func TestCreateSOSAlertRequiresDeliveryTargets(t *testing.T) {
	InitializeTestDb()

	userID := uint(1)
	alert := newTestAlert(t, &userID, "")
	err := alert.SetDeliveryRecords([]DeliveryRecord{})
	assert.Nil(t, err)

	err = CreateSOSAlert(alert)
	assert.ErrorIs(t, err, ErrNoDeliveryTargets)
}

func TestCreateSOSAlertDefaults(t *testing.T) {
	InitializeTestDb()

	userID := uint(1)
	alert := newTestAlert(t, &userID, "")

	err := CreateSOSAlert(alert)
	assert.Nil(t, err)
	assert.False(t, alert.TriggeredAt.IsZero(), "TriggeredAt should default to now")
	assert.Equal(t, PENDING_SOS, alert.StatusName(), "New alerts should start out pending")
}

func TestMarkAsDispatchingClaim(t *testing.T) {
	InitializeTestDb()

	userID := uint(1)
	alert := newTestAlert(t, &userID, "")
	err := CreateSOSAlert(alert)
	assert.Nil(t, err)

	claimed, err := alert.MarkAsDispatching()
	assert.Nil(t, err)
	assert.True(t, claimed, "First caller should win the claim")

	claimed, err = alert.MarkAsDispatching()
	assert.Nil(t, err)
	assert.False(t, claimed, "Second caller should lose the claim")

	err = alert.ClearDispatching()
	assert.Nil(t, err)

	claimed, err = alert.MarkAsDispatching()
	assert.Nil(t, err)
	assert.True(t, claimed, "Claim should be available again once released")
}

func TestFindOwnedSOSAlertScoping(t *testing.T) {
	InitializeTestDb()

	userID := uint(1)
	userAlert := newTestAlert(t, &userID, "")
	assert.Nil(t, CreateSOSAlert(userAlert))

	guestAlert := newTestAlert(t, nil, "session-abc123")
	assert.Nil(t, CreateSOSAlert(guestAlert))

	found, err := FindOwnedSOSAlert(userAlert.ID, userID, "")
	assert.Nil(t, err)
	assert.Equal(t, userAlert.ID, found.ID)

	// wrong user can't see it
	_, err = FindOwnedSOSAlert(userAlert.ID, userID+1, "")
	assert.NotNil(t, err)

	// a guest session only sees its own alerts
	found, err = FindOwnedSOSAlert(guestAlert.ID, 0, "session-abc123")
	assert.Nil(t, err)
	assert.Equal(t, guestAlert.ID, found.ID)

	_, err = FindOwnedSOSAlert(userAlert.ID, 0, "session-abc123")
	assert.NotNil(t, err)
}

func TestSOSAlertHistoryClampsLimitAndSkip(t *testing.T) {
	InitializeTestDb()

	userID := uint(1)
	for i := 0; i < 3; i++ {
		alert := newTestAlert(t, &userID, "")
		alert.TriggeredAt = time.Now().Add(-time.Duration(i) * time.Hour)
		assert.Nil(t, CreateSOSAlert(alert))
	}

	// limit below 1 is raised to 1, negative skip is floored at 0
	alerts, total, err := SOSAlertHistory(userID, 0, -5, "")
	assert.Nil(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, alerts, 1)

	alerts, _, err = SOSAlertHistory(userID, 10, 2, "")
	assert.Nil(t, err)
	assert.Len(t, alerts, 1)
}
