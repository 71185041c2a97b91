package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEligibleContacts(t *testing.T) {
	InitializeTestDb()

	user := &User{
		FirstName:   "harvey",
		LastName:    "specter",
		Email:       "harvey@specter-litt.com",
		Password:    "very-secure",
		PhoneNumber: "+12345678900",
	}
	err := CreateUser(user)
	assert.Nil(t, err)

	contacts := []EmergencyContact{
		{Name: "donna", Email: "donna@specter-litt.com", PhoneNumber: "+22345678900",
			Relationship: COLLEAGUE_RELATIONSHIP, IsActive: true, ConsentGiven: true, Priority: 5},
		{Name: "mike", Email: "mike@specter-litt.com", PhoneNumber: "+32345678900",
			Relationship: FRIEND_RELATIONSHIP, IsActive: true, ConsentGiven: true, Priority: 9},
		{Name: "louis", Email: "louis@specter-litt.com", PhoneNumber: "+42345678900",
			Relationship: COLLEAGUE_RELATIONSHIP, IsActive: true, ConsentGiven: false},
		{Name: "jessica", Email: "jessica@specter-litt.com",
			Relationship: COLLEAGUE_RELATIONSHIP, IsActive: true, ConsentGiven: true, Priority: 2},
	}
	for i := range contacts {
		err = user.AddContact(&contacts[i])
		assert.Nil(t, err)
	}

	eligible, err := EligibleContacts(user.ID)
	assert.Nil(t, err)

	// no consent excludes louis; jessica stays in even without a phone
	// number - missing numbers are surfaced to the caller, not filtered
	names := []string{}
	for _, contact := range eligible {
		names = append(names, contact.Name)
	}
	assert.Equal(t, []string{"mike", "donna", "jessica"}, names, "Should be ordered by priority, highest first")
}
