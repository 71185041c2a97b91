package models

import "time"

const (
	FAMILY_RELATIONSHIP    = "family"
	FRIEND_RELATIONSHIP    = "friend"
	PARTNER_RELATIONSHIP   = "partner"
	COLLEAGUE_RELATIONSHIP = "colleague"
	OTHER_RELATIONSHIP     = "other"

	UNVERIFIED_CONTACT = "unverified"
	VERIFIED_CONTACT   = "verified"
)

var RelationshipNameMap = map[string]bool{
	FAMILY_RELATIONSHIP:    true,
	FRIEND_RELATIONSHIP:    true,
	PARTNER_RELATIONSHIP:   true,
	COLLEAGUE_RELATIONSHIP: true,
	OTHER_RELATIONSHIP:     true,
}

// EmergencyContact is a person a user has consented to have alerted
// on their behalf. A contact is only ever texted when it is active,
// consent has been given & a phone number is on record.
type EmergencyContact struct {
	BaseModel
	UserID             uint       `json:"user_id" gorm:"not null;uniqueIndex:idx_owner_email"`
	Name               string     `json:"name" validate:"required"`
	Relationship       string     `json:"relationship" validate:"required,relationship" gorm:"default:other"`
	PhoneNumber        string     `json:"phone_number" validate:"omitempty,e164"`
	Email              string     `json:"email" validate:"required,email" gorm:"uniqueIndex:idx_owner_email"`
	Priority           int        `json:"priority" validate:"min=0,max=10" gorm:"default:0"`
	IsActive           bool       `json:"is_active" gorm:"default:true"`
	ConsentGiven       bool       `json:"consent_given" gorm:"default:false"`
	ConsentAt          *time.Time `json:"consent_at,omitempty"`
	VerificationStatus string     `json:"verification_status" gorm:"default:unverified"`
}

func (contact *EmergencyContact) HasPhoneNumber() bool {
	return contact.PhoneNumber != ""
}

// EligibleContacts returns a user's active & consented contacts, highest
// priority first. Whether each one has a phone number on record is for the
// caller to check - a missing number is a data-quality defect, not a filter.
func EligibleContacts(userID interface{}) ([]EmergencyContact, error) {
	contacts := []EmergencyContact{}

	err := db.Where("user_id = ? AND is_active = true AND consent_given = true", userID).
		Order("priority desc, id asc").Find(&contacts).Error
	if err != nil {
		return nil, err
	}

	return contacts, nil
}

// ContactsByIDs batch-fetches a user's contacts in a single query.
func ContactsByIDs(userID interface{}, ids []uint) (map[uint]EmergencyContact, error) {
	contacts := []EmergencyContact{}

	err := db.Where("user_id = ? AND id IN ?", userID, ids).Find(&contacts).Error
	if err != nil {
		return nil, err
	}

	contactsByID := make(map[uint]EmergencyContact, len(contacts))
	for _, contact := range contacts {
		contactsByID[contact.ID] = contact
	}

	return contactsByID, nil
}

func FindContact(userID, contactID interface{}) (*EmergencyContact, error) {
	contact := EmergencyContact{}

	err := db.Where("user_id = ?", userID).First(&contact, "id = ?", contactID).Error
	if err != nil {
		return nil, err
	}

	return &contact, nil
}
