package models

import (
	"fmt"
	"strings"

	"github.com/havenapp/haven/server/auth"
)

var (
	allFieldsExceptPassword = []string{"id",
		"first_name",
		"last_name",
		"phone_number",
		"email",
		"role_id",
		"created_at",
		"updated_at",
	}

	updatableFields = []string{"first_name",
		"last_name",
		"phone_number",
		"password",
	}
)

type User struct {
	BaseModel
	FirstName         string             `json:"first_name" validate:"required"`
	LastName          string             `json:"last_name" validate:"required"`
	PhoneNumber       string             `json:"phone_number" validate:"required,e164" gorm:"not null;unique"`
	Email             string             `json:"email" validate:"required,email" gorm:"not null;unique"`
	Password          string             `json:"password,omitempty" validate:"required,password" gorm:"not null"`
	RoleID            uint               `json:"role_id" gorm:"null"`
	EmergencyContacts []EmergencyContact `json:"emergency_contacts,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	SOSAlerts         []SOSAlert         `json:"sos_alerts,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	AvailabilityDays  []AvailabilityDay  `json:"availability_days,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

// DisplayName is the name shown to a user's emergency contacts in
// alert messages: full name, else email, else "Someone".
func (user *User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))
	if name != "" {
		return name
	}

	if user.Email != "" {
		return user.Email
	}

	return "Someone"
}

func (user *User) Update(data map[string]interface{}) error {
	if data["password"] != nil {
		passwordHash, err := auth.HashPassword(data["password"].(string))
		if err != nil {
			return err
		}
		data["password"] = passwordHash
	}

	return db.Model(&User{}).Where("id = ?", user.ID).Select(updatableFields).Updates(data).Error
}

func (user *User) IsAdmin() (bool, error) {
	return user.hasRole(ADMIN_ROLE)
}

func (user *User) IsCounselor() (bool, error) {
	return user.hasRole(COUNSELOR_ROLE)
}

func (user *User) hasRole(roleName string) (bool, error) {
	if user.RoleID == 0 {
		return false, nil
	}

	role, err := FindRole(roleName)
	if err != nil {
		return false, err
	}

	return role.ID == user.RoleID, nil
}

func (user *User) AddContact(contact *EmergencyContact) error {
	contact.UserID = user.ID
	return db.Create(contact).Error
}

func (user *User) LoadContacts() error {
	return db.Limit(500).Find(&user.EmergencyContacts, "user_id = ?", user.ID).Error
}

func (user *User) UpdateContact(contactID string, data map[string]interface{}) error {
	return db.Table("emergency_contacts").Where("id = ? AND user_id = ?", contactID, user.ID).Updates(data).Error
}

func (user *User) DeleteContact(id interface{}) error {
	return db.Where("user_id = ?", user.ID).Delete(&EmergencyContact{}, id).Error
}

func FindUserBy(field string, value interface{}) (*User, error) {
	user := User{}
	err := db.Select(allFieldsExceptPassword).First(&user, fmt.Sprintf("%v = ?", field), value).Error
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func FindUserPassword(email string) (string, error) {
	user := &User{}
	err := db.Select("Password").First(user, "email = ?", email).Error

	if err != nil {
		return "", err
	}
	return user.Password, nil
}

func CreateUser(user *User) error {
	passwordHash, err := auth.HashPassword(user.Password)
	if err != nil {
		return err
	}
	user.Password = passwordHash

	return db.Create(user).Error
}

func DeleteUser(id interface{}) error {
	return db.Delete(&User{}, id).Error
}

func AtLeastOneUserExists() (bool, error) {
	err := db.First(&User{}).Error
	if isRecordNotFound(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}
