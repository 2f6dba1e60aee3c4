package models

import (
	"time"
)

type Role string

const (
	RoleUser     Role = "user"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// User is an account. A phone number may hold one account per role.
type User struct {
	ID              string    `json:"id" dynamodbav:"id"`
	PhoneNumber     string    `json:"phone_number" dynamodbav:"phone_number"`
	Role            Role      `json:"role" dynamodbav:"role"`
	Name            string    `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Email           string    `json:"email,omitempty" dynamodbav:"email,omitempty"`
	PasswordHash    string    `json:"-" dynamodbav:"password_hash"`
	ProfileImageRef string    `json:"profile_image_ref,omitempty" dynamodbav:"profile_image_ref,omitempty"`
	IsVerified      bool      `json:"is_verified" dynamodbav:"is_verified"`
	IsBlocked       bool      `json:"is_blocked" dynamodbav:"is_blocked"`
	CreatedAt       time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

func (u *User) GetPK() string {
	return "USER!" + u.ID
}

func (u *User) GetSK() string {
	return "METADATA"
}

// PhoneKey is the partition key of the (phone, role) uniqueness item that
// points at the user row.
func PhoneKey(phone string, role Role) string {
	return "PHONE!" + string(role) + "!" + phone
}
