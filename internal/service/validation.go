package service

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/qcom/phoneauth/internal/apperr"
	"github.com/qcom/phoneauth/internal/models"
)

const (
	maxNameLength     = 100
	maxPasswordLength = 72 // bcrypt ignores anything longer
)

// NormalizePhone reduces a phone number to its 10-digit national form.
// Separators are dropped and a leading 91 country code or 0 trunk prefix is
// removed.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "91"):
		digits = digits[2:]
	case len(digits) == 11 && strings.HasPrefix(digits, "0"):
		digits = digits[1:]
	}

	if len(digits) != 10 || digits[0] == '0' {
		return "", apperr.Validation("phone number must have 10 digits")
	}
	return digits, nil
}

// ParseRole accepts a role name, defaulting to user when empty.
func ParseRole(raw string) (models.Role, error) {
	if raw == "" {
		return models.RoleUser, nil
	}
	role := models.Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", apperr.Validation("role must be one of user, provider, admin")
	}
	return role, nil
}

// ValidatePassword requires minLength characters with at least one letter
// and one digit.
func ValidatePassword(password string, minLength int) error {
	if utf8.RuneCountInString(password) < minLength {
		return apperr.Validation("password is too short")
	}
	if len(password) > maxPasswordLength {
		return apperr.Validation("password is too long")
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return apperr.Validation("password must contain letters and digits")
	}
	return nil
}

func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Validation("full name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return apperr.Validation("full name is too long")
	}
	return nil
}

// ValidateEmail accepts an empty address.
func ValidateEmail(email string) error {
	if email == "" {
		return nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperr.Validation("invalid email address")
	}
	return nil
}
