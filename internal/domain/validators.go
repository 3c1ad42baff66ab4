package domain

import (
	"fmt"
	"regexp"
)

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	deviceIDRegex = regexp.MustCompile(`^[A-Za-z0-9_\-]{8,128}$`)
)

// ValidateEmail checks if an email address is valid.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	return nil
}

// ValidateDeviceID checks a client-supplied device identifier. Empty is allowed.
func ValidateDeviceID(id string) error {
	if id == "" {
		return nil
	}
	if !deviceIDRegex.MatchString(id) {
		return fmt.Errorf("device id must be 8-128 url-safe characters")
	}
	return nil
}
