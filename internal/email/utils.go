// Package email provides utilities for email address handling
package email

import (
	"regexp"
	"strings"
)

// Basic address shape; underscores are allowed in the domain
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9._-]+\.[a-zA-Z]{2,}$`)

// IsValidEmail performs basic email validation
func IsValidEmail(email string) bool {
	if email == "" {
		return false
	}
	if strings.TrimSpace(email) != email {
		return false
	}
	// RFC 5321 limit
	if len(email) > 320 {
		return false
	}
	return emailRegex.MatchString(email)
}

// Normalize trims and lowercases an address for case-insensitive comparison
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Equal reports whether two addresses identify the same mailbox, ignoring case
func Equal(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// LocalPart returns the portion before the @ in lowercase, or an empty string
// when the address is malformed. It names per-user storage folders.
func LocalPart(email string) string {
	if !IsValidEmail(email) {
		return ""
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return ""
	}
	return strings.ToLower(email[:at])
}
