// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"

	"callback_backend/platform/apperr"
)

const invalidPhoneMessage = "invalid phone number"

// NormalizeE164 parses and validates a phone number and returns it in E.164
// format. Numbers without a country prefix are rejected: visitor-submitted
// numbers must be unambiguous before they reach the telephony provider.
// Normalizing an already-canonical number returns it unchanged.
func NormalizeE164(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", apperr.Validation("phone number is required")
	}

	number, err := phonenumbers.Parse(trimmed, "")
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, invalidPhoneMessage, err)
	}

	if !phonenumbers.IsValidNumber(number) {
		return "", apperr.Validation(invalidPhoneMessage)
	}

	return phonenumbers.Format(number, phonenumbers.E164), nil
}
