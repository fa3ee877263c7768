package domain

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// BirthDateLayout is the user-facing date format (DD.MM.YYYY).
const BirthDateLayout = "02.01.2006"

// APIDateLayout is the date format exchanged with the appointment API.
const APIDateLayout = "2006-01-02"

var validate = validator.New()

// ValidateInsurance trims the raw argument and checks it is exactly 16 ASCII
// digits. Leading zeros are preserved.
func ValidateInsurance(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if err := validate.Var(value, "required,len=16,number"); err != nil {
		return "", ErrInvalidInsurance
	}

	return value, nil
}

// ParseBirthDate parses a DD.MM.YYYY argument into a UTC midnight date.
func ParseBirthDate(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, ErrInvalidBirthDate
	}

	parsed, err := time.ParseInLocation(BirthDateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, ErrInvalidBirthDate
	}

	return parsed, nil
}

// FormatBirthDate renders a date as DD.MM.YYYY.
func FormatBirthDate(t time.Time) string {
	return t.UTC().Format(BirthDateLayout)
}
