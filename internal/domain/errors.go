package domain

import "errors"

var (
	// ErrRecordNotFound is returned when no record exists for a chat. Callers
	// treat it as "not onboarded yet" rather than as a failure.
	ErrRecordNotFound = errors.New("record not found")

	// ErrInvalidInsurance rejects insurance numbers that are not exactly 16 digits.
	ErrInvalidInsurance = errors.New("insurance number must be 16 digits")

	// ErrInvalidBirthDate rejects birth dates not written as DD.MM.YYYY.
	ErrInvalidBirthDate = errors.New("birth date must match DD.MM.YYYY")
)
