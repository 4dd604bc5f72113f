package ledger

import (
	"fmt"
	"strconv"
	"time"
)

// RollNumberLength is the exact length of a roll number.
const RollNumberLength = 5

// ValidateRollNumber checks that roll is a non-zero number of exactly five digits.
func ValidateRollNumber(roll string) error {
	for i := 0; i < len(roll); i++ {
		if roll[i] < '0' || roll[i] > '9' {
			return &ValidationError{Field: "roll_number", Reason: "must be numeric"}
		}
	}
	n, err := strconv.Atoi(roll)
	if err != nil || n == 0 {
		return &ValidationError{Field: "roll_number", Reason: "please enter a valid roll number"}
	}
	if len(roll) != RollNumberLength {
		return &ValidationError{Field: "roll_number", Reason: "roll number must be exactly 5 digits"}
	}
	return nil
}

// EntryKey returns the ledger key of a validated roll number: its integer
// value without leading zeros, so "01234" and the web scanner's 1234 share
// one entry.
func EntryKey(roll string) string {
	n, err := strconv.Atoi(roll)
	if err != nil {
		return roll
	}
	return strconv.Itoa(n)
}

// ParseEntryKey accepts a roll number either as scanned (five digits) or as
// stored (leading zeros dropped) and returns its ledger key.
func ParseEntryKey(roll string) (string, error) {
	if roll == "" || len(roll) > RollNumberLength {
		return "", &ValidationError{Field: "roll_number", Reason: "roll number must be at most 5 digits"}
	}
	for i := 0; i < len(roll); i++ {
		if roll[i] < '0' || roll[i] > '9' {
			return "", &ValidationError{Field: "roll_number", Reason: "must be numeric"}
		}
	}
	n, err := strconv.Atoi(roll)
	if err != nil || n == 0 {
		return "", &ValidationError{Field: "roll_number", Reason: "please enter a valid roll number"}
	}
	return strconv.Itoa(n), nil
}

// PeriodTag formats the billing period tag, e.g. "3 2025".
func PeriodTag(month time.Month, year int) string {
	return fmt.Sprintf("%d %d", int(month), year)
}

// PeriodOf returns the period tag of t in t's location.
func PeriodOf(t time.Time) string {
	return PeriodTag(t.Month(), t.Year())
}
