package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("product not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInsertFailed       = errors.New("insert failed")
	ErrUpdateFailed       = errors.New("update failed")
	ErrDeleteFailed       = errors.New("delete failed")

	// ErrNoOpAtZero is returned by a decrement on a product whose quantity is
	// already zero. Nothing was written; callers usually surface it as a notice.
	ErrNoOpAtZero = errors.New("quantity already at zero")

	// ErrQuantityLimit is returned by an increment that would carry a
	// quantity past MaxQuantity. Nothing was written.
	ErrQuantityLimit = errors.New("quantity limit reached")
)

// ValidationError names the request field that failed validation.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	switch e.Rule {
	case "required":
		return fmt.Sprintf("%s is required", e.Field)
	case "notblank":
		return fmt.Sprintf("%s must not be empty", e.Field)
	case "gte", "min":
		return fmt.Sprintf("%s must not be negative", e.Field)
	case "lte", "max":
		return fmt.Sprintf("%s is too large", e.Field)
	case "positive":
		return fmt.Sprintf("%s must be positive", e.Field)
	case "sortable":
		return fmt.Sprintf("%s must name a column", e.Field)
	case "phone":
		return fmt.Sprintf("%s must be exactly 10 digits", e.Field)
	}
	return fmt.Sprintf("%s is invalid (%s)", e.Field, e.Rule)
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
