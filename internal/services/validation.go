package services

import (
	"errors"
	"reflect"
	"strings"

	"bookstore/internal/models"

	"github.com/go-playground/validator/v10"
)

// insertRules has the layout of models.ProductFields so one converts to the
// other; only the tags differ. Presence is required for everything except
// quantity.
type insertRules struct {
	Name          *string `json:"name" validate:"required,notblank"`
	Price         *int64  `json:"price" validate:"required,gte=0"`
	Quantity      *int    `json:"quantity" validate:"omitnil,gte=0,lte=2147483647"`
	SupplierName  *string `json:"supplier_name" validate:"required,notblank"`
	SupplierPhone *string `json:"supplier_phone" validate:"required,notblank"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Whitespace-only text is as empty as "".
	if err := v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		panic(err)
	}
	return v
}

// validateInsert checks a complete field set before anything is written.
func (s *InventoryService) validateInsert(fields models.ProductFields) error {
	return toValidationError(s.validate.Struct(insertRules(fields)))
}

// validateUpdate checks only the fields that are present.
func (s *InventoryService) validateUpdate(fields models.ProductFields) error {
	return toValidationError(s.validate.Struct(fields))
}

// toValidationError reports the first failing field, in column order.
func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &models.ValidationError{Field: verrs[0].Field(), Rule: verrs[0].Tag()}
	}
	return err
}
