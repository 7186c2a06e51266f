// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package validation checks request input with go-playground/validator and
// reports failures as VALIDATION_ERROR with one message per JSON field.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"codeberg.org/oliverandrich/memberdir/internal/apperr"
	"github.com/go-playground/validator/v10"
)

var zidPattern = regexp.MustCompile(`^z[0-9]{7}$`)

// Validator wraps a configured *validator.Validate.
type Validator struct {
	validate *validator.Validate
}

// New creates a Validator that names fields by their json tag.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("zid", validateZID); err != nil {
		panic(fmt.Sprintf("registering zid validation: %v", err))
	}

	return &Validator{validate: v}
}

// Struct validates s. Field failures come back as an *apperr.Error.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Internal(fmt.Errorf("validating input: %w", err))
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if _, seen := fields[fe.Field()]; !seen {
			fields[fe.Field()] = message(fe)
		}
	}
	return apperr.Validation(fields)
}

// Merge adds the field messages of extra to a VALIDATION_ERROR built from
// base. Either may be nil.
func Merge(base error, extra map[string]string) error {
	if len(extra) == 0 {
		return base
	}
	fields := make(map[string]string, len(extra))
	if ae, ok := apperr.As(base); ok && ae.Code == apperr.CodeValidation {
		if m, ok := ae.Details.(map[string]string); ok {
			for k, msg := range m {
				fields[k] = msg
			}
		}
	} else if base != nil {
		return base
	}
	for k, msg := range extra {
		if _, seen := fields[k]; !seen {
			fields[k] = msg
		}
	}
	return apperr.Validation(fields)
}

func validateZID(fl validator.FieldLevel) bool {
	return zidPattern.MatchString(fl.Field().String())
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Must be a valid email address"
	case "zid":
		return "Must be a z followed by seven digits"
	case "eqfield":
		return "Passwords do not match"
	case "min":
		return fmt.Sprintf("Must be at least %s characters long", fe.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s characters long", fe.Param())
	case "len":
		return fmt.Sprintf("Must be exactly %s characters long", fe.Param())
	case "numeric":
		return "Must contain digits only"
	default:
		return fmt.Sprintf("Invalid value (failed on '%s' tag)", fe.Tag())
	}
}
