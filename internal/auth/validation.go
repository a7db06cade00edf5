// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
)

// Credential constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// usernameRegex matches usernames that start with a letter and contain only
// letters, digits and underscores.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool { //nolint:errcheck // tag name is a constant
		return usernameRegex.MatchString(fl.Field().String())
	})
	return v
}

// RegistrationDraft is the client-held registration data. It is submitted at
// Initiate and resubmitted unchanged at Complete.
type RegistrationDraft struct {
	Username     string `validate:"required,min=3,max=30,username"`
	Email        string `validate:"required,email,max=254"`
	Password     string `validate:"required,min=8,max=128"`
	FirstName    string `validate:"max=64"`
	LastName     string `validate:"max=64"`
	CaptchaToken string `validate:"-"`
}

// Normalized returns a copy with normalized email and username.
func (d RegistrationDraft) Normalized() RegistrationDraft {
	d.Username = NormalizeUsername(d.Username)
	d.Email = NormalizeEmail(d.Email)
	d.FirstName = strings.TrimSpace(d.FirstName)
	d.LastName = strings.TrimSpace(d.LastName)
	return d
}

// DisplayName joins first and last name, falling back to the username.
func (d RegistrationDraft) DisplayName() string {
	name := strings.TrimSpace(d.FirstName + " " + d.LastName)
	if name == "" {
		return d.Username
	}
	return name
}

// Validate checks the draft. Returns ErrInvalidInput naming the first failing
// field.
func (d RegistrationDraft) Validate() error {
	return validationError(validate.Struct(d))
}

// ValidateUsername checks a normalized username.
func ValidateUsername(username string) error {
	return validationError(validate.Var(username, "required,min=3,max=30,username"), "username")
}

// ValidateEmail checks a normalized email address.
func ValidateEmail(email string) error {
	return validationError(validate.Var(email, "required,email,max=254"), "email")
}

// ValidatePassword applies the password length policy.
func ValidatePassword(password string) error {
	return validationError(validate.Var(password, "required,min=8,max=128"), "password")
}

func validationError(err error, field ...string) error {
	if err == nil {
		return nil
	}
	name := strings.Join(field, "")
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if name == "" {
			name = strings.ToLower(verrs[0].Field())
		}
		return oops.Code(CodeInvalidInput).
			With(fieldKey, name).
			With("rule", verrs[0].Tag()).
			Wrapf(ErrInvalidInput, "%s failed %s validation", name, verrs[0].Tag())
	}
	return oops.Code(CodeInvalidInput).With(fieldKey, name).Wrap(errors.Join(ErrInvalidInput, err))
}

// InvalidField returns the field named by an ErrInvalidInput failure.
func InvalidField(err error) string {
	if !errors.Is(err, ErrInvalidInput) {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	field, _ := oopsErr.Context()[fieldKey].(string) //nolint:errcheck // type assertion, not an error
	return field
}
