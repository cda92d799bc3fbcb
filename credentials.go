package sessionx

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Credentials are the login inputs. They are never persisted.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Registration is the sign-up payload of the identity API.
type Registration struct {
	FirstName       string `json:"first_name" validate:"required"`
	LastName        string `json:"last_name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Phone           string `json:"phone" validate:"required"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

// RegisteredUser is the account returned by a successful registration.
type RegisteredUser struct {
	ID       string `json:"-"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	UserType string `json:"user_type"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func inputValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Sanitize trims both fields and lower-cases the email.
func (c Credentials) Sanitize() Credentials {
	return Credentials{
		Email:    strings.ToLower(strings.TrimSpace(c.Email)),
		Password: strings.TrimSpace(c.Password),
	}
}

// Validate checks the sanitized credentials before they are sent.
func (c Credentials) Validate() error {
	return validationError(inputValidator().Struct(c))
}

// Sanitize trims every field, lower-cases the email and strips spaces from
// the phone number.
func (r Registration) Sanitize() Registration {
	return Registration{
		FirstName:       strings.TrimSpace(r.FirstName),
		LastName:        strings.TrimSpace(r.LastName),
		Email:           strings.ToLower(strings.TrimSpace(r.Email)),
		Phone:           strings.Join(strings.Fields(r.Phone), ""),
		Password:        strings.TrimSpace(r.Password),
		PasswordConfirm: strings.TrimSpace(r.PasswordConfirm),
	}
}

// Validate checks the sanitized registration before it is sent.
func (r Registration) Validate() error {
	return validationError(inputValidator().Struct(r))
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return newError(ErrCodeInternal, err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return newError(ErrCodeValidation, fmt.Errorf("invalid fields: %s", strings.Join(fields, ", ")))
}
