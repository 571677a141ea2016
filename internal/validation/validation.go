// Package validation checks request payloads with go-playground/validator and
// reports failures as apperr validation errors.
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/ovaphlow/pitchfork/service-account/internal/apperr"
)

// States lists the 27 Brazilian federative unit codes.
var States = []string{
	"AC", "AL", "AP", "AM", "BA", "CE", "DF", "ES", "GO", "MA",
	"MT", "MS", "MG", "PA", "PB", "PR", "PE", "PI", "RJ", "RN",
	"RS", "RO", "RR", "SC", "SP", "SE", "TO",
}

var (
	personNamePattern = regexp.MustCompile(`^[A-Za-zÀ-ÿ\s]+$`)
	specialPattern    = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>_\-+=\[\]\\;` + "`" + `~]`)
	nonDigit          = regexp.MustCompile(`\D`)
)

// Validator validates structs tagged with `validate`.
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("taxid", func(fl validator.FieldLevel) bool { return ValidTaxID(fl.Field().String()) })
	_ = v.RegisterValidation("strongpassword", func(fl validator.FieldLevel) bool { return StrongPassword(fl.Field().String()) })
	_ = v.RegisterValidation("uf", func(fl validator.FieldLevel) bool { return ValidState(fl.Field().String()) })
	_ = v.RegisterValidation("postalcode", func(fl validator.FieldLevel) bool { return len(Digits(fl.Field().String())) == 8 })
	_ = v.RegisterValidation("personname", func(fl validator.FieldLevel) bool { return PersonName(fl.Field().String()) })
	_ = v.RegisterValidation("streetnumber", func(fl validator.FieldLevel) bool { return StreetNumber(fl.Field().String()) })
	return &Validator{validate: v}
}

// Struct validates s and returns an apperr validation error listing every bad field.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation.WithCause(err)
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{
			Field:   fe.Field(),
			Message: message(fe),
			Type:    fe.Tag(),
		})
	}
	return apperr.ValidationFailed(fields)
}

// Var validates a single value against tag and reports it under field.
func (v *Validator) Var(field string, value any, tag string) error {
	err := v.validate.Var(value, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation.WithCause(err)
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{Field: field, Message: message(fe), Type: fe.Tag()})
	}
	return apperr.ValidationFailed(fields)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must have at least " + fe.Param() + " characters"
	case "max":
		return "must have at most " + fe.Param() + " characters"
	case "taxid":
		return "invalid tax id, check the digits and try again"
	case "strongpassword":
		return "password needs upper and lower case letters, a digit and a special character"
	case "uf":
		return "invalid state, use one of: " + strings.Join(States, ", ")
	case "postalcode":
		return "postal code must have 8 digits"
	case "personname":
		return "must contain only letters"
	case "streetnumber":
		return `must contain at least one digit or be "S/N"`
	}
	return "invalid value"
}

// Digits strips every non-digit character.
func Digits(s string) string { return nonDigit.ReplaceAllString(s, "") }

// ValidTaxID checks a CPF number, formatted or not, including both check digits.
func ValidTaxID(s string) bool {
	d := Digits(s)
	if len(d) != 11 {
		return false
	}
	if strings.Count(d, d[:1]) == 11 {
		return false
	}
	return checkDigit(d[:9], 10) == d[9] && checkDigit(d[:10], 11) == d[10]
}

func checkDigit(digits string, weight int) byte {
	sum := 0
	for i := 0; i < len(digits); i++ {
		sum += int(digits[i]-'0') * (weight - i)
	}
	rest := sum % 11
	if rest < 2 {
		return '0'
	}
	return byte('0' + 11 - rest)
}

// FormatTaxID renders 11 digits as 000.000.000-00. Other input is returned as is.
func FormatTaxID(s string) string {
	d := Digits(s)
	if len(d) != 11 {
		return s
	}
	return d[:3] + "." + d[3:6] + "." + d[6:9] + "-" + d[9:]
}

// StrongPassword enforces length 8..48 with upper, lower, digit and special characters.
func StrongPassword(pw string) bool {
	if len(pw) < 8 || len(pw) > 48 {
		return false
	}
	var upper, lower, digit bool
	for _, r := range pw {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit && specialPattern.MatchString(pw)
}

func ValidState(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, uf := range States {
		if s == uf {
			return true
		}
	}
	return false
}

// PersonName accepts letters (latin accents included) and spaces.
func PersonName(s string) bool { return personNamePattern.MatchString(strings.TrimSpace(s)) }

// StreetNumber accepts anything with a digit, or S/N.
func StreetNumber(s string) bool {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "S/N", "SN":
		return true
	}
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
