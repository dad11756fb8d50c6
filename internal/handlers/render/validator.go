package render

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const (
	passwordMinLength     = 8
	passwordPolicyMessage = "Password must be at least 8 characters long and contain upper case, lower case letters and a digit"
)

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("password", validatePassword)
	validate.RegisterTagNameFunc(useJSONTagNames)
	return validate
}

// Return on 'TagName' json tag instead of struct name
// Look at documentation of 'RegisterTagNameFunc' for more details
func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

// Password policy: minimum length plus at least one upper, one lower and one digit
func validatePassword(fl validator.FieldLevel) bool {
	password := fl.Field().String()
	if len([]rune(password)) < passwordMinLength {
		return false
	}

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}

	return upper && lower && digit
}
