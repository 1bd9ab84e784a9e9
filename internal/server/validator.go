package server

import (
	"strconv"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new CustomValidator with the "maxrunes" rule
// registered. maxrunes=N counts characters of the NFC form, so a composed
// and a decomposed accent count the same.
func NewValidator() *CustomValidator {
	v := validator.New()
	_ = v.RegisterValidation("maxrunes", maxRunes)
	return &CustomValidator{validator: v}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

func maxRunes(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return utf8.RuneCountInString(norm.NFC.String(fl.Field().String())) <= limit
}
