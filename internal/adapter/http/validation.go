package http

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   string       `json:"error"`
	Details []FieldError `json:"details,omitempty"`
}

var (
	reLoanID  = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)
	reAddress = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// fieldMessages holds the readable text per validator tag. A trailing space
// means the tag parameter is appended.
var fieldMessages = map[string]string{
	"required": "is required",
	"loanid":   "must be 1-64 chars of letters, digits, '.', '-' or '_'",
	"ethaddr":  "must be a 0x-prefixed 40-hex-digit address",
	"intlike":  "must be an integer value",
	"dec2":     "must have at most 2 decimal places",
	"datetime": "must be a date formatted YYYY-MM-DD",
	"email":    "must be a valid email",
	"gt":       "must be greater than ",
	"gte":      "must be greater than or equal to ",
	"lte":      "must be less than or equal to ",
	"oneof":    "must be one of: ",
}

type CustomValidator struct{ v *validator.Validate }

func NewValidator() *CustomValidator {
	v := validator.New()

	// report the json name when the struct has one
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// money and slice fields are decimals; bounds compare them as numbers
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("loanid", func(fl validator.FieldLevel) bool {
		return reLoanID.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("ethaddr", func(fl validator.FieldLevel) bool {
		return reAddress.MatchString(fl.Field().String())
	})
	// slices move on chain as whole tokens
	_ = v.RegisterValidation("intlike", func(fl validator.FieldLevel) bool {
		return decimal.NewFromFloat(fl.Field().Float()).IsInteger()
	})
	_ = v.RegisterValidation("dec2", func(fl validator.FieldLevel) bool {
		d := decimal.NewFromFloat(fl.Field().Float())
		return d.Equal(d.Truncate(2))
	})

	return &CustomValidator{v: v}
}

func (cv *CustomValidator) Validate(i any) error { return cv.v.Struct(i) }

// ToFieldErrors flattens validator errors into response details. Any other
// error becomes a single detail on field "_".
func ToFieldErrors(err error) []FieldError {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return []FieldError{{Field: "_", Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(ve))
	for _, e := range ve {
		msg, ok := fieldMessages[e.Tag()]
		switch {
		case !ok:
			msg = e.Tag() + " validation failed"
		case strings.HasSuffix(msg, " "):
			msg += e.Param()
		}
		out = append(out, FieldError{Field: e.Field(), Message: msg})
	}
	return out
}
