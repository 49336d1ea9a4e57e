package core

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate

	estimateNumberRe = regexp.MustCompile(`^\d{4}-\d{3,}$`)
	clockRe          = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d(:[0-5]\d)?$`)
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// Report json names so API clients see the fields they sent.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = v.RegisterValidation("estimate_number", func(fl validator.FieldLevel) bool {
			return estimateNumberRe.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s == "" || clockRe.MatchString(s)
		})
		v.RegisterCustomTypeFunc(func(field reflect.Value) any {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				return d.InexactFloat64()
			}
			return nil
		}, decimal.Decimal{})
		validate = v
	})
	return validate
}

// Struct validates v against its `validate` tags and converts failures into
// an ErrValidation naming every offending field as "field: tag".
func Struct(op string, v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return E(ErrValidation, op, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fieldPath(fe)+": "+fe.Tag())
	}
	return Validation(op, fields...)
}

// fieldPath drops the top-level struct name from the namespace, so
// "Estimate.items[0].description" becomes "items[0].description".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}
