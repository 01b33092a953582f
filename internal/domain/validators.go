package domain

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	// decimal.Decimal fields validate as float64 so gt/gte/lt tags apply.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidateStruct runs tag validation on v and returns a VALIDATION_ERROR
// naming the first offending field.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return ErrValidation(fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		}
		return ErrValidation(fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return ErrValidation(err.Error())
}

// ValidateCurrency checks if a currency code is ISO 4217.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("invalid currency code: %s", currency)
	}
	return nil
}

// ValidatePositiveAmount checks that an amount is strictly positive.
func ValidatePositiveAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", amount.String())
	}
	return nil
}

// ValidateOdds checks that decimal odds are greater than 1.
func ValidateOdds(odds decimal.Decimal) error {
	if !odds.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("odds must be greater than 1, got %s", odds.String())
	}
	return nil
}
