package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"auditai/internal/domain"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrMissingTimestamp = errors.New("transaction timestamp is required")
)

type TransactionValidator struct {
	validate *validator.Validate
}

func NewTransactionValidator() *TransactionValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &TransactionValidator{
		validate: v,
	}
}

// ValidateStruct checks the `validate` tags of s. Field names in the error
// follow the JSON names.
func (v *TransactionValidator) ValidateStruct(s any) error {
	if err := v.structErrors(s); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (v *TransactionValidator) structErrors(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func (v *TransactionValidator) ValidateTransaction(tx *domain.Transaction) error {
	var errs []error

	if err := v.structErrors(tx); err != nil {
		errs = append(errs, err)
	}

	if tx.Timestamp.IsZero() {
		errs = append(errs, ErrMissingTimestamp)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
	}

	return nil
}

func (v *TransactionValidator) ValidateFeedback(fb *domain.Feedback) error {
	return v.ValidateStruct(fb)
}
