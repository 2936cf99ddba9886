package consult

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Categories offered when submitting a request
var Categories = []string{"Family", "Criminal", "Property", "Business", "Immigration", "Other"}

// MinDetails is the shortest accepted problem description, after trimming
const MinDetails = 10

var v = validator.New()

type submission struct {
	Category string `validate:"required,oneof=Family Criminal Property Business Immigration Other"`
	Details  string `validate:"required,min=10"`
}

// ValidationError rejects a submission before any network call
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// validateSubmission reports the first failing field
func validateSubmission(s submission) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return err
	}
	fe := ve[0]
	switch fe.Field() {
	case "Category":
		return &ValidationError{Field: "category", Message: "choose one of " + strings.Join(Categories, ", ")}
	case "Details":
		return &ValidationError{Field: "details", Message: fmt.Sprintf("describe the issue in at least %d characters", MinDetails)}
	default:
		return &ValidationError{Field: strings.ToLower(fe.Field()), Message: fmt.Sprintf("failed %q", fe.Tag())}
	}
}
