package lifecycle

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"tutormarket/internal/apperr"
	"tutormarket/internal/model"
)

// TuitionInput is the student-editable part of a tuition.
type TuitionInput struct {
	Subject     string `json:"subject" validate:"required,max=120"`
	Class       string `json:"class" validate:"max=60"`
	Location    string `json:"location" validate:"required,max=200"`
	Salary      int64  `json:"salary" validate:"required,gt=0"`
	Description string `json:"description" validate:"max=2000"`
}

func (in *TuitionInput) normalize() {
	in.Subject = strings.TrimSpace(in.Subject)
	in.Class = strings.TrimSpace(in.Class)
	in.Location = strings.TrimSpace(in.Location)
	in.Description = strings.TrimSpace(in.Description)
}

// Decision is an admin review outcome.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) status() (model.TuitionStatus, bool) {
	switch d {
	case DecisionApprove:
		return model.TuitionApproved, true
	case DecisionReject:
		return model.TuitionRejected, true
	}
	return "", false
}

// TuitionQuery filters the public tuition board.
type TuitionQuery struct {
	Subject  string `form:"subject"`
	Location string `form:"location"`
}

// ApplicationInput is a tutor's bid.
type ApplicationInput struct {
	TuitionID      string `json:"tuition_id" validate:"required"`
	Qualifications string `json:"qualifications" validate:"required,max=2000"`
	Experience     string `json:"experience" validate:"required,max=2000"`
	ExpectedSalary int64  `json:"expected_salary" validate:"required,gt=0"`
}

func (in *ApplicationInput) normalize() {
	in.TuitionID = strings.TrimSpace(in.TuitionID)
	in.Qualifications = strings.TrimSpace(in.Qualifications)
	in.Experience = strings.TrimSpace(in.Experience)
}

// ApplicationUpdate is the tutor-editable part of a pending application.
type ApplicationUpdate struct {
	Qualifications string `json:"qualifications" validate:"required,max=2000"`
	Experience     string `json:"experience" validate:"required,max=2000"`
	ExpectedSalary int64  `json:"expected_salary" validate:"required,gt=0"`
}

func (in *ApplicationUpdate) normalize() {
	in.Qualifications = strings.TrimSpace(in.Qualifications)
	in.Experience = strings.TrimSpace(in.Experience)
}

// PaymentResult is what the checkout reports after the gateway settles.
type PaymentResult struct {
	TransactionRef string `json:"transaction_ref" validate:"required"`
	// Amount is used only when no gateway is configured to verify against.
	Amount int64 `json:"amount" validate:"gte=0"`
}

// SessionInput schedules one class.
type SessionInput struct {
	ApplicationID string    `json:"application_id" validate:"required"`
	StartsAt      time.Time `json:"start_time" validate:"required"`
	EndsAt        time.Time `json:"end_time" validate:"required"`
	Location      string    `json:"location" validate:"max=200"`
	Notes         string    `json:"notes" validate:"max=2000"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check validates in and reports violations as apperr.ErrValidation.
func check(op string, in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(op, apperr.ErrValidation, "invalid input", err)
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{Field: fe.Field(), Error: describe(fe)})
	}
	return apperr.Validation(op, fields...)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "is invalid"
}
