package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	InsufficientStock    Code = "INSUFFICIENT_STOCK"
	PartNotFound         Code = "PART_NOT_FOUND"
	InvalidPart          Code = "INVALID_PART"
	InvalidStatus        Code = "INVALID_STATUS"
	InvalidPaymentStatus Code = "INVALID_PAYMENT_STATUS"
	InvalidPaymentAmount Code = "INVALID_PAYMENT_AMOUNT"
	InvalidInput         Code = "INVALID_INPUT"
	Unauthorized         Code = "UNAUTHORIZED"
	BranchMismatch       Code = "BRANCH_MISMATCH"
	OrderNotFound        Code = "ORDER_NOT_FOUND"
	OrderRefunded        Code = "ORDER_REFUNDED"
	OrderLocked          Code = "ORDER_LOCKED"
	AlreadyRefunded      Code = "ALREADY_REFUNDED"
	SubmissionInFlight   Code = "SUBMISSION_IN_FLIGHT"
	OperationFailed      Code = "OPERATION_FAILED"
)

type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryAuthorization  Category = "authorization"
	CategoryConflict       Category = "conflict"
	CategoryNotFound       Category = "not_found"
	CategoryInfrastructure Category = "infrastructure"
	CategoryUnknown        Category = "unknown"
)

var categories = map[Code]Category{
	InsufficientStock:    CategoryConflict,
	PartNotFound:         CategoryValidation,
	InvalidPart:          CategoryValidation,
	InvalidStatus:        CategoryValidation,
	InvalidPaymentStatus: CategoryValidation,
	InvalidPaymentAmount: CategoryValidation,
	InvalidInput:         CategoryValidation,
	Unauthorized:         CategoryAuthorization,
	BranchMismatch:       CategoryAuthorization,
	OrderNotFound:        CategoryNotFound,
	OrderRefunded:        CategoryConflict,
	OrderLocked:          CategoryConflict,
	AlreadyRefunded:      CategoryConflict,
	SubmissionInFlight:   CategoryConflict,
	OperationFailed:      CategoryInfrastructure,
}

// Error is a coded failure surfaced to RPC callers. Detail is serialized to
// the client, Cause is kept for logs only.
type Error struct {
	Code     Code     `json:"code"`
	Category Category `json:"-"`
	Detail   any      `json:"detail,omitempty"`
	Cause    error    `json:"-"`
}

func New(code Code, detail any) *Error {
	return &Error{Code: code, Category: categoryOf(code), Detail: detail}
}

// Wrap attaches cause to a coded error.
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Category: categoryOf(code), Cause: cause}
}

func (e *Error) Error() string {
	msg := Message(e.Code, defaultTag)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// From returns the coded error inside err. Anything uncoded collapses to
// OPERATION_FAILED with err kept as the cause.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	return &Error{Code: OperationFailed, Category: CategoryUnknown, Cause: err}
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return From(err).Code
}

func HTTPStatus(code Code) int {
	switch categoryOf(code) {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryAuthorization:
		if code == Unauthorized {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func categoryOf(code Code) Category {
	if c, ok := categories[code]; ok {
		return c
	}
	return CategoryUnknown
}
