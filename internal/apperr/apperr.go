package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeForbidden     Code = "FORBIDDEN"
	CodeTransient     Code = "TRANSIENT_ERROR"
	CodeDownstream    Code = "DOWNSTREAM_ERROR"
)

type Metadata struct {
	HTTPStatus    int
	Retryable     bool
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		HTTPStatus:    http.StatusBadRequest,
		Retryable:     false,
		PublicMessage: "invalid request",
	},
	CodeNotFound: {
		HTTPStatus:    http.StatusNotFound,
		Retryable:     true,
		PublicMessage: "resource not found",
	},
	CodeStateConflict: {
		HTTPStatus:    http.StatusConflict,
		Retryable:     false,
		PublicMessage: "state transition not allowed",
	},
	CodeForbidden: {
		HTTPStatus:    http.StatusForbidden,
		Retryable:     false,
		PublicMessage: "access denied",
	},
	CodeTransient: {
		HTTPStatus:    http.StatusServiceUnavailable,
		Retryable:     true,
		PublicMessage: "temporarily unavailable, retry later",
	},
	CodeDownstream: {
		HTTPStatus:    http.StatusOK,
		Retryable:     false,
		PublicMessage: "downstream call failed",
	},
}

// MetadataFor falls back to CodeTransient for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeTransient]
}

// Reasons identify the concrete rule that rejected a request.
const (
	ReasonAlreadyPaid        = "already_paid"
	ReasonEventFinished      = "event_finished"
	ReasonEventNotFinished   = "event_not_finished"
	ReasonDuplicateRequest   = "duplicate_request"
	ReasonOrderNotFound      = "order_not_found"
	ReasonOrderFailed        = "order_failed"
	ReasonTicketNotFound     = "ticket_not_found"
	ReasonGroupNotFound      = "group_not_found"
	ReasonParticipantMissing = "participant_not_found"
	ReasonGroupExpired       = "group_expired"
	ReasonGroupClosed        = "group_closed"
	ReasonParticipantBound   = "participant_bound"
	ReasonTicketInvalid      = "ticket_not_valid"
	ReasonNotOwner           = "not_ticket_owner"
	ReasonPromoNotFound      = "promo_not_found"
	ReasonPromoScope         = "promo_scope_mismatch"
	ReasonPromoUsage         = "promo_usage_exceeded"
	ReasonPromoNotYetActive  = "promo_not_yet_active"
	ReasonPromoExpired       = "promo_expired"
	ReasonSettlementBusy     = "settlement_in_progress"
	ReasonNotFree            = "tier_not_free"
)

type Error struct {
	code    Code
	reason  string
	message string
	cause   error
}

func New(code Code, reason, message string) *Error {
	return &Error{code: code, reason: reason, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func Validation(message string) *Error {
	return New(CodeValidation, "", message)
}

func NotFound(reason, message string) *Error {
	return New(CodeNotFound, reason, message)
}

func Conflict(reason, message string) *Error {
	return New(CodeStateConflict, reason, message)
}

func Transient(err error, message string) *Error {
	return Wrap(CodeTransient, err, message)
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeTransient
	}
	return e.code
}

func (e *Error) Reason() string {
	if e == nil {
		return ""
	}
	return e.reason
}

// Message is safe to show to the caller.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf treats uncoded errors as transient infrastructure failures.
func CodeOf(err error) Code {
	if e := As(err); e != nil {
		return e.code
	}
	return CodeTransient
}

func HasReason(err error, reason string) bool {
	e := As(err)
	return e != nil && e.reason == reason
}

// HTTPStatus maps err to the status code returned to callers.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return MetadataFor(CodeOf(err)).HTTPStatus
}

// Retryable reports whether the caller should redeliver the request.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(CodeOf(err)).Retryable
}
