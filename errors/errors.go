package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	ErrWorkerPanic          = fmt.Errorf("worker panic")
	ErrEmptyTerms           = fmt.Errorf("no moderation terms have been found")
	ErrUnauthenticated      = fmt.Errorf("connection is not authenticated")
	ErrAlreadyAuthenticated = fmt.Errorf("connection is already authenticated")
	ErrNotAMember           = fmt.Errorf("connection is not a member of the room")
	ErrClassification       = fmt.Errorf("classification failure")
	ErrPersistence          = fmt.Errorf("persistence failure")
	ErrDelivery             = fmt.Errorf("delivery failure")
	ErrConnectionClosed     = fmt.Errorf("connection is closed")
	ErrUnknownConnection    = fmt.Errorf("unknown connection")
	ErrInvalidToken         = fmt.Errorf("invalid or expired token")
	ErrInvalidCommand       = fmt.Errorf("invalid command")
	ErrInvalidWindow        = fmt.Errorf("invalid analytics window")
	ErrRecordNotFound       = fmt.Errorf("record not found")
	ErrDuplicateRecord      = fmt.Errorf("record already exists")
)

// Code maps an error to the short code sent to clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case stderrors.Is(err, ErrAlreadyAuthenticated):
		return "already_authenticated"
	case stderrors.Is(err, ErrNotAMember):
		return "not_a_member"
	case stderrors.Is(err, ErrPersistence):
		return "persistence_failure"
	case stderrors.Is(err, ErrConnectionClosed):
		return "connection_closed"
	case stderrors.Is(err, ErrUnknownConnection):
		return "unknown_connection"
	case stderrors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case stderrors.Is(err, ErrInvalidCommand):
		return "invalid_command"
	case stderrors.Is(err, ErrInvalidWindow):
		return "invalid_window"
	default:
		return "internal"
	}
}
