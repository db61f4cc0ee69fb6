package gateway

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindNotFound       Kind = "not_found"
	KindUpstream       Kind = "upstream"
	KindConfiguration  Kind = "configuration"
)

const (
	messageUnreachable = "Unable to reach the server. Please try again."
	messageTryAgain    = "Something went wrong. Please try again."
	messageNotSignedIn = "Not signed in"
)

// Error carries the provider's message together with its classification. Messages from
// 5xx responses are replaced with a generic one.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or "" when err did not come from the gateway.
func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns a short user-facing message for any error.
func Message(err error) string {
	var gwErr *Error
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	if err == nil {
		return ""
	}
	return messageTryAgain
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthentication
	case status == http.StatusForbidden:
		return KindAuthorization
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindUpstream
	case status >= 400 && status < 500:
		return KindValidation
	default:
		return KindUpstream
	}
}

// newStatusError keeps the provider's message except for server failures, whose text is
// never shown to the user. A 429 keeps its message so the user knows to wait.
func newStatusError(status int, message string) *Error {
	kind := kindForStatus(status)
	switch {
	case status >= http.StatusInternalServerError:
		message = messageTryAgain
	case message == "" && kind == KindUpstream:
		message = messageTryAgain
	case message == "":
		message = http.StatusText(status)
	}
	return &Error{Kind: kind, Message: message, Status: status}
}

func notSignedIn() *Error {
	return &Error{Kind: KindAuthentication, Message: messageNotSignedIn}
}
