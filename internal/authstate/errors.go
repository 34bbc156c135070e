package authstate

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failures user-initiated actions report.
type ErrorKind int

const (
	KindCredential ErrorKind = iota + 1
	KindConfirmationRequired
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindCredential:
		return "credential_error"
	case KindConfirmationRequired:
		return "confirmation_required"
	case KindNetwork:
		return "network_error"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// AuthError is the tagged error returned by sign-in and sign-up. Message is
// meant for display as-is.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

func CredentialError(msg string) error {
	return &AuthError{Kind: KindCredential, Message: msg}
}

func ConfirmationRequired(msg string) error {
	return &AuthError{Kind: KindConfirmationRequired, Message: msg}
}

func NetworkError(err error) error {
	return &AuthError{Kind: KindNetwork, Err: err}
}

// KindOf extracts the kind of an AuthError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return 0, false
}

func IsCredential(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindCredential
}

func IsConfirmationRequired(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindConfirmationRequired
}

func IsNetwork(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNetwork
}
