package groupsync

import (
	"errors"
	"fmt"
)

// Remote failure codes recognised by the engine.
const (
	TemporalCredentialRejectedCode = 401
	AccessDeniedCode               = 403
)

var (
	// ErrTemporalCredentialRejected means the service refused the credential
	// for the requested day. Recovered by switching to the other day once.
	ErrTemporalCredentialRejected = errors.New("temporal credential rejected")
	// ErrAccessDenied means the local user may no longer read the group.
	// Recovered by synthesizing a left-group result.
	ErrAccessDenied = errors.New("group access denied")

	ErrMissingSnapshot = errors.New("change cannot be applied incrementally and no snapshot was provided")
	ErrUnknownMember   = errors.New("change references a member that does not exist")
	ErrMissingOurID    = errors.New("local user identifier is not set")
	ErrMissingParams   = errors.New("group is missing secret params")
)

// RemoteError is a non-2xx response from the group service.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("group service error %d: %s", e.Code, e.Message)
}

// Is maps recognised codes onto the engine's sentinel errors.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrTemporalCredentialRejected:
		return e.Code == TemporalCredentialRejectedCode
	case ErrAccessDenied:
		return e.Code == AccessDeniedCode
	}
	return false
}
