package groupsync

import (
	"context"

	"github.com/relves/groupsync/pkg/groupcrypto"
	"github.com/relves/groupsync/pkg/types"
	"github.com/relves/groupsync/pkg/wire"
)

// Day selects which of the two rotating credentials to use.
type Day int

const (
	Today Day = iota
	Tomorrow
)

// Alternate returns the other day.
func (d Day) Alternate() Day {
	if d == Today {
		return Tomorrow
	}
	return Today
}

func (d Day) String() string {
	if d == Tomorrow {
		return "tomorrow"
	}
	return "today"
}

// Credential is an opaque authorization presented to the group service.
type Credential []byte

// CredentialProvider returns the credential for a day. Failures are not
// retried.
type CredentialProvider interface {
	Credential(ctx context.Context, day Day) (Credential, error)
}

// GroupParams identifies a group to the service.
type GroupParams struct {
	ID           types.GroupID
	PublicParams []byte
}

// RemoteService reads a group's change log and current state. Recognised
// failures wrap ErrTemporalCredentialRejected or ErrAccessDenied; anything
// else is fatal to the update.
type RemoteService interface {
	// FetchLogPage returns changes starting at revision from.
	FetchLogPage(ctx context.Context, group GroupParams, from uint32, cred Credential) (*wire.LogPage, error)
	FetchFullState(ctx context.Context, group GroupParams, cred Credential) (*wire.Group, error)
}

// AvatarFetcher downloads an encrypted avatar blob.
type AvatarFetcher interface {
	FetchAvatar(ctx context.Context, ref string) ([]byte, error)
}

// DecryptorFactory builds the field decryptor for a group.
type DecryptorFactory func(secretParams []byte) (groupcrypto.Decryptor, error)

// Store loads mirrored groups and receives finished updates.
type Store interface {
	LoadGroup(ctx context.Context, id types.GroupID) (*types.GroupAttributes, error)
	SaveUpdate(ctx context.Context, update *Update) error
}

// InboundQueue is drained before a queued update runs.
type InboundQueue interface {
	WaitForEmpty(ctx context.Context) error
}
