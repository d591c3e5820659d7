package remote

import (
	"context"
	"fmt"

	"github.com/relves/groupsync/pkg/groupsync"
)

// StaticCredentials serves fixed credentials for each day, typically loaded
// from configuration.
type StaticCredentials struct {
	Today    groupsync.Credential
	Tomorrow groupsync.Credential
}

func (s StaticCredentials) Credential(_ context.Context, day groupsync.Day) (groupsync.Credential, error) {
	cred := s.Today
	if day == groupsync.Tomorrow {
		cred = s.Tomorrow
	}
	if len(cred) == 0 {
		return nil, fmt.Errorf("no credential configured for %s", day)
	}
	return cred, nil
}

var _ groupsync.CredentialProvider = StaticCredentials{}
