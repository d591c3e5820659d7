package groupcrypto

import (
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/relves/groupsync/pkg/types"
)

// MasterKeySize is the required length of a group master key.
const MasterKeySize = 32

// GroupFields are the values derived once from a group's master key.
type GroupFields struct {
	ID           types.GroupID
	SecretParams []byte
	PublicParams []byte
}

// DeriveGroupFields derives the secret params from masterKey, and the public
// params and group ID from the secret params.
func DeriveGroupFields(masterKey []byte) (*GroupFields, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(masterKey))
	}
	secret, err := hkdfExpand(masterKey, hkdfInfoSecret, 64)
	if err != nil {
		return nil, err
	}
	public, err := hkdfExpand(secret, hkdfInfoPublic, 32)
	if err != nil {
		return nil, err
	}
	id, err := hkdfExpand(secret, hkdfInfoID, 32)
	if err != nil {
		return nil, err
	}
	return &GroupFields{
		ID:           types.GroupID(base58.Encode(id)),
		SecretParams: secret,
		PublicParams: public,
	}, nil
}
