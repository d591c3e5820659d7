// Package groupcrypto decrypts and validates the opaque fields of group
// change records and snapshots.
package groupcrypto

import (
	"errors"
	"fmt"
)

// ProfileKeySize is the only valid profile key length.
const ProfileKeySize = 32

// ErrMalformed marks a record whose structural fields cannot be trusted.
// Applying such a record must abort.
var ErrMalformed = errors.New("malformed group record")

// ErrDecrypt is returned by Decryptor implementations for forged or
// corrupt ciphertext.
var ErrDecrypt = errors.New("group field decryption failed")

// Decryptor opens the per-field ciphertexts of one group. Each call may fail
// on malformed or forged input.
type Decryptor interface {
	DecryptIdentity(ciphertext []byte) (string, error)
	DecryptProfileKey(ciphertext []byte, id string) ([]byte, error)
	DecryptAttributeBlob(ciphertext []byte) ([]byte, error)
	DecryptPresentation(presentation []byte) (id string, profileKey []byte, err error)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
