package groupcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfoFields = "groupsync/fields/v1"
	hkdfInfoSecret = "groupsync/secret-params/v1"
	hkdfInfoPublic = "groupsync/public-params/v1"
	hkdfInfoID     = "groupsync/group-id/v1"
)

// SealedCipher encrypts group fields with XChaCha20-Poly1305 under a key
// derived from the group's secret params. Ciphertexts are nonce||sealed.
type SealedCipher struct {
	key []byte
}

var _ Decryptor = (*SealedCipher)(nil)

// NewSealedCipher derives the field key from secretParams.
func NewSealedCipher(secretParams []byte) (*SealedCipher, error) {
	if len(secretParams) == 0 {
		return nil, fmt.Errorf("secret params are empty")
	}
	key, err := hkdfExpand(secretParams, hkdfInfoFields, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	return &SealedCipher{key: key}, nil
}

func (c *SealedCipher) seal(plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, ad), nil
}

func (c *SealedCipher) open(ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, sealed := ciphertext[:chacha20poly1305.NonceSizeX], ciphertext[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, sealed, ad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// EncryptIdentity seals a UUID identifier.
func (c *SealedCipher) EncryptIdentity(id string) ([]byte, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	return c.seal(u[:], []byte("identity"))
}

func (c *SealedCipher) DecryptIdentity(ciphertext []byte) (string, error) {
	plaintext, err := c.open(ciphertext, []byte("identity"))
	if err != nil {
		return "", err
	}
	u, err := uuid.FromBytes(plaintext)
	if err != nil {
		return "", ErrDecrypt
	}
	return u.String(), nil
}

// EncryptProfileKey seals key bound to the owning identifier.
func (c *SealedCipher) EncryptProfileKey(key []byte, id string) ([]byte, error) {
	return c.seal(key, []byte("profile-key:"+id))
}

func (c *SealedCipher) DecryptProfileKey(ciphertext []byte, id string) ([]byte, error) {
	return c.open(ciphertext, []byte("profile-key:"+id))
}

// EncryptAttributeBlob seals an encoded attribute blob.
func (c *SealedCipher) EncryptAttributeBlob(plaintext []byte) ([]byte, error) {
	return c.seal(plaintext, []byte("blob"))
}

func (c *SealedCipher) DecryptAttributeBlob(ciphertext []byte) ([]byte, error) {
	return c.open(ciphertext, []byte("blob"))
}

// EncryptPresentation seals an identifier together with its profile key.
func (c *SealedCipher) EncryptPresentation(id string, profileKey []byte) ([]byte, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	return c.seal(append(u[:], profileKey...), []byte("presentation"))
}

func (c *SealedCipher) DecryptPresentation(presentation []byte) (string, []byte, error) {
	plaintext, err := c.open(presentation, []byte("presentation"))
	if err != nil {
		return "", nil, err
	}
	if len(plaintext) < 16 {
		return "", nil, ErrDecrypt
	}
	u, err := uuid.FromBytes(plaintext[:16])
	if err != nil {
		return "", nil, ErrDecrypt
	}
	return u.String(), plaintext[16:], nil
}

func hkdfExpand(secret []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
