package groupsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"

	"github.com/relves/groupsync/pkg/groupcrypto"
	"github.com/relves/groupsync/pkg/types"
)

// AvatarBlob is a decrypted avatar image to be written at Path.
type AvatarBlob struct {
	Path string
	Data []byte
}

var errNoAvatarFetcher = errors.New("no avatar fetcher configured")

// ComputeHash returns the content identifier of data (CIDv1, raw codec,
// sha2-256).
func ComputeHash(data []byte) (string, error) {
	hash, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("failed to compute multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, hash).String(), nil
}

// ValidHash reports whether hash is a content identifier ComputeHash could
// have produced.
func ValidHash(hash string) bool {
	c, err := cid.Decode(hash)
	if err != nil || c.Version() != 1 || multicodec.Code(c.Type()) != multicodec.Raw {
		return false
	}
	return multicodec.Code(c.Prefix().MhType) == multicodec.Sha2_256
}

// AvatarPath is where an avatar with the given hash is stored.
func AvatarPath(hash string) string {
	return "avatars/" + hash
}

// applyAvatar points attrs at the avatar referenced by ref. It only downloads
// when ref changed, and returns a blob when new image bytes must be stored.
// Any failure clears the avatar.
func (e *Engine) applyAvatar(ctx context.Context, ref string, attrs *types.GroupAttributes, v *groupcrypto.Validator) *AvatarBlob {
	if ref == "" {
		attrs.Avatar = nil
		return nil
	}
	if attrs.Avatar != nil && attrs.Avatar.URL == ref {
		return nil
	}

	data, err := e.loadAvatar(ctx, attrs.ID, ref, v)
	if err != nil {
		e.logger.Warn("failed to handle avatar, clearing it", "group", attrs.LogID(), "error", err)
		attrs.Avatar = nil
		return nil
	}
	hash, err := ComputeHash(data)
	if err != nil {
		e.logger.Warn("failed to hash avatar, clearing it", "group", attrs.LogID(), "error", err)
		attrs.Avatar = nil
		return nil
	}

	if attrs.Avatar != nil && attrs.Avatar.Hash == hash {
		attrs.Avatar = &types.Avatar{URL: ref, Path: attrs.Avatar.Path, Hash: hash}
		return nil
	}
	path := AvatarPath(hash)
	attrs.Avatar = &types.Avatar{URL: ref, Path: path, Hash: hash}
	return &AvatarBlob{Path: path, Data: data}
}

func (e *Engine) loadAvatar(ctx context.Context, id types.GroupID, ref string, v *groupcrypto.Validator) ([]byte, error) {
	key := string(id) + "|" + ref
	if data, ok := e.avatarCache.Get(key); ok {
		return data, nil
	}
	if e.avatars == nil {
		return nil, errNoAvatarFetcher
	}
	ciphertext, err := e.avatars.FetchAvatar(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetch avatar: %w", err)
	}
	data, err := v.DecryptAvatar(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt avatar: %w", err)
	}
	e.avatarCache.Add(key, data)
	return data, nil
}

// keepAvatars returns the blobs still referenced by attrs.
func keepAvatars(attrs *types.GroupAttributes, blobs []AvatarBlob) []AvatarBlob {
	if attrs.Avatar == nil {
		return nil
	}
	for _, b := range blobs {
		if b.Path == attrs.Avatar.Path {
			return []AvatarBlob{b}
		}
	}
	return nil
}
