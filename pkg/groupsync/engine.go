// Package groupsync reconciles the local mirror of an encrypted group with
// the group service's change log.
package groupsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/relves/groupsync/pkg/groupcrypto"
	"github.com/relves/groupsync/pkg/types"
	"github.com/relves/groupsync/pkg/wire"
)

// Config configures an Engine.
type Config struct {
	// OurID is the local user's identifier. Required.
	OurID string

	Credentials  CredentialProvider
	Remote       RemoteService
	NewDecryptor DecryptorFactory
	// Avatars is optional; without it avatars are cleared.
	Avatars AvatarFetcher

	Logger  *slog.Logger
	Metrics *Metrics
	Now     func() time.Time
	// AvatarCacheSize bounds the decrypted avatar cache. Default 256.
	AvatarCacheSize int
}

// Engine computes group updates. It holds no per-group state and is safe
// for concurrent use across groups.
type Engine struct {
	ourID        string
	credentials  CredentialProvider
	remote       RemoteService
	newDecryptor DecryptorFactory
	avatars      AvatarFetcher
	avatarCache  *lru.Cache[string, []byte]
	logger       *slog.Logger
	metrics      *Metrics
	now          func() time.Time
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.OurID == "" {
		return nil, ErrMissingOurID
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential provider is required")
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote service is required")
	}
	if cfg.NewDecryptor == nil {
		cfg.NewDecryptor = func(secretParams []byte) (groupcrypto.Decryptor, error) {
			return groupcrypto.NewSealedCipher(secretParams)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AvatarCacheSize <= 0 {
		cfg.AvatarCacheSize = 256
	}
	cache, err := lru.New[string, []byte](cfg.AvatarCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create avatar cache: %w", err)
	}

	return &Engine{
		ourID:        cfg.OurID,
		credentials:  cfg.Credentials,
		remote:       cfg.Remote,
		newDecryptor: cfg.NewDecryptor,
		avatars:      cfg.Avatars,
		avatarCache:  cache,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		now:          cfg.Now,
	}, nil
}

// UpdateRequest describes why an update was triggered.
type UpdateRequest struct {
	// ChangeBlob is an encoded wire.Change delivered with a message, if any.
	ChangeBlob []byte
	// TargetRevision is the revision the triggering message refers to.
	TargetRevision *uint32
	// DropInitialJoinMessage suppresses the first-update event unless the
	// local user was invited.
	DropInitialJoinMessage bool
}

// Result is the outcome of one update. Attributes is a new value unless
// nothing changed, in which case it is the input.
type Result struct {
	Attributes  *types.GroupAttributes
	Events      []types.Event
	ProfileKeys []types.ProfileKeyUpdate
	Avatars     []AvatarBlob
}

func unchanged(group *types.GroupAttributes) *Result {
	return &Result{Attributes: group}
}

// GetGroupUpdates chooses an update path for group and runs it:
//  1. a single change exactly one revision ahead is applied directly;
//  2. otherwise, with a known target, the change log is replayed;
//  3. otherwise, or when the log is refused, the full state is fetched.
func (e *Engine) GetGroupUpdates(ctx context.Context, group *types.GroupAttributes, req UpdateRequest) (*Result, error) {
	if len(group.SecretParams) == 0 {
		return nil, ErrMissingParams
	}
	logger := e.logger.With("group", group.LogID())

	if len(req.ChangeBlob) > 0 && req.TargetRevision != nil {
		target := *req.TargetRevision
		initial := group.FirstFetch() && target == 0
		oneUp := !group.FirstFetch() && target == *group.Revision+1
		if initial || oneUp {
			change, err := wire.DecodeChange(req.ChangeBlob)
			switch {
			case err != nil:
				logger.Warn("unable to decode change, failing over", "error", err)
			case !change.Supported():
				logger.Info("change epoch unsupported, failing over", "epoch", *change.ChangeEpoch)
			default:
				logger.Info("processing just one change", "revision", target)
				e.metrics.pathsTotal.WithLabelValues("change").Inc()
				return e.integrateChange(ctx, group, change, nil, target)
			}
		}
	}

	day := Today
	if req.TargetRevision != nil {
		e.metrics.pathsTotal.WithLabelValues("log").Inc()
		res, err := e.updateViaLogs(ctx, group, *req.TargetRevision)
		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, ErrTemporalCredentialRejected):
			logger.Info("temporal credential failure, now fetching full group state")
			e.metrics.fallbacksTotal.WithLabelValues("log_credential").Inc()
			day = Tomorrow
		case errors.Is(err, ErrAccessDenied):
			logger.Info("log access denied, now fetching full group state")
			e.metrics.fallbacksTotal.WithLabelValues("log_access").Inc()
		default:
			return nil, err
		}
	}

	e.metrics.pathsTotal.WithLabelValues("state").Inc()
	return e.updateViaState(ctx, group, day, req.DropInitialJoinMessage)
}

func (e *Engine) validator(group *types.GroupAttributes) (*groupcrypto.Validator, error) {
	dec, err := e.newDecryptor(group.SecretParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create decryptor: %w", err)
	}
	return groupcrypto.NewValidator(dec, group.LogID(), groupcrypto.Config{
		Logger: e.logger,
		Now:    e.now,
		OnDrop: func(field string) {
			e.metrics.droppedFieldsTotal.WithLabelValues(field).Inc()
		},
	}), nil
}

func paramsOf(group *types.GroupAttributes) GroupParams {
	return GroupParams{ID: group.ID, PublicParams: group.PublicParams}
}
