// Package remote talks to the group service over HTTP.
package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/relves/groupsync/pkg/groupsync"
	"github.com/relves/groupsync/pkg/wire"
)

const (
	// ContentType is the media type of request and response bodies.
	ContentType = "application/cbor"

	// HeaderPublicParams carries the group's public params, base64url encoded.
	HeaderPublicParams = "X-Group-Public-Params"

	maxBodySize = 8 << 20
)

// Client implements groupsync.RemoteService and groupsync.AvatarFetcher.
type Client struct {
	baseURL    string
	avatarURL  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client, which has a 30s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAvatarURL sets where avatar blobs are downloaded from. Defaults to
// the service URL.
func WithAvatarURL(u string) Option {
	return func(c *Client) {
		c.avatarURL = strings.TrimRight(u, "/")
	}
}

// WithRateLimit paces requests to rps with the given burst. rps <= 0
// disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient returns a client for the group service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL:   baseURL,
		avatarURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchLogPage fetches the change log starting at revision from.
func (c *Client) FetchLogPage(ctx context.Context, group groupsync.GroupParams, from uint32, cred groupsync.Credential) (*wire.LogPage, error) {
	u := fmt.Sprintf("%s/v2/groups/%s/logs/%d", c.baseURL, url.PathEscape(string(group.ID)), from)
	body, err := c.get(ctx, u, group, cred)
	if err != nil {
		return nil, err
	}
	var page wire.LogPage
	if err := wire.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode log page: %w", err)
	}
	return &page, nil
}

// FetchFullState fetches the group's current encrypted state.
func (c *Client) FetchFullState(ctx context.Context, group groupsync.GroupParams, cred groupsync.Credential) (*wire.Group, error) {
	u := fmt.Sprintf("%s/v2/groups/%s", c.baseURL, url.PathEscape(string(group.ID)))
	body, err := c.get(ctx, u, group, cred)
	if err != nil {
		return nil, err
	}
	var state wire.Group
	if err := wire.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("failed to decode group state: %w", err)
	}
	return &state, nil
}

// FetchAvatar downloads the encrypted avatar blob at ref.
func (c *Client) FetchAvatar(ctx context.Context, ref string) ([]byte, error) {
	u := fmt.Sprintf("%s/%s", c.avatarURL, strings.TrimLeft(ref, "/"))
	return c.get(ctx, u, groupsync.GroupParams{}, nil)
}

func (c *Client) get(ctx context.Context, u string, group groupsync.GroupParams, cred groupsync.Credential) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", ContentType)
	if len(cred) > 0 {
		req.Header.Set("Authorization", "Bearer "+base64.RawURLEncoding.EncodeToString(cred))
	}
	if len(group.PublicParams) > 0 {
		req.Header.Set(HeaderPublicParams, base64.RawURLEncoding.EncodeToString(group.PublicParams))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("group service request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return data, nil
	case groupsync.TemporalCredentialRejectedCode, groupsync.AccessDeniedCode:
		return nil, &groupsync.RemoteError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	default:
		c.logger.Debug("group service error", "url", u, "status", resp.StatusCode)
		return nil, fmt.Errorf("group service returned status %d", resp.StatusCode)
	}
}

var (
	_ groupsync.RemoteService = (*Client)(nil)
	_ groupsync.AvatarFetcher = (*Client)(nil)
)
