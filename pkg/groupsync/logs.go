package groupsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/relves/groupsync/pkg/differ"
	"github.com/relves/groupsync/pkg/types"
	"github.com/relves/groupsync/pkg/wire"
)

// updateViaLogs replays the change log up to target with today's credential,
// restarting once with tomorrow's if today's is rejected.
func (e *Engine) updateViaLogs(ctx context.Context, group *types.GroupAttributes, target uint32) (*Result, error) {
	logger := e.logger.With("group", group.LogID())

	cred, err := e.credentials.Credential(ctx, Today)
	if err != nil {
		return nil, fmt.Errorf("credential for today: %w", err)
	}
	logger.Info("getting group delta", "from", revisionAttr(group.Revision), "to", target)
	res, err := e.groupDelta(ctx, group, target, cred)
	if !errors.Is(err, ErrTemporalCredentialRejected) {
		return res, err
	}

	logger.Info("credential for today failed, failing over to tomorrow")
	e.metrics.fallbacksTotal.WithLabelValues("log_tomorrow").Inc()
	cred, err = e.credentials.Credential(ctx, Tomorrow)
	if err != nil {
		return nil, fmt.Errorf("credential for tomorrow: %w", err)
	}
	return e.groupDelta(ctx, group, target, cred)
}

// groupDelta pages the log from the revision after group's through target.
// Each page starts after the previous page's end, so pages are fetched one
// at a time.
func (e *Engine) groupDelta(ctx context.Context, group *types.GroupAttributes, target uint32, cred Credential) (*Result, error) {
	var from uint32
	if !group.FirstFetch() {
		from = *group.Revision + 1
	}

	var pages []*wire.LogPage
	for {
		page, err := e.remote.FetchLogPage(ctx, paramsOf(group), from, cred)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
		if page.End == nil || *page.End >= target {
			break
		}
		if *page.End < from {
			return nil, fmt.Errorf("log page ended at %d before its start %d", *page.End, from)
		}
		from = *page.End + 1
	}

	return e.integrateChanges(ctx, group, target, pages)
}

// integrateChanges folds every log entry through integrateChange in order.
// An entry that fails is logged and skipped; a later entry more than one
// revision ahead then recovers via its snapshot.
func (e *Engine) integrateChanges(ctx context.Context, group *types.GroupAttributes, target uint32, pages []*wire.LogPage) (*Result, error) {
	logger := e.logger.With("group", group.LogID())

	attrs := group
	var (
		batches [][]types.Event
		keys    []types.ProfileKeyUpdate
		avatars []AvatarBlob
	)
	for _, page := range pages {
		for _, entry := range page.Changes {
			if entry.Change == nil {
				logger.Warn("log entry had no change; skipping", "has_state", entry.State != nil)
				continue
			}
			res, err := e.integrateChange(ctx, attrs, entry.Change, entry.State, target)
			if err != nil {
				logger.Error("failed to apply change log entry, continuing to apply remaining entries", "error", err)
				e.metrics.skippedChangesTotal.Inc()
				continue
			}
			attrs = res.Attributes
			batches = append(batches, res.Events)
			keys = append(keys, res.ProfileKeys...)
			avatars = append(avatars, res.Avatars...)
		}
	}

	out := &Result{
		Attributes:  attrs,
		ProfileKeys: keys,
		Avatars:     keepAvatars(attrs, avatars),
	}

	if group.FirstFetch() {
		// The first entry carries how we came to be in the group; everything
		// after it is summarised against the starting state.
		var events []types.Event
		if len(batches) > 0 && len(batches[0]) > 0 {
			events = append(events, batches[0][0])
		}
		others := differ.ExtractDiffs(group, attrs, differ.Options{
			OurID:                  e.ourID,
			DropInitialJoinMessage: len(events) > 0,
		})
		out.Events = differ.MergeAdjacent(append(events, others...))
		return out, nil
	}

	var events []types.Event
	for _, b := range batches {
		events = append(events, b...)
	}
	out.Events = differ.MergeAdjacent(events)
	return out, nil
}
