package groupsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/relves/groupsync/pkg/types"
)

// Update is a finished group update handed to the Store.
type Update struct {
	GroupID     types.GroupID
	Attributes  *types.GroupAttributes
	Timeline    []types.TimelineEntry
	ProfileKeys []types.ProfileKeyUpdate
	Avatars     []AvatarBlob
}

// UpdateOptions describes one update request.
type UpdateOptions struct {
	ChangeBlob     []byte
	TargetRevision *uint32
	// ReceivedAt defaults to the time the job runs.
	ReceivedAt time.Time
	// SentAt is when the triggering message was sent. Timeline entries are
	// stamped just before it. Defaults to ReceivedAt.
	SentAt                 time.Time
	DropInitialJoinMessage bool
}

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	Engine *Engine
	Store  Store
	// Inbound is optional. When set, each job waits for it to drain first.
	Inbound InboundQueue
	// RefreshConcurrency bounds RefreshAll. Default 4.
	RefreshConcurrency int

	Logger  *slog.Logger
	Metrics *Metrics
	Now     func() time.Time
}

// Orchestrator serializes updates per group. Requests for one group run in
// the order they were made, one at a time; distinct groups run independently.
type Orchestrator struct {
	engine  *Engine
	store   Store
	inbound InboundQueue
	limit   int
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu     sync.Mutex
	queues map[types.GroupID]*groupQueue
	wg     sync.WaitGroup
}

type groupQueue struct {
	jobs []job
}

type job struct {
	opts UpdateOptions
	done chan struct{}
}

// NewOrchestrator returns an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.RefreshConcurrency <= 0 {
		cfg.RefreshConcurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = cfg.Engine.logger
	}
	if cfg.Metrics == nil {
		cfg.Metrics = cfg.Engine.metrics
	}
	if cfg.Now == nil {
		cfg.Now = cfg.Engine.now
	}
	return &Orchestrator{
		engine:  cfg.Engine,
		store:   cfg.Store,
		inbound: cfg.Inbound,
		limit:   cfg.RefreshConcurrency,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
		queues:  make(map[types.GroupID]*groupQueue),
	}, nil
}

// RequestGroupUpdate queues an update for id behind any earlier request for
// the same group. The returned channel is closed once it has finished,
// whether or not it succeeded. Failures are logged, not returned.
func (o *Orchestrator) RequestGroupUpdate(ctx context.Context, id types.GroupID, opts UpdateOptions) <-chan struct{} {
	j := job{opts: opts, done: make(chan struct{})}

	o.mu.Lock()
	q, running := o.queues[id]
	if !running {
		q = &groupQueue{}
		o.queues[id] = q
		o.wg.Add(1)
	}
	q.jobs = append(q.jobs, j)
	o.mu.Unlock()

	if !running {
		go o.drain(context.WithoutCancel(ctx), id, q)
	}
	return j.done
}

// drain runs the group's jobs until its queue is empty, then retires the
// queue so the next request starts a fresh worker.
func (o *Orchestrator) drain(ctx context.Context, id types.GroupID, q *groupQueue) {
	defer o.wg.Done()
	for {
		o.mu.Lock()
		if len(q.jobs) == 0 {
			delete(o.queues, id)
			o.mu.Unlock()
			return
		}
		j := q.jobs[0]
		q.jobs = q.jobs[1:]
		o.mu.Unlock()

		o.run(ctx, id, j.opts)
		close(j.done)
	}
}

func (o *Orchestrator) run(ctx context.Context, id types.GroupID, opts UpdateOptions) {
	start := time.Now()
	err := o.updateGroup(ctx, id, opts)
	o.metrics.updateDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		o.logger.Error("group update failed", "group", fmt.Sprintf("groupv2(%s)", id), "error", err)
		o.metrics.updatesTotal.WithLabelValues("error").Inc()
		return
	}
	o.metrics.updatesTotal.WithLabelValues("ok").Inc()
}

func (o *Orchestrator) updateGroup(ctx context.Context, id types.GroupID, opts UpdateOptions) error {
	if o.inbound != nil {
		if err := o.inbound.WaitForEmpty(ctx); err != nil {
			return fmt.Errorf("wait for inbound queue: %w", err)
		}
	}

	group, err := o.store.LoadGroup(ctx, id)
	if err != nil {
		return fmt.Errorf("load group: %w", err)
	}
	res, err := o.engine.GetGroupUpdates(ctx, group, UpdateRequest{
		ChangeBlob:             opts.ChangeBlob,
		TargetRevision:         opts.TargetRevision,
		DropInitialJoinMessage: opts.DropInitialJoinMessage,
	})
	if err != nil {
		return err
	}
	if res.Attributes == group && len(res.Events) == 0 {
		o.logger.Debug("group unchanged", "group", group.LogID())
		return nil
	}

	update := &Update{
		GroupID:     id,
		Attributes:  res.Attributes,
		Timeline:    o.stamp(id, res.Events, opts),
		ProfileKeys: res.ProfileKeys,
		Avatars:     res.Avatars,
	}
	if err := o.store.SaveUpdate(ctx, update); err != nil {
		return fmt.Errorf("save update: %w", err)
	}
	o.logger.Info("group updated", "group", group.LogID(),
		"revision", revisionAttr(res.Attributes.Revision), "events", len(update.Timeline))
	return nil
}

// stamp gives events strictly increasing sent times that end one
// millisecond before the triggering message, so they sort ahead of it.
func (o *Orchestrator) stamp(id types.GroupID, events []types.Event, opts UpdateOptions) []types.TimelineEntry {
	received := opts.ReceivedAt
	if received.IsZero() {
		received = o.now()
	}
	sent := opts.SentAt
	if sent.IsZero() {
		sent = received
	}

	n := len(events)
	entries := make([]types.TimelineEntry, 0, n)
	for i, ev := range events {
		entries = append(entries, types.TimelineEntry{
			ID:         uuid.NewString(),
			GroupID:    id,
			Event:      ev,
			SentAt:     sent.Add(time.Duration(i-n) * time.Millisecond),
			ReceivedAt: received,
		})
	}
	return entries
}

// RefreshAll requests a full update of every group in ids and waits for
// them, running at most RefreshConcurrency groups at once.
func (o *Orchestrator) RefreshAll(ctx context.Context, ids []types.GroupID) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.limit)
	for _, id := range ids {
		g.Go(func() error {
			select {
			case <-o.RequestGroupUpdate(ctx, id, UpdateOptions{}):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}

// Wait blocks until every queued update has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
