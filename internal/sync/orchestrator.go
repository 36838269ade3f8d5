package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/njoerd114/medsync/internal/model"
)

const (
	// DefaultAdherenceWindow bounds how far back adherence logs are synced.
	DefaultAdherenceWindow = 30 * 24 * time.Hour

	// DefaultMaxConcurrency is the number of collections synced in parallel
	// after Medications.
	DefaultMaxConcurrency = 4
)

// Options tunes an [Orchestrator]. Zero values select the defaults.
type Options struct {
	// MaxConcurrency bounds parallel collection syncs. 1 runs them
	// sequentially.
	MaxConcurrency int

	// AdherenceWindow bounds AdherenceLogs by scheduled time. Negative
	// disables the bound.
	AdherenceWindow time.Duration
}

// Orchestrator runs the sync pipeline over every collection for the current
// owner. It is safe for concurrent use; overlapping SyncAll calls for the
// same owner share one run.
type Orchestrator struct {
	auth   Authenticator
	local  LocalSet
	remote RemoteSet
	cache  *ScopeCache
	flight singleflight.Group

	mu   sync.Mutex
	runs map[string]*sharedRun
	gen  uint64

	maxConcurrency int
	window         time.Duration
	now            func() time.Time
	log            *slog.Logger
}

// NewOrchestrator wires an Orchestrator. If cache is nil a private one is
// created.
func NewOrchestrator(auth Authenticator, local LocalSet, remote RemoteSet, cache *ScopeCache, opts Options, logger *slog.Logger) *Orchestrator {
	if cache == nil {
		cache = NewScopeCache()
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.AdherenceWindow == 0 {
		opts.AdherenceWindow = DefaultAdherenceWindow
	}
	return &Orchestrator{
		auth:           auth,
		local:          local,
		remote:         remote,
		cache:          cache,
		runs:           make(map[string]*sharedRun),
		maxConcurrency: opts.MaxConcurrency,
		window:         opts.AdherenceWindow,
		now:            time.Now,
		log:            logger,
	}
}

// sharedRun is the context of one in-flight full sync and the callers
// waiting on it. The run is cancelled once every waiter has gone.
type sharedRun struct {
	ctx     context.Context
	cancel  context.CancelFunc
	key     string
	waiters int
}

// SyncAll reconciles every collection for the current owner. It never
// returns an error: failures are reported through the Result.
//
// A caller whose ctx ends while the run is still going gets a cancelled
// Result at once. The run itself keeps going for any other caller that
// joined it and is cancelled only when the last one leaves.
func (o *Orchestrator) SyncAll(ctx context.Context) Result {
	owner, ok := o.auth.CurrentOwnerID(ctx)
	if !ok || owner == "" {
		o.log.Warn("sync skipped", "reason", ErrNotAuthenticated)
		return unauthenticated()
	}

	run := o.join(ctx, owner)
	defer o.leave(owner, run)

	ch := o.flight.DoChan(run.key, func() (any, error) {
		return o.syncAll(run.ctx, owner), nil
	})
	select {
	case r := <-ch:
		if r.Shared {
			o.log.Debug("joined in-flight sync", "owner", owner)
		}
		return r.Val.(Result)
	case <-ctx.Done():
		o.log.Info("caller left in-flight sync", "owner", owner, "error", ctx.Err())
		return cancelled(ctx.Err())
	}
}

// join registers the caller with the owner's in-flight run, starting a new
// one if none exists. The run's context keeps ctx's values but not its
// cancellation.
func (o *Orchestrator) join(ctx context.Context, owner string) *sharedRun {
	o.mu.Lock()
	defer o.mu.Unlock()

	if r, ok := o.runs[owner]; ok {
		r.waiters++
		return r
	}
	o.gen++
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &sharedRun{ctx: rctx, cancel: cancel, key: fmt.Sprintf("%s#%d", owner, o.gen), waiters: 1}
	o.runs[owner] = r
	return r
}

func (o *Orchestrator) leave(owner string, r *sharedRun) {
	o.mu.Lock()
	defer o.mu.Unlock()

	r.waiters--
	if r.waiters > 0 {
		return
	}
	r.cancel()
	if o.runs[owner] == r {
		delete(o.runs, owner)
	}
}

// SyncCollection reconciles a single collection for the current owner.
// Schedules and Refills are scoped by the medication ids of a full sync in
// progress when there is one, and by the local store otherwise.
func (o *Orchestrator) SyncCollection(ctx context.Context, c model.Collection) Outcome {
	owner, ok := o.auth.CurrentOwnerID(ctx)
	if !ok || owner == "" {
		return Outcome{Collection: c, Stage: StageScoping, Message: fmt.Sprintf("%s: %v", c, ErrNotAuthenticated)}
	}
	return o.syncCollection(ctx, c, owner)
}

func (o *Orchestrator) syncAll(ctx context.Context, owner string) Result {
	start := o.now()
	o.cache.Invalidate(owner)
	defer o.cache.Invalidate(owner)

	// Medications first: their merged ids scope Schedules and Refills.
	medications := o.syncCollection(ctx, model.Medications, owner)

	rest := []model.Collection{model.Schedules, model.Reports, model.AdherenceLogs, model.Refills}
	outcomes := make([]Outcome, len(rest))

	var g errgroup.Group
	g.SetLimit(o.maxConcurrency)
	for i, c := range rest {
		g.Go(func() error {
			outcomes[i] = o.syncCollection(ctx, c, owner)
			return nil
		})
	}
	_ = g.Wait()

	res := aggregate(append([]Outcome{medications}, outcomes...))
	o.log.Info("sync complete",
		"owner", owner,
		"success", res.Success,
		"merged", res.TotalMergedCount,
		"duration", o.now().Sub(start),
	)
	return res
}

// syncCollection runs one collection's pipeline and converts any panic into
// a failed outcome so that sibling collections still report.
func (o *Orchestrator) syncCollection(ctx context.Context, c model.Collection, owner string) (out Outcome) {
	stage := StageScoping
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("collection sync panicked", "collection", c, "stage", stage, "panic", r)
			out = Outcome{Collection: c, Stage: stage, Message: fmt.Sprintf("%s: internal error: %v", c, r)}
		}
	}()

	scope, err := o.scopeFor(ctx, c, owner)
	if err != nil {
		o.log.Error("collection sync failed", "collection", c, "stage", StageScoping, "error", err)
		return Outcome{Collection: c, Stage: StageScoping, Message: fmt.Sprintf("%s: %v", c, err)}
	}

	switch c {
	case model.Medications:
		res, merged := pipeline[model.Medication]{c, o.local.Medications, o.remote.Medications, model.Medication.Key, model.Medication.LastModified, o.log}.run(ctx, scope, &stage)
		if res.Success {
			o.cache.Put(owner, keysOf(merged))
		}
		return res
	case model.Schedules:
		res, _ := pipeline[model.Schedule]{c, o.local.Schedules, o.remote.Schedules, model.Schedule.Key, model.Schedule.LastModified, o.log}.run(ctx, scope, &stage)
		return res
	case model.AdherenceLogs:
		res, _ := pipeline[model.AdherenceLog]{c, o.local.AdherenceLogs, o.remote.AdherenceLogs, model.AdherenceLog.Key, model.AdherenceLog.LastModified, o.log}.run(ctx, scope, &stage)
		return res
	case model.Refills:
		res, _ := pipeline[model.Refill]{c, o.local.Refills, o.remote.Refills, model.Refill.Key, model.Refill.LastModified, o.log}.run(ctx, scope, &stage)
		return res
	case model.Reports:
		res, _ := pipeline[model.Report]{c, o.local.Reports, o.remote.Reports, model.Report.Key, model.Report.LastModified, o.log}.run(ctx, scope, &stage)
		return res
	default:
		return Outcome{Collection: c, Stage: StageScoping, Message: fmt.Sprintf("unknown collection %q", c)}
	}
}

// scopeFor builds the record filter for collection c.
func (o *Orchestrator) scopeFor(ctx context.Context, c model.Collection, owner string) (model.Scope, error) {
	scope := model.Scope{OwnerID: owner}

	if c.OwnedViaMedication() {
		ids, ok := o.cache.MedicationIDs(owner)
		if !ok {
			meds, err := o.local.Medications.ReadAll(ctx, model.Scope{OwnerID: owner})
			if err != nil {
				return scope, fmt.Errorf("reading owner medications: %w", err)
			}
			ids = keysOf(meds)
		}
		scope.MedicationIDs = ids
	}

	if c.Windowed() && o.window > 0 {
		scope.ScheduledAfter = model.Millis(o.now().Add(-o.window))
	}
	return scope, nil
}

func keysOf[T interface{ Key() string }](recs []T) []string {
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.Key())
	}
	return ids
}
