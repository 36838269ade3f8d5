package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/njoerd114/medsync/internal/model"
)

// pipeline reconciles one collection. The five collections share this code
// and differ only in their stores and in how id and timestamp are read.
type pipeline[T any] struct {
	collection  model.Collection
	local       LocalStore[T]
	remote      RemoteStore[T]
	idOf        func(T) string
	timestampOf func(T) int64
	log         *slog.Logger
}

// run executes fetch local → fetch remote → merge → push → persist for
// scope. On success it also returns the merged snapshot. If stage is non-nil
// it tracks the step in progress, so a caller recovering from a panic can
// report where it happened.
func (p pipeline[T]) run(ctx context.Context, scope model.Scope, stage *Stage) (Outcome, []T) {
	out := Outcome{Collection: p.collection}
	log := p.log.With("collection", p.collection)
	enter := func(s Stage) {
		if stage != nil {
			*stage = s
		}
	}

	fail := func(stage Stage, what string, err error) (Outcome, []T) {
		out.Stage = stage
		out.Message = fmt.Sprintf("%s: %s: %v", p.collection, what, err)
		log.Error("collection sync failed", "stage", stage, "error", err)
		return out, nil
	}

	// 1. Local snapshot.
	enter(StageFetchingLocal)
	if err := ctx.Err(); err != nil {
		return fail(StageFetchingLocal, "cancelled", err)
	}
	local, err := p.local.ReadAll(ctx, scope)
	if err != nil {
		return fail(StageFetchingLocal, "reading local", err)
	}

	// 2. Remote snapshot. No local-only fallback: persisting a merge that
	// never saw the remote side could regress earlier reconciliations.
	enter(StageFetchingRemote)
	remote, err := p.remote.FetchFiltered(ctx, scope)
	if err != nil {
		return fail(StageFetchingRemote, "fetching remote", err)
	}

	// 3. Merge.
	enter(StageMerging)
	merged := Merge(local, remote, p.idOf, p.timestampOf)
	log.Debug("merged snapshots", "local", len(local), "remote", len(remote), "merged", len(merged))

	// 4. Best-effort push. A failed record stays in the merged set and is
	// retried on the next sync.
	enter(StagePushingRemote)
	for _, rec := range merged {
		if err := p.remote.UpsertOne(ctx, rec); err != nil {
			id := p.idOf(rec)
			out.FailedPushIDs = append(out.FailedPushIDs, id)
			log.Warn("push failed", "id", id, "error", err)
			continue
		}
		out.Pushed++
	}

	// 5. Persist as one transaction.
	enter(StagePersistingLocal)
	if err := ctx.Err(); err != nil {
		return fail(StagePersistingLocal, "cancelled before persisting", err)
	}
	if err := p.local.UpsertAll(ctx, merged); err != nil {
		return fail(StagePersistingLocal, "persisting local", err)
	}

	enter(StageDone)
	out.Success = true
	out.Stage = StageDone
	out.MergedCount = len(merged)
	if n := len(out.FailedPushIDs); n > 0 {
		out.Message = fmt.Sprintf("%s: %d of %d records not pushed", p.collection, n, len(merged))
	}

	log.Info("collection synced",
		"merged", out.MergedCount,
		"pushed", out.Pushed,
		"push_failures", len(out.FailedPushIDs),
	)
	return out, merged
}
