package sync

import (
	"errors"
	"fmt"
	"strings"

	"github.com/njoerd114/medsync/internal/model"
)

// ErrNotAuthenticated is reported when no owner can be resolved.
var ErrNotAuthenticated = errors.New("not authenticated")

// Stage is a step of the per-collection pipeline.
type Stage int

const (
	StageScoping Stage = iota
	StageFetchingLocal
	StageFetchingRemote
	StageMerging
	StagePushingRemote
	StagePersistingLocal
	StageDone
)

// String returns the stage name used in logs.
func (s Stage) String() string {
	switch s {
	case StageScoping:
		return "scoping"
	case StageFetchingLocal:
		return "fetching_local"
	case StageFetchingRemote:
		return "fetching_remote"
	case StageMerging:
		return "merging"
	case StagePushingRemote:
		return "pushing_remote"
	case StagePersistingLocal:
		return "persisting_local"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Outcome is the result of reconciling one collection.
type Outcome struct {
	Collection model.Collection

	// Success is false when the local read, remote fetch, or local write
	// failed. Push failures alone never clear it.
	Success bool

	// Message describes a failure or a partial push failure. Empty on a
	// clean sync.
	Message string

	// MergedCount is the number of records persisted locally.
	MergedCount int

	// Pushed is the number of records upserted to the remote store.
	Pushed int

	// FailedPushIDs lists records whose remote upsert failed. They are
	// persisted locally and will be pushed again on the next sync.
	FailedPushIDs []string

	// Stage is the stage the pipeline failed in, or StageDone.
	Stage Stage
}

// PartialPush reports whether the collection synced but some records were
// not delivered to the remote store.
func (o Outcome) PartialPush() bool {
	return o.Success && len(o.FailedPushIDs) > 0
}

// Result aggregates the outcomes of a full sync.
type Result struct {
	// Success is true only when every collection succeeded.
	Success bool

	// Message joins every non-empty collection message with "; ".
	Message string

	// TotalMergedCount sums MergedCount over all collections.
	TotalMergedCount int

	// Outcomes holds one entry per collection in [model.AllCollections]
	// order. Empty when the sync was rejected before any collection ran.
	Outcomes []Outcome
}

// Outcome returns the outcome for collection c, if it ran.
func (r Result) Outcome(c model.Collection) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Collection == c {
			return o, true
		}
	}
	return Outcome{}, false
}

// aggregate folds per-collection outcomes into a Result.
func aggregate(outcomes []Outcome) Result {
	res := Result{Success: true, Outcomes: outcomes}
	var msgs []string
	for _, o := range outcomes {
		if !o.Success {
			res.Success = false
		}
		if o.Message != "" {
			msgs = append(msgs, o.Message)
		}
		res.TotalMergedCount += o.MergedCount
	}
	res.Message = strings.Join(msgs, "; ")
	return res
}

// unauthenticated is the Result of a sync with no resolvable owner.
func unauthenticated() Result {
	return Result{Success: false, Message: ErrNotAuthenticated.Error()}
}

// cancelled is the Result handed to a caller that stopped waiting for a run.
func cancelled(err error) Result {
	return Result{Success: false, Message: fmt.Sprintf("sync cancelled: %v", err)}
}
