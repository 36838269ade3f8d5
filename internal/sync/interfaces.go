// Package sync implements the offline-first reconciliation engine for
// medsync. For each collection it reads the local and remote snapshots of one
// owner's records, merges them last-write-wins, pushes the merged set back to
// the remote side, and persists it locally.
//
// The package contains three main components:
//
//   - [Merge] and [Resolve] combine two snapshots of one collection.
//   - [Orchestrator] runs the per-collection pipeline for all collections
//     and aggregates the outcomes into a [Result].
//   - [Engine] wraps the orchestrator with telemetry and a polling loop.
package sync

import (
	"context"

	"github.com/njoerd114/medsync/internal/model"
)

// LocalStore is the local copy of one collection.
// Implemented by [state.Table].
type LocalStore[T any] interface {
	ReadAll(ctx context.Context, scope model.Scope) ([]T, error)
	// UpsertAll must write all records atomically, replacing by id.
	UpsertAll(ctx context.Context, records []T) error
}

// RemoteStore is the backend copy of one collection.
// Implemented by [remote.Collection].
type RemoteStore[T any] interface {
	FetchFiltered(ctx context.Context, scope model.Scope) ([]T, error)
	UpsertOne(ctx context.Context, record T) error
}

// Authenticator resolves the current owner.
// Implemented by [auth.Resolver].
type Authenticator interface {
	CurrentOwnerID(ctx context.Context) (string, bool)
}

// LocalSet groups the local stores of every collection.
type LocalSet struct {
	Medications   LocalStore[model.Medication]
	Schedules     LocalStore[model.Schedule]
	AdherenceLogs LocalStore[model.AdherenceLog]
	Refills       LocalStore[model.Refill]
	Reports       LocalStore[model.Report]
}

// RemoteSet groups the remote stores of every collection.
type RemoteSet struct {
	Medications   RemoteStore[model.Medication]
	Schedules     RemoteStore[model.Schedule]
	AdherenceLogs RemoteStore[model.AdherenceLog]
	Refills       RemoteStore[model.Refill]
	Reports       RemoteStore[model.Report]
}
