package sync

import (
	"context"
	"fmt"
	"sync"

	"github.com/njoerd114/medsync/internal/model"
)

type keyedRecord interface {
	Key() string
}

// --- Fake local store --------------------------------------------------------

type fakeLocal[T keyedRecord] struct {
	mu      sync.Mutex
	records map[string]T
	order   []string

	readErr  error
	writeErr error

	scopes []model.Scope
	reads  int
	writes int
}

func newFakeLocal[T keyedRecord](recs ...T) *fakeLocal[T] {
	f := &fakeLocal[T]{records: make(map[string]T)}
	f.seed(recs...)
	return f
}

func (f *fakeLocal[T]) seed(recs ...T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range recs {
		if _, ok := f.records[r.Key()]; !ok {
			f.order = append(f.order, r.Key())
		}
		f.records[r.Key()] = r
	}
}

func (f *fakeLocal[T]) ReadAll(_ context.Context, scope model.Scope) ([]T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	f.scopes = append(f.scopes, scope)
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([]T, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.records[id])
	}
	return out, nil
}

func (f *fakeLocal[T]) UpsertAll(_ context.Context, recs []T) error {
	f.mu.Lock()
	f.writes++
	err := f.writeErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.seed(recs...)
	return nil
}

func (f *fakeLocal[T]) get(id string) (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	return r, ok
}

func (f *fakeLocal[T]) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeLocal[T]) calls() (reads, writes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads, f.writes
}

func (f *fakeLocal[T]) lastScope() model.Scope {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scopes) == 0 {
		return model.Scope{}
	}
	return f.scopes[len(f.scopes)-1]
}

// --- Fake remote store -------------------------------------------------------

type fakeRemote[T keyedRecord] struct {
	mu      sync.Mutex
	records map[string]T
	order   []string

	fetchErr   error
	pushErrs   map[string]error // id → error returned by UpsertOne
	panicFetch bool

	// started is closed on the first fetch; the fetch then waits on block.
	started chan struct{}
	block   chan struct{}
	onPush  func()

	scopes  []model.Scope
	fetches int
	pushes  int
}

func newFakeRemote[T keyedRecord](recs ...T) *fakeRemote[T] {
	f := &fakeRemote[T]{records: make(map[string]T), pushErrs: make(map[string]error)}
	for _, r := range recs {
		f.order = append(f.order, r.Key())
		f.records[r.Key()] = r
	}
	return f
}

func (f *fakeRemote[T]) FetchFiltered(_ context.Context, scope model.Scope) ([]T, error) {
	f.mu.Lock()
	f.fetches++
	f.scopes = append(f.scopes, scope)
	started, block := f.started, f.block
	if started != nil {
		f.started = nil
	}
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicFetch {
		panic("remote exploded")
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]T, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.records[id])
	}
	return out, nil
}

func (f *fakeRemote[T]) UpsertOne(_ context.Context, rec T) error {
	f.mu.Lock()
	hook := f.onPush
	f.pushes++
	if err, ok := f.pushErrs[rec.Key()]; ok {
		f.mu.Unlock()
		return err
	}
	if _, ok := f.records[rec.Key()]; !ok {
		f.order = append(f.order, rec.Key())
	}
	f.records[rec.Key()] = rec
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeRemote[T]) get(id string) (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	return r, ok
}

func (f *fakeRemote[T]) calls() (fetches, pushes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, f.pushes
}

func (f *fakeRemote[T]) lastScope() model.Scope {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scopes) == 0 {
		return model.Scope{}
	}
	return f.scopes[len(f.scopes)-1]
}

// --- Fake authenticator ------------------------------------------------------

type fakeAuth struct {
	owner string
}

func (a fakeAuth) CurrentOwnerID(context.Context) (string, bool) {
	return a.owner, a.owner != ""
}

// --- Store bundle ------------------------------------------------------------

type fakeStores struct {
	localMeds      *fakeLocal[model.Medication]
	localSchedules *fakeLocal[model.Schedule]
	localLogs      *fakeLocal[model.AdherenceLog]
	localRefills   *fakeLocal[model.Refill]
	localReports   *fakeLocal[model.Report]

	remoteMeds      *fakeRemote[model.Medication]
	remoteSchedules *fakeRemote[model.Schedule]
	remoteLogs      *fakeRemote[model.AdherenceLog]
	remoteRefills   *fakeRemote[model.Refill]
	remoteReports   *fakeRemote[model.Report]
}

func newFakeStores() *fakeStores {
	return &fakeStores{
		localMeds:      newFakeLocal[model.Medication](),
		localSchedules: newFakeLocal[model.Schedule](),
		localLogs:      newFakeLocal[model.AdherenceLog](),
		localRefills:   newFakeLocal[model.Refill](),
		localReports:   newFakeLocal[model.Report](),

		remoteMeds:      newFakeRemote[model.Medication](),
		remoteSchedules: newFakeRemote[model.Schedule](),
		remoteLogs:      newFakeRemote[model.AdherenceLog](),
		remoteRefills:   newFakeRemote[model.Refill](),
		remoteReports:   newFakeRemote[model.Report](),
	}
}

func (f *fakeStores) local() LocalSet {
	return LocalSet{
		Medications:   f.localMeds,
		Schedules:     f.localSchedules,
		AdherenceLogs: f.localLogs,
		Refills:       f.localRefills,
		Reports:       f.localReports,
	}
}

func (f *fakeStores) remote() RemoteSet {
	return RemoteSet{
		Medications:   f.remoteMeds,
		Schedules:     f.remoteSchedules,
		AdherenceLogs: f.remoteLogs,
		Refills:       f.remoteRefills,
		Reports:       f.remoteReports,
	}
}

// totalCalls sums every store call across all collections.
func (f *fakeStores) totalCalls() int {
	n := 0
	add := func(a, b int) { n += a + b }
	add(f.localMeds.calls())
	add(f.localSchedules.calls())
	add(f.localLogs.calls())
	add(f.localRefills.calls())
	add(f.localReports.calls())
	add(f.remoteMeds.calls())
	add(f.remoteSchedules.calls())
	add(f.remoteLogs.calls())
	add(f.remoteRefills.calls())
	add(f.remoteReports.calls())
	return n
}

// --- Record helpers ----------------------------------------------------------

func med(id, owner, name string, updatedAt int64) model.Medication {
	return model.Medication{ID: id, OwnerID: owner, Name: name, Active: true, CreatedAt: updatedAt, UpdatedAt: updatedAt}
}

func schedule(id, medID string, createdAt int64) model.Schedule {
	return model.Schedule{ID: id, MedicationID: medID, TimeOfDay: "08:00", DaysOfWeek: 0x7f, Enabled: true, CreatedAt: createdAt}
}

func refill(id, medID string, updatedAt int64) model.Refill {
	return model.Refill{ID: id, MedicationID: medID, Quantity: 30, UpdatedAt: updatedAt}
}

func adherence(id, owner string, scheduled, ts int64) model.AdherenceLog {
	return model.AdherenceLog{ID: id, OwnerID: owner, ScheduledTime: scheduled, Status: model.StatusTaken, Timestamp: ts}
}

func report(id, owner string, createdAt int64) model.Report {
	return model.Report{ID: id, OwnerID: owner, Title: fmt.Sprintf("report %s", id), CreatedAt: createdAt}
}
