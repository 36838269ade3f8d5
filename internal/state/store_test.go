package state

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/njoerd114/medsync/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-local.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ids[T interface{ Key() string }](recs []T) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Key())
	}
	sort.Strings(out)
	return out
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := openTestStore(t)
	counts, err := s.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts after open: %v", err)
	}
	for _, c := range model.AllCollections {
		if counts[c] != 0 {
			t.Errorf("%s count = %d, want 0", c, counts[c])
		}
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s1.Medications.UpsertAll(context.Background(), []model.Medication{{ID: "m1", OwnerID: "u1"}}); err != nil {
		t.Fatalf("UpsertAll: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("s1.Close: %v", err)
	}

	// Re-opening the same file must not fail or wipe data.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer func() { _ = s2.Close() }()
	got, err := s2.Medications.ReadAll(context.Background(), model.Scope{OwnerID: "u1"})
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("medications after reopen = %d, want 1", len(got))
	}
}

func TestMedications_UpsertReplacesByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := model.Medication{ID: "m1", OwnerID: "u1", Name: "Aspirin", Active: true, UpdatedAt: 1000}
	if err := s.Medications.UpsertAll(ctx, []model.Medication{first}); err != nil {
		t.Fatalf("UpsertAll: %v", err)
	}

	second := first
	second.Name = "Aspirin 325mg"
	second.UpdatedAt = 2000
	if err := s.Medications.UpsertAll(ctx, []model.Medication{second}); err != nil {
		t.Fatalf("UpsertAll (replace): %v", err)
	}

	got, err := s.Medications.ReadAll(ctx, model.Scope{OwnerID: "u1"})
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("medications = %d, want 1", len(got))
	}
	if got[0] != second {
		t.Errorf("medication = %+v, want %+v", got[0], second)
	}
}

func TestMedications_ScopedByOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Medications.UpsertAll(ctx, []model.Medication{
		{ID: "m1", OwnerID: "u1"},
		{ID: "m2", OwnerID: "u1"},
		{ID: "m3", OwnerID: "u2"},
	})
	if err != nil {
		t.Fatalf("UpsertAll: %v", err)
	}

	got, err := s.Medications.ReadAll(ctx, model.Scope{OwnerID: "u1"})
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if g := ids(got); len(g) != 2 || g[0] != "m1" || g[1] != "m2" {
		t.Errorf("ids = %v, want [m1 m2]", g)
	}
}

func TestSchedules_ScopedByMedicationIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Schedules.UpsertAll(ctx, []model.Schedule{
		{ID: "s1", MedicationID: "m1", TimeOfDay: "08:00", DaysOfWeek: 0x7f, Enabled: true, CreatedAt: 10},
		{ID: "s2", MedicationID: "m2", TimeOfDay: "20:00"},
		{ID: "s3", MedicationID: "m9", TimeOfDay: "12:00"},
	})
	if err != nil {
		t.Fatalf("UpsertAll: %v", err)
	}

	got, err := s.Schedules.ReadAll(ctx, model.Scope{OwnerID: "u1", MedicationIDs: []string{"m1", "m2"}})
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if g := ids(got); len(g) != 2 || g[0] != "s1" || g[1] != "s2" {
		t.Errorf("ids = %v, want [s1 s2]", g)
	}

	for _, sc := range got {
		if sc.ID == "s1" && (!sc.Enabled || sc.DaysOfWeek != 0x7f || sc.CreatedAt != 10) {
			t.Errorf("s1 round-trip = %+v", sc)
		}
	}
}

func TestRefills_EmptyMedicationSetMatchesNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Refills.UpsertAll(ctx, []model.Refill{{ID: "r1", MedicationID: "m1"}}); err != nil {
		t.Fatalf("UpsertAll: %v", err)
	}
	got, err := s.Refills.ReadAll(ctx, model.Scope{OwnerID: "u1"})
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("refills = %d, want 0 for empty medication set", len(got))
	}
}

func TestAdherenceLogs_WindowAndTakenTime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	taken := int64(1500)
	err := s.AdherenceLogs.UpsertAll(ctx, []model.AdherenceLog{
		{ID: "a-old", OwnerID: "u1", ScheduledTime: 500, Status: model.StatusMissed, Timestamp: 500},
		{ID: "a-new", OwnerID: "u1", ScheduledTime: 1400, TakenTime: &taken, Status: model.StatusTaken, Timestamp: 1500},
		{ID: "a-other", OwnerID: "u2", ScheduledTime: 1400, Timestamp: 1400},
	})
	if err != nil {
		t.Fatalf("UpsertAll: %v", err)
	}

	got, err := s.AdherenceLogs.ReadAll(ctx, model.Scope{OwnerID: "u1", ScheduledAfter: 1000})
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a-new" {
		t.Fatalf("adherence logs = %+v, want only a-new", got)
	}
	if got[0].TakenTime == nil || *got[0].TakenTime != 1500 {
		t.Errorf("TakenTime = %v, want 1500", got[0].TakenTime)
	}
	if got[0].Status != model.StatusTaken {
		t.Errorf("Status = %q, want %q", got[0].Status, model.StatusTaken)
	}

	all, err := s.AdherenceLogs.ReadAll(ctx, model.Scope{OwnerID: "u1"})
	if err != nil {
		t.Fatalf("ReadAll unbounded: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("unbounded adherence logs = %d, want 2", len(all))
	}
	for _, a := range all {
		if a.ID == "a-old" && a.TakenTime != nil {
			t.Errorf("a-old TakenTime = %v, want nil", *a.TakenTime)
		}
	}
}

func TestReports_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := model.Report{ID: "rep1", OwnerID: "u1", Title: "March", PeriodStart: 1, PeriodEnd: 2, AdherenceRate: 0.875, Content: "ok", CreatedAt: 3}
	if err := s.Reports.UpsertAll(ctx, []model.Report{want}); err != nil {
		t.Fatalf("UpsertAll: %v", err)
	}
	got, err := s.Reports.ReadAll(ctx, model.Scope{OwnerID: "u1"})
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 || got[0] != want {
		t.Errorf("reports = %+v, want [%+v]", got, want)
	}
}

func TestUpsertAll_CancelledContextWritesNothing(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Medications.UpsertAll(ctx, []model.Medication{{ID: "m1", OwnerID: "u1"}, {ID: "m2", OwnerID: "u1"}})
	if err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}

	got, err := s.Medications.ReadAll(context.Background(), model.Scope{OwnerID: "u1"})
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("medications = %d, want 0 after aborted write", len(got))
	}
}

func TestUpsertAll_Empty(t *testing.T) {
	s := openTestStore(t)
	if err := s.Reports.UpsertAll(context.Background(), nil); err != nil {
		t.Errorf("UpsertAll(nil) = %v, want nil", err)
	}
}

func TestCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Schedules.UpsertAll(ctx, []model.Schedule{{ID: "s1", MedicationID: "m1"}, {ID: "s2", MedicationID: "m1"}}); err != nil {
		t.Fatalf("UpsertAll: %v", err)
	}
	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[model.Schedules] != 2 {
		t.Errorf("schedules count = %d, want 2", counts[model.Schedules])
	}
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

func TestSession_Lifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	owner, err := s.Session(ctx)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if owner != "" {
		t.Errorf("initial session = %q, want empty", owner)
	}

	if err := s.SetSession(ctx, "u1"); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if err := s.SetSession(ctx, "u2"); err != nil {
		t.Fatalf("SetSession (replace): %v", err)
	}
	if owner, _ = s.Session(ctx); owner != "u2" {
		t.Errorf("session = %q, want u2", owner)
	}

	if err := s.ClearSession(ctx); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if owner, _ = s.Session(ctx); owner != "" {
		t.Errorf("session after clear = %q, want empty", owner)
	}
}

func TestScopeClause(t *testing.T) {
	tests := []struct {
		name     string
		c        model.Collection
		scope    model.Scope
		want     string
		wantArgs int
		wantOK   bool
	}{
		{"owner", model.Medications, model.Scope{OwnerID: "u"}, "owner_id = ?", 1, true},
		{"via medication", model.Refills, model.Scope{MedicationIDs: []string{"a", "b"}}, "medication_id IN (?, ?)", 2, true},
		{"empty medication set", model.Schedules, model.Scope{OwnerID: "u"}, "", 0, false},
		{"window", model.AdherenceLogs, model.Scope{OwnerID: "u", ScheduledAfter: 9}, "owner_id = ? AND scheduled_time >= ?", 2, true},
		{"window ignored elsewhere", model.Reports, model.Scope{OwnerID: "u", ScheduledAfter: 9}, "owner_id = ?", 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args, ok := scopeClause(tt.c, tt.scope)
			if ok != tt.wantOK || got != tt.want || len(args) != tt.wantArgs {
				t.Errorf("scopeClause = (%q, %v, %v), want (%q, %d args, %v)", got, args, ok, tt.want, tt.wantArgs, tt.wantOK)
			}
		})
	}
}
