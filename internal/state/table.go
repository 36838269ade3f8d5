package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/njoerd114/medsync/internal/model"
)

// scanner matches both *sql.Row and *sql.Rows so scan functions can be reused.
type scanner interface {
	Scan(dest ...any) error
}

// tableDef describes how one record type maps onto its table. columns[0] is
// always the primary key "id".
type tableDef[T any] struct {
	name       string
	collection model.Collection
	columns    []string
	args       func(T) []any
	scan       func(scanner) (T, error)
}

// Table is the local store for one collection.
type Table[T any] struct {
	db  *sql.DB
	def tableDef[T]
}

// ReadAll returns every record of the collection that falls inside scope.
func (t *Table[T]) ReadAll(ctx context.Context, scope model.Scope) ([]T, error) {
	where, args, ok := scopeClause(t.def.collection, scope)
	if !ok {
		return nil, nil
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(t.def.columns, ", "), t.def.name, where)
	rows, err := t.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", t.def.name, err)
	}
	defer func() { _ = rows.Close() }()

	var out []T
	for rows.Next() {
		rec, err := t.def.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", t.def.name, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertAll writes records in a single transaction, replacing any existing
// row with the same id. Either every record is written or none is.
func (t *Table[T]) UpsertAll(ctx context.Context, records []T) (err error) {
	if len(records) == 0 {
		return nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning %s transaction: %w", t.def.name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, t.upsertSQL())
	if err != nil {
		return fmt.Errorf("preparing %s upsert: %w", t.def.name, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		if _, err = stmt.ExecContext(ctx, t.def.args(rec)...); err != nil {
			return fmt.Errorf("upserting into %s: %w", t.def.name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", t.def.name, err)
	}
	return nil
}

// upsertSQL builds INSERT ... ON CONFLICT(id) DO UPDATE for every non-key column.
func (t *Table[T]) upsertSQL() string {
	cols := t.def.columns
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		t.def.name, strings.Join(cols, ", "), placeholders, strings.Join(sets, ", "))
}

// scopeClause translates a scope into a WHERE clause for collection c. It
// returns ok=false when the scope can match no rows (an empty medication set).
func scopeClause(c model.Collection, scope model.Scope) (where string, args []any, ok bool) {
	var conds []string

	if c.OwnedViaMedication() {
		if len(scope.MedicationIDs) == 0 {
			return "", nil, false
		}
		conds = append(conds, "medication_id IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(scope.MedicationIDs)), ", ")+")")
		for _, id := range scope.MedicationIDs {
			args = append(args, id)
		}
	} else {
		conds = append(conds, "owner_id = ?")
		args = append(args, scope.OwnerID)
	}

	if c.Windowed() && scope.ScheduledAfter > 0 {
		conds = append(conds, "scheduled_time >= ?")
		args = append(args, scope.ScheduledAfter)
	}

	return strings.Join(conds, " AND "), args, true
}

// --- table definitions -------------------------------------------------------

var medicationsDef = tableDef[model.Medication]{
	name:       "medications",
	collection: model.Medications,
	columns:    []string{"id", "owner_id", "name", "dosage", "form", "instructions", "active", "created_at", "updated_at"},
	args: func(m model.Medication) []any {
		return []any{m.ID, m.OwnerID, m.Name, m.Dosage, m.Form, m.Instructions, m.Active, m.CreatedAt, m.UpdatedAt}
	},
	scan: func(s scanner) (model.Medication, error) {
		var m model.Medication
		err := s.Scan(&m.ID, &m.OwnerID, &m.Name, &m.Dosage, &m.Form, &m.Instructions, &m.Active, &m.CreatedAt, &m.UpdatedAt)
		return m, err
	},
}

var schedulesDef = tableDef[model.Schedule]{
	name:       "schedules",
	collection: model.Schedules,
	columns:    []string{"id", "medication_id", "time_of_day", "days_of_week", "enabled", "created_at"},
	args: func(s model.Schedule) []any {
		return []any{s.ID, s.MedicationID, s.TimeOfDay, s.DaysOfWeek, s.Enabled, s.CreatedAt}
	},
	scan: func(sc scanner) (model.Schedule, error) {
		var s model.Schedule
		err := sc.Scan(&s.ID, &s.MedicationID, &s.TimeOfDay, &s.DaysOfWeek, &s.Enabled, &s.CreatedAt)
		return s, err
	},
}

var adherenceLogsDef = tableDef[model.AdherenceLog]{
	name:       "adherence_logs",
	collection: model.AdherenceLogs,
	columns:    []string{"id", "owner_id", "medication_id", "schedule_id", "scheduled_time", "taken_time", "status", "timestamp"},
	args: func(a model.AdherenceLog) []any {
		var taken sql.NullInt64
		if a.TakenTime != nil {
			taken = sql.NullInt64{Int64: *a.TakenTime, Valid: true}
		}
		return []any{a.ID, a.OwnerID, a.MedicationID, a.ScheduleID, a.ScheduledTime, taken, string(a.Status), a.Timestamp}
	},
	scan: func(s scanner) (model.AdherenceLog, error) {
		var a model.AdherenceLog
		var taken sql.NullInt64
		var status string
		err := s.Scan(&a.ID, &a.OwnerID, &a.MedicationID, &a.ScheduleID, &a.ScheduledTime, &taken, &status, &a.Timestamp)
		if taken.Valid {
			v := taken.Int64
			a.TakenTime = &v
		}
		a.Status = model.AdherenceStatus(status)
		return a, err
	},
}

var refillsDef = tableDef[model.Refill]{
	name:       "refills",
	collection: model.Refills,
	columns:    []string{"id", "medication_id", "quantity", "pharmacy", "refill_date", "next_refill_date", "updated_at"},
	args: func(r model.Refill) []any {
		return []any{r.ID, r.MedicationID, r.Quantity, r.Pharmacy, r.RefillDate, r.NextRefillDate, r.UpdatedAt}
	},
	scan: func(s scanner) (model.Refill, error) {
		var r model.Refill
		err := s.Scan(&r.ID, &r.MedicationID, &r.Quantity, &r.Pharmacy, &r.RefillDate, &r.NextRefillDate, &r.UpdatedAt)
		return r, err
	},
}

var reportsDef = tableDef[model.Report]{
	name:       "reports",
	collection: model.Reports,
	columns:    []string{"id", "owner_id", "title", "period_start", "period_end", "adherence_rate", "content", "created_at"},
	args: func(r model.Report) []any {
		return []any{r.ID, r.OwnerID, r.Title, r.PeriodStart, r.PeriodEnd, r.AdherenceRate, r.Content, r.CreatedAt}
	},
	scan: func(s scanner) (model.Report, error) {
		var r model.Report
		err := s.Scan(&r.ID, &r.OwnerID, &r.Title, &r.PeriodStart, &r.PeriodEnd, &r.AdherenceRate, &r.Content, &r.CreatedAt)
		return r, err
	},
}
