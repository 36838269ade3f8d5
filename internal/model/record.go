// Package model defines the record types synchronized between the local
// store and the remote backend, and the scope used to select one owner's
// share of each collection.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Collection names one of the synchronized record collections.
type Collection string

const (
	Medications   Collection = "medications"
	Schedules     Collection = "schedules"
	Reports       Collection = "reports"
	AdherenceLogs Collection = "adherence_logs"
	Refills       Collection = "refills"
)

// AllCollections lists every collection in the order a full sync reports them.
var AllCollections = []Collection{Medications, Schedules, Reports, AdherenceLogs, Refills}

// ParseCollection maps a collection name (case-insensitive, '-' or '_'
// separated) to a [Collection].
func ParseCollection(s string) (Collection, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, c := range AllCollections {
		if string(c) == norm {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown collection %q", s)
}

// OwnedViaMedication reports whether records of c carry no owner field and
// are scoped through their parent medication instead.
func (c Collection) OwnedViaMedication() bool {
	return c == Schedules || c == Refills
}

// Windowed reports whether c is additionally bounded by scheduled time.
func (c Collection) Windowed() bool {
	return c == AdherenceLogs
}

// Scope selects the records of one collection that belong to an owner.
type Scope struct {
	// OwnerID filters collections with a direct owner field.
	OwnerID string

	// MedicationIDs filters Schedules and Refills. An empty set matches
	// nothing.
	MedicationIDs []string

	// ScheduledAfter, in epoch milliseconds, bounds AdherenceLogs to entries
	// scheduled at or after this instant. Zero disables the bound.
	ScheduledAfter int64
}

// Millis converts t to epoch milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// AdherenceStatus records what happened to a scheduled dose.
type AdherenceStatus string

const (
	StatusTaken   AdherenceStatus = "taken"
	StatusMissed  AdherenceStatus = "missed"
	StatusSkipped AdherenceStatus = "skipped"
)

// Medication is a drug the owner takes. UpdatedAt drives conflict resolution.
type Medication struct {
	ID           string `json:"id" bson:"_id"`
	OwnerID      string `json:"ownerId" bson:"owner_id"`
	Name         string `json:"name" bson:"name"`
	Dosage       string `json:"dosage" bson:"dosage"`
	Form         string `json:"form" bson:"form"`
	Instructions string `json:"instructions" bson:"instructions"`
	Active       bool   `json:"active" bson:"active"`
	CreatedAt    int64  `json:"createdAt" bson:"created_at"`
	UpdatedAt    int64  `json:"updatedAt" bson:"updated_at"`
}

// Schedule is a recurring dose time for a medication. Schedules are never
// edited in place, so CreatedAt is their modification instant.
type Schedule struct {
	ID           string `json:"id" bson:"_id"`
	MedicationID string `json:"medicationId" bson:"medication_id"`
	// TimeOfDay is "HH:MM" in the owner's local time.
	TimeOfDay string `json:"timeOfDay" bson:"time_of_day"`
	// DaysOfWeek is a bitmask, bit 0 = Sunday.
	DaysOfWeek int   `json:"daysOfWeek" bson:"days_of_week"`
	Enabled    bool  `json:"enabled" bson:"enabled"`
	CreatedAt  int64 `json:"createdAt" bson:"created_at"`
}

// AdherenceLog records the outcome of one scheduled dose.
type AdherenceLog struct {
	ID            string          `json:"id" bson:"_id"`
	OwnerID       string          `json:"ownerId" bson:"owner_id"`
	MedicationID  string          `json:"medicationId" bson:"medication_id"`
	ScheduleID    string          `json:"scheduleId" bson:"schedule_id"`
	ScheduledTime int64           `json:"scheduledTime" bson:"scheduled_time"`
	TakenTime     *int64          `json:"takenTime,omitempty" bson:"taken_time,omitempty"`
	Status        AdherenceStatus `json:"status" bson:"status"`
	Timestamp     int64           `json:"timestamp" bson:"timestamp"`
}

// Refill tracks a pharmacy refill for a medication.
type Refill struct {
	ID             string `json:"id" bson:"_id"`
	MedicationID   string `json:"medicationId" bson:"medication_id"`
	Quantity       int    `json:"quantity" bson:"quantity"`
	Pharmacy       string `json:"pharmacy" bson:"pharmacy"`
	RefillDate     int64  `json:"refillDate" bson:"refill_date"`
	NextRefillDate int64  `json:"nextRefillDate" bson:"next_refill_date"`
	UpdatedAt      int64  `json:"updatedAt" bson:"updated_at"`
}

// Report is a generated adherence summary. Reports are immutable once
// created.
type Report struct {
	ID            string  `json:"id" bson:"_id"`
	OwnerID       string  `json:"ownerId" bson:"owner_id"`
	Title         string  `json:"title" bson:"title"`
	PeriodStart   int64   `json:"periodStart" bson:"period_start"`
	PeriodEnd     int64   `json:"periodEnd" bson:"period_end"`
	AdherenceRate float64 `json:"adherenceRate" bson:"adherence_rate"`
	Content       string  `json:"content" bson:"content"`
	CreatedAt     int64   `json:"createdAt" bson:"created_at"`
}

// LastModified returns the conflict-resolution instant of each record type.
// The underlying field differs per collection.

func (m Medication) LastModified() int64   { return m.UpdatedAt }
func (s Schedule) LastModified() int64     { return s.CreatedAt }
func (a AdherenceLog) LastModified() int64 { return a.Timestamp }
func (r Refill) LastModified() int64       { return r.UpdatedAt }
func (r Report) LastModified() int64       { return r.CreatedAt }

// Key returns the record's identity within its collection.

func (m Medication) Key() string   { return m.ID }
func (s Schedule) Key() string     { return s.ID }
func (a AdherenceLog) Key() string { return a.ID }
func (r Refill) Key() string       { return r.ID }
func (r Report) Key() string       { return r.ID }
