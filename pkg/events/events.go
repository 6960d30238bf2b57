package events

import (
	"context"
	"encoding/json"
	"time"
)

// Event is the base interface for merge-audit events. Keep payloads small and
// JSON-friendly: the store is replayable and must not couple to table schema.
type Event interface {
	Type() string
	FarmID() int64
	Timestamp() time.Time
	Reviewer() *string
	MarshalData() ([]byte, error)
}

// Base contains common event metadata.
type Base struct {
	Ts  time.Time `json:"ts"`
	FID int64     `json:"farm_id"`
	Rev *string   `json:"reviewer,omitempty"`
}

func (b Base) Timestamp() time.Time { return b.Ts }
func (b Base) FarmID() int64        { return b.FID }
func (b Base) Reviewer() *string    { return b.Rev }

// Event type names.
const (
	TypeFarmsMerged   = "farm.merged"
	TypeMergeQueued   = "farm.merge_queued"
	TypeMergeRejected = "farm.merge_rejected"
	TypeDedupRun      = "catalog.dedup_completed"
	TypeScrapeRun     = "catalog.scrape_completed"
)

// FarmsMerged is emitted when a duplicate farm is folded into a target,
// either automatically (high confidence) or by a reviewer.
type FarmsMerged struct {
	Base
	DuplicateID int64   `json:"duplicate_id"`
	Confidence  float64 `json:"confidence"`
	Rule        string  `json:"rule"`
	Auto        bool    `json:"auto"`
}

func (e FarmsMerged) Type() string                 { return TypeFarmsMerged }
func (e FarmsMerged) MarshalData() ([]byte, error) { return json.Marshal(e) }

// MergeQueued is emitted when a pair clears the merge bar but not the
// auto-merge confidence, and lands in the review queue.
type MergeQueued struct {
	Base
	DuplicateID int64   `json:"duplicate_id"`
	Confidence  float64 `json:"confidence"`
	Rule        string  `json:"rule"`
}

func (e MergeQueued) Type() string                 { return TypeMergeQueued }
func (e MergeQueued) MarshalData() ([]byte, error) { return json.Marshal(e) }

// MergeRejected is emitted when a reviewer declines a queued candidate.
type MergeRejected struct {
	Base
	DuplicateID int64  `json:"duplicate_id"`
	Reason      string `json:"reason,omitempty"`
}

func (e MergeRejected) Type() string                 { return TypeMergeRejected }
func (e MergeRejected) MarshalData() ([]byte, error) { return json.Marshal(e) }

// DedupRunCompleted summarizes one batch deduplication run. FarmID is zero:
// the event is catalog-wide.
type DedupRunCompleted struct {
	Base
	FarmsScanned  int64 `json:"farms_scanned"`
	PairsCompared int64 `json:"pairs_compared"`
	AutoMerged    int64 `json:"auto_merged"`
	Queued        int64 `json:"queued"`
	DurationMs    int64 `json:"duration_ms"`
}

func (e DedupRunCompleted) Type() string                 { return TypeDedupRun }
func (e DedupRunCompleted) MarshalData() ([]byte, error) { return json.Marshal(e) }

// ScrapeRunCompleted summarizes one scrape run for a roaster.
type ScrapeRunCompleted struct {
	Base
	Roaster    string `json:"roaster"`
	BeansFound int    `json:"beans_found"`
	BeansNew   int    `json:"beans_new"`
	Errors     int    `json:"errors"`
	DurationMs int64  `json:"duration_ms"`
}

func (e ScrapeRunCompleted) Type() string                 { return TypeScrapeRun }
func (e ScrapeRunCompleted) MarshalData() ([]byte, error) { return json.Marshal(e) }

// EventStore persists events in append order.
type EventStore interface {
	Append(ctx context.Context, ev ...Event) error
	ListByFarm(ctx context.Context, farmID int64) ([]StoredEvent, error)
}

// StoredEvent is an event row read back from the store.
type StoredEvent struct {
	ID       int64           `json:"id"`
	FarmID   int64           `json:"farm_id"`
	Type     string          `json:"type"`
	At       time.Time       `json:"at"`
	Reviewer *string         `json:"reviewer,omitempty"`
	Data     json.RawMessage `json:"data"`
}
