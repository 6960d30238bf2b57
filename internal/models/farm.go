package models

import (
	"time"
)

// FarmRecord is one roaster's textual description of a farm/producer pair,
// exactly as scraped. It is an immutable input to matching; ProducerName may
// be empty when the roaster does not publish one.
type FarmRecord struct {
	FarmName     string `json:"farm_name" db:"farm_name"`
	ProducerName string `json:"producer_name" db:"producer_name"`
}

// Farm is a canonical deduplicated farm entity in the catalog. Aliases holds
// the raw spellings that were merged into it.
type Farm struct {
	ID             int64      `json:"id" db:"id"`
	Name           string     `json:"name" db:"name"`
	NormalizedName string     `json:"normalized_name" db:"normalized_name"`
	ProducerName   string     `json:"producer_name" db:"producer_name"`
	Country        *string    `json:"country,omitempty" db:"country"`
	Region         *string    `json:"region,omitempty" db:"region"`
	Lat            *float64   `json:"lat,omitempty" db:"lat"`
	Lng            *float64   `json:"lng,omitempty" db:"lng"`
	Aliases        []string   `json:"aliases,omitempty"`
	BeanCount      int        `json:"bean_count,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty" db:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// Record returns the farm's textual identity as a matchable record.
func (f Farm) Record() FarmRecord {
	return FarmRecord{FarmName: f.Name, ProducerName: f.ProducerName}
}

// MergeCandidate is a proposed merge of two farms that did not clear the
// auto-merge bar and awaits editor review.
type MergeCandidate struct {
	ID             int64      `json:"id" db:"id"`
	FarmID         int64      `json:"farm_id" db:"farm_id"`
	DuplicateID    int64      `json:"duplicate_id" db:"duplicate_id"`
	Confidence     float64    `json:"confidence" db:"confidence"`
	NameSimilarity float64    `json:"name_similarity" db:"name_similarity"`
	SharedNames    int        `json:"shared_names" db:"shared_names"`
	Status         string     `json:"status" db:"status"` // "pending", "merged", "rejected"
	Reviewer       *string    `json:"reviewer,omitempty" db:"reviewer"`
	CreatedAt      *time.Time `json:"created_at,omitempty" db:"created_at"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
}

// Merge candidate statuses.
const (
	MergeStatusPending  = "pending"
	MergeStatusMerged   = "merged"
	MergeStatusRejected = "rejected"
)

// DedupStats summarizes one deduplication run over the catalog.
type DedupStats struct {
	FarmsScanned    int64     `json:"farms_scanned"`
	PairsCompared   int64     `json:"pairs_compared"`
	AutoMerged      int64     `json:"auto_merged"`
	QueuedForReview int64     `json:"queued_for_review"`
	Rejected        int64     `json:"rejected"`
	StartTime       time.Time `json:"start_time"`
	DurationMs      int64     `json:"duration_ms"`
	WorkerCount     int       `json:"worker_count"`
}
