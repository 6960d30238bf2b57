package models

import (
	"time"
)

// Bean is one coffee product as scraped from a roaster's shop page.
type Bean struct {
	ID           int64      `json:"id" db:"id"`
	RoasterID    int64      `json:"roaster_id" db:"roaster_id"`
	Name         string     `json:"name" db:"name"`
	URL          string     `json:"url" db:"url"`
	FarmName     string     `json:"farm_name" db:"farm_name"`
	ProducerName string     `json:"producer_name" db:"producer_name"`
	FarmID       *int64     `json:"farm_id,omitempty" db:"farm_id"`
	Country      *string    `json:"country,omitempty" db:"country"`
	Region       *string    `json:"region,omitempty" db:"region"`
	Process      *string    `json:"process,omitempty" db:"process"`
	Variety      *string    `json:"variety,omitempty" db:"variety"`
	Altitude     *string    `json:"altitude,omitempty" db:"altitude"`
	RawNotes     string     `json:"raw_notes" db:"raw_notes"`
	Notes        []string   `json:"notes,omitempty"`
	PriceCents   *int       `json:"price_cents,omitempty" db:"price_cents"`
	Currency     *string    `json:"currency,omitempty" db:"currency"`
	WeightGrams  *int       `json:"weight_grams,omitempty" db:"weight_grams"`
	InStock      bool       `json:"in_stock" db:"in_stock"`
	ScrapedAt    *time.Time `json:"scraped_at,omitempty" db:"scraped_at"`
	CreatedAt    *time.Time `json:"created_at,omitempty" db:"created_at"`
}

// FarmRecord extracts the matchable farm identity from the bean listing.
// A missing producer is an empty string, never an error.
func (b Bean) FarmRecord() FarmRecord {
	return FarmRecord{FarmName: b.FarmName, ProducerName: b.ProducerName}
}

// Roaster is one scraped source site.
type Roaster struct {
	ID            int64      `json:"id" db:"id"`
	Slug          string     `json:"slug" db:"slug"`
	Name          string     `json:"name" db:"name"`
	BaseURL       string     `json:"base_url" db:"base_url"`
	Country       *string    `json:"country,omitempty" db:"country"`
	Active        bool       `json:"active" db:"active"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty" db:"last_scraped_at"`
}

// EnrichStats summarizes one enrichment pass over the catalog.
type EnrichStats struct {
	BeansLinked   int64         `json:"beans_linked"`
	FarmsCreated  int64         `json:"farms_created"`
	NotesSplit    int64         `json:"notes_split"`
	FarmsGeocoded int64         `json:"farms_geocoded"`
	Errors        int64         `json:"errors"`
	Duration      time.Duration `json:"duration"`
}

// ScrapeResult summarizes one scrape run for a roaster.
type ScrapeResult struct {
	RoasterID  int64         `json:"roaster_id"`
	Roaster    string        `json:"roaster"`
	BeansFound int           `json:"beans_found"`
	BeansNew   int           `json:"beans_new"`
	Errors     int           `json:"errors"`
	Duration   time.Duration `json:"duration"`
}
