// Package consistency audits catalog invariants that merges and scrapes
// can violate when runs are interrupted: alias rows pointing at deleted
// farms, beans assigned to missing farms, stale geocode entries.
package consistency

import (
	"context"
	"database/sql"
	"time"

	errs "coffee-catalog/pkg/errors"
	"coffee-catalog/pkg/logging"
)

// Report is the outcome of one consistency pass.
type Report struct {
	CheckedAt          time.Time `json:"checked_at"`
	OrphanedAliases    int64     `json:"orphaned_aliases"`
	BeansMissingFarm   int64     `json:"beans_missing_farm"`
	FarmsWithoutBeans  int64     `json:"farms_without_beans"`
	StaleGeocodeRows   int64     `json:"stale_geocode_rows"`
	DanglingCandidates int64     `json:"dangling_candidates"`
	Repaired           bool      `json:"repaired"`
}

// Healthy reports whether the catalog needs attention. Farms without
// beans are informational; every other finding indicates breakage.
func (r Report) Healthy() bool {
	return r.OrphanedAliases == 0 && r.BeansMissingFarm == 0 && r.DanglingCandidates == 0
}

// GeocodePurger removes geocode cache rows older than a cutoff.
// *database.DB satisfies it.
type GeocodePurger interface {
	PurgeGeocodeCacheCtx(ctx context.Context, olderThan time.Time) (int64, error)
}

type Checker struct {
	conn       *sql.DB
	purger     GeocodePurger
	geocodeTTL time.Duration
	log        *logging.ComponentLogger
}

func NewChecker(conn *sql.DB, purger GeocodePurger, geocodeTTL time.Duration, logger *logging.Logger) *Checker {
	if geocodeTTL <= 0 {
		geocodeTTL = 30 * 24 * time.Hour
	}
	c := &Checker{conn: conn, purger: purger, geocodeTTL: geocodeTTL}
	if logger != nil {
		c.log = logger.WithComponent("consistency")
	}
	return c
}

// Check runs every audit query and returns the report without changing
// anything.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	report := &Report{CheckedAt: time.Now().UTC()}

	counts := []struct {
		dst   *int64
		query string
		args  []any
	}{
		{&report.OrphanedAliases,
			`SELECT COUNT(*) FROM farm_aliases fa LEFT JOIN farms f ON f.id = fa.farm_id WHERE f.id IS NULL`, nil},
		{&report.BeansMissingFarm,
			`SELECT COUNT(*) FROM beans b LEFT JOIN farms f ON f.id = b.farm_id WHERE b.farm_id IS NOT NULL AND f.id IS NULL`, nil},
		{&report.FarmsWithoutBeans,
			`SELECT COUNT(*) FROM farms f LEFT JOIN beans b ON b.farm_id = f.id WHERE b.id IS NULL`, nil},
		{&report.StaleGeocodeRows,
			`SELECT COUNT(*) FROM geocode_cache WHERE cached_at < ?`,
			[]any{time.Now().Add(-c.geocodeTTL)}},
		{&report.DanglingCandidates,
			`SELECT COUNT(*) FROM merge_candidates mc
			 LEFT JOIN farms t ON t.id = mc.farm_id
			 LEFT JOIN farms d ON d.id = mc.duplicate_id
			 WHERE mc.status = 'pending' AND (t.id IS NULL OR d.id IS NULL)`, nil},
	}
	for _, q := range counts {
		if err := c.conn.QueryRowContext(ctx, q.query, q.args...).Scan(q.dst); err != nil {
			return nil, errs.NewDB("consistency.Check", "audit query failed", err)
		}
	}

	if c.log != nil {
		c.log.Info("consistency check completed",
			logging.Int64("orphaned_aliases", report.OrphanedAliases),
			logging.Int64("beans_missing_farm", report.BeansMissingFarm),
			logging.Int64("farms_without_beans", report.FarmsWithoutBeans),
			logging.Int64("stale_geocode", report.StaleGeocodeRows),
			logging.Int64("dangling_candidates", report.DanglingCandidates))
	}
	return report, nil
}

// Repair removes rows no farm references anymore: orphaned aliases,
// dangling pending candidates and stale geocode entries. Beans with a
// missing farm are detached, not deleted, so they re-enter farm
// extraction on the next run.
func (c *Checker) Repair(ctx context.Context) (*Report, error) {
	report, err := c.Check(ctx)
	if err != nil {
		return nil, err
	}

	repairs := []struct {
		query string
		args  []any
	}{
		{`DELETE fa FROM farm_aliases fa LEFT JOIN farms f ON f.id = fa.farm_id WHERE f.id IS NULL`, nil},
		{`UPDATE beans b LEFT JOIN farms f ON f.id = b.farm_id SET b.farm_id = NULL
		  WHERE b.farm_id IS NOT NULL AND f.id IS NULL`, nil},
		{`DELETE mc FROM merge_candidates mc
		  LEFT JOIN farms t ON t.id = mc.farm_id
		  LEFT JOIN farms d ON d.id = mc.duplicate_id
		  WHERE mc.status = 'pending' AND (t.id IS NULL OR d.id IS NULL)`, nil},
	}
	for _, q := range repairs {
		if _, err := c.conn.ExecContext(ctx, q.query, q.args...); err != nil {
			return report, errs.NewDB("consistency.Repair", "repair statement failed", err)
		}
	}
	if _, err := c.purgeStaleGeocode(ctx); err != nil {
		return report, err
	}
	report.Repaired = true
	return report, nil
}

// purgeStaleGeocode drops geocode cache rows older than the TTL.
func (c *Checker) purgeStaleGeocode(ctx context.Context) (int64, error) {
	if c.purger == nil {
		return 0, nil
	}
	n, err := c.purger.PurgeGeocodeCacheCtx(ctx, time.Now().Add(-c.geocodeTTL))
	if err != nil {
		return 0, err
	}
	if c.log != nil && n > 0 {
		c.log.Info("purged stale geocode cache", logging.Int64("rows", n))
	}
	return n, nil
}
