// Package enrich runs the post-scrape catalog pass: attach beans to
// canonical farms, split raw tasting text into notes, and geocode farms
// that have no coordinates yet.
package enrich

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"coffee-catalog/internal/geocode"
	"coffee-catalog/internal/matching"
	"coffee-catalog/internal/models"
	"coffee-catalog/internal/notes"
	"coffee-catalog/pkg/logging"
	"coffee-catalog/pkg/metrics"
)

// ErrRunInProgress is returned when an enrichment pass is already active.
var ErrRunInProgress = errors.New("enrichment already in progress")

// CatalogStore is the database surface the enricher needs. Satisfied by
// *database.DB.
type CatalogStore interface {
	GetUnlinkedBeansCtx(ctx context.Context, limit int) ([]models.Bean, error)
	GetAllFarmsCtx(ctx context.Context) ([]models.Farm, error)
	CreateFarmCtx(ctx context.Context, f *models.Farm) error
	AssignBeanFarmCtx(ctx context.Context, beanID, farmID int64) error
	GetBeansWithoutNotesCtx(ctx context.Context, limit int) ([]models.Bean, error)
	SaveBeanNotesCtx(ctx context.Context, beanID int64, notes []string) error
	UpdateFarmCoordsCtx(ctx context.Context, farmID int64, lat, lng float64, country, region *string) error
}

// NoteSplitter turns raw tasting text into individual notes.
// ProcessBeans handles a whole batch with bounded concurrency.
type NoteSplitter interface {
	Split(ctx context.Context, raw string) ([]string, error)
	ProcessBeans(ctx context.Context, beans []models.Bean) []models.Bean
}

// RegionGuesser fills in a growing region for a newly created farm when
// the scraped listing did not carry one. *notes.Splitter satisfies it.
type RegionGuesser interface {
	GuessRegion(ctx context.Context, farmName, producerName, country string) (notes.RegionGuess, error)
}

// FarmGeocoder resolves farm coordinates.
type FarmGeocoder interface {
	ResolveFarm(ctx context.Context, farm *models.Farm) (*geocode.Location, error)
}

// Config tunes an enrichment pass.
type Config struct {
	// BatchSize caps how many beans each sub-pass pulls per run.
	BatchSize int
	Match     matching.MatchConfig
}

func DefaultConfig() Config {
	return Config{
		BatchSize: 500,
		Match:     matching.DefaultMatchConfig(),
	}
}

var (
	mLinked   = metrics.Default.Counter("enrich_beans_linked_total", "Beans attached to a canonical farm")
	mCreated  = metrics.Default.Counter("enrich_farms_created_total", "Farms created from unmatched beans")
	mNotes    = metrics.Default.Counter("enrich_notes_split_total", "Beans whose tasting notes were split")
	mGeocoded = metrics.Default.Counter("enrich_farms_geocoded_total", "Farms that received coordinates")
	mErrors   = metrics.Default.Counter("enrich_errors_total", "Errors during enrichment passes")
)

// Enricher links scraped beans to farms and fills in derived data. The
// splitter and geocoder are optional; a nil one skips that sub-pass.
type Enricher struct {
	store    CatalogStore
	splitter NoteSplitter
	geocoder FarmGeocoder
	cfg      Config
	log      *logging.ComponentLogger

	mu      sync.Mutex
	running bool
}

func New(store CatalogStore, splitter NoteSplitter, geocoder FarmGeocoder, cfg Config, logger *logging.Logger) *Enricher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	e := &Enricher{
		store:    store,
		splitter: splitter,
		geocoder: geocoder,
		cfg:      cfg,
	}
	if logger != nil {
		e.log = logger.WithComponent("enrich")
	}
	return e
}

// Running reports whether a pass is active.
func (e *Enricher) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Run executes one enrichment pass. Only one pass runs at a time.
func (e *Enricher) Run(ctx context.Context) (*models.EnrichStats, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrRunInProgress
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	start := time.Now()
	stats := &models.EnrichStats{}

	if err := e.linkBeans(ctx, stats); err != nil {
		return nil, err
	}
	if e.splitter != nil {
		if err := e.splitNotes(ctx, stats); err != nil {
			return nil, err
		}
	}
	if e.geocoder != nil {
		if err := e.geocodeFarms(ctx, stats); err != nil {
			return nil, err
		}
	}

	stats.Duration = time.Since(start)
	if e.log != nil {
		e.log.Info("enrichment pass completed",
			logging.Int64("beans_linked", stats.BeansLinked),
			logging.Int64("farms_created", stats.FarmsCreated),
			logging.Int64("notes_split", stats.NotesSplit),
			logging.Int64("farms_geocoded", stats.FarmsGeocoded),
			logging.Int64("errors", stats.Errors),
			logging.Duration("duration", stats.Duration))
	}
	return stats, nil
}

// linkBeans attaches each unlinked bean to an existing farm when the
// matcher clears it, or creates a new farm otherwise. Farms created
// earlier in the same pass are candidates for later beans, so two beans
// naming the same new farm end up on one row.
func (e *Enricher) linkBeans(ctx context.Context, stats *models.EnrichStats) error {
	beans, err := e.store.GetUnlinkedBeansCtx(ctx, e.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(beans) == 0 {
		return nil
	}

	farms, err := e.store.GetAllFarmsCtx(ctx)
	if err != nil {
		return err
	}

	for _, bean := range beans {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := bean.FarmRecord()

		var bestID int64
		var bestConf float64
		for i := range farms {
			res := matching.ShouldMerge(rec, farms[i].Record(), e.cfg.Match)
			if res.ShouldMerge && res.Confidence > bestConf {
				bestID = farms[i].ID
				bestConf = res.Confidence
			}
		}

		if bestID == 0 {
			farm := models.Farm{
				Name:           strings.TrimSpace(bean.FarmName),
				NormalizedName: matching.NormalizeFarmName(bean.FarmName),
				ProducerName:   strings.TrimSpace(bean.ProducerName),
				Country:        bean.Country,
				Region:         bean.Region,
			}
			if farm.Region == nil {
				e.guessRegion(ctx, &farm)
			}
			if err := e.store.CreateFarmCtx(ctx, &farm); err != nil {
				stats.Errors++
				mErrors.Inc(1)
				e.fail("farm create failed", err, logging.Int64("bean_id", bean.ID))
				continue
			}
			farms = append(farms, farm)
			bestID = farm.ID
			stats.FarmsCreated++
			mCreated.Inc(1)
		}

		if err := e.store.AssignBeanFarmCtx(ctx, bean.ID, bestID); err != nil {
			stats.Errors++
			mErrors.Inc(1)
			e.fail("farm assignment failed", err,
				logging.Int64("bean_id", bean.ID), logging.Int64("farm_id", bestID))
			continue
		}
		stats.BeansLinked++
		mLinked.Inc(1)
	}
	return nil
}

// guessRegion asks the splitter's region model for a growing region.
// Failures just leave the region empty.
func (e *Enricher) guessRegion(ctx context.Context, farm *models.Farm) {
	guesser, ok := e.splitter.(RegionGuesser)
	if !ok {
		return
	}
	var country string
	if farm.Country != nil {
		country = *farm.Country
	}
	guess, err := guesser.GuessRegion(ctx, farm.Name, farm.ProducerName, country)
	if err != nil || guess.Region == "" {
		return
	}
	region := guess.Region
	farm.Region = &region
}

func (e *Enricher) splitNotes(ctx context.Context, stats *models.EnrichStats) error {
	beans, err := e.store.GetBeansWithoutNotesCtx(ctx, e.cfg.BatchSize)
	if err != nil {
		return err
	}
	beans = e.splitter.ProcessBeans(ctx, beans)
	for _, bean := range beans {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(bean.Notes) == 0 {
			continue
		}
		if err := e.store.SaveBeanNotesCtx(ctx, bean.ID, bean.Notes); err != nil {
			stats.Errors++
			mErrors.Inc(1)
			e.fail("note save failed", err, logging.Int64("bean_id", bean.ID))
			continue
		}
		stats.NotesSplit++
		mNotes.Inc(1)
	}
	return nil
}

func (e *Enricher) geocodeFarms(ctx context.Context, stats *models.EnrichStats) error {
	farms, err := e.store.GetAllFarmsCtx(ctx)
	if err != nil {
		return err
	}
	for i := range farms {
		if farms[i].Lat != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		loc, err := e.geocoder.ResolveFarm(ctx, &farms[i])
		if err != nil {
			stats.Errors++
			mErrors.Inc(1)
			e.fail("geocode failed", err, logging.Int64("farm_id", farms[i].ID))
			continue
		}
		if loc == nil {
			continue
		}
		var country, region *string
		if loc.Country != "" {
			country = &loc.Country
		}
		if loc.Region != "" {
			region = &loc.Region
		}
		if err := e.store.UpdateFarmCoordsCtx(ctx, farms[i].ID, loc.Lat, loc.Lng, country, region); err != nil {
			stats.Errors++
			mErrors.Inc(1)
			e.fail("coords update failed", err, logging.Int64("farm_id", farms[i].ID))
			continue
		}
		stats.FarmsGeocoded++
		mGeocoded.Inc(1)
	}
	return nil
}

func (e *Enricher) fail(msg string, err error, fields ...logging.Field) {
	if e.log != nil {
		e.log.Error(msg, err, fields...)
	}
}
