package scraper

import (
	"context"
	"errors"
	"sync"
	"time"

	"coffee-catalog/internal/models"
	"coffee-catalog/pkg/events"
	"coffee-catalog/pkg/logging"
)

// ErrRunInProgress is returned when a second scrape run is requested
// while one is still walking roasters.
var ErrRunInProgress = errors.New("scrape run already in progress")

// BeanStore is the storage surface the runner needs.
type BeanStore interface {
	UpsertRoasterCtx(ctx context.Context, r *models.Roaster) error
	TouchRoasterScrapedCtx(ctx context.Context, roasterID int64) error
	SaveBeanCtx(ctx context.Context, b *models.Bean) error
}

// Runner walks all configured roaster profiles, scrapes each shop and
// persists the beans. Roasters run sequentially so a single rate limiter
// governs outbound pressure; a run already in progress rejects a second.
type Runner struct {
	scraper  *Scraper
	profiles []Profile
	store    BeanStore
	events   events.EventStore
	log      *logging.ComponentLogger

	mu      sync.Mutex
	running bool
}

func NewRunner(s *Scraper, profiles []Profile, store BeanStore, ev events.EventStore, logger *logging.Logger) *Runner {
	r := &Runner{
		scraper:  s,
		profiles: profiles,
		store:    store,
		events:   ev,
	}
	if logger != nil {
		r.log = logger.WithComponent("scrape-runner")
	}
	return r
}

func (r *Runner) warn(msg string, fields ...logging.Field) {
	if r.log != nil {
		r.log.Warn(msg, fields...)
	}
}

func (r *Runner) fail(msg string, err error, fields ...logging.Field) {
	if r.log != nil {
		r.log.Error(msg, err, fields...)
	}
}

// Running reports whether a scrape run is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Run scrapes every profile and returns per-roaster results. A failure on
// one roaster is recorded and the run moves on to the next.
func (r *Runner) Run(ctx context.Context) ([]models.ScrapeResult, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrRunInProgress
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	results := make([]models.ScrapeResult, 0, len(r.profiles))
	for _, p := range r.profiles {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		results = append(results, r.runRoaster(ctx, p))
	}
	return results, nil
}

func (r *Runner) runRoaster(ctx context.Context, p Profile) models.ScrapeResult {
	start := time.Now()
	result := models.ScrapeResult{Roaster: p.Slug}

	roaster := models.Roaster{Slug: p.Slug, Name: p.Name, BaseURL: p.BaseURL, Active: true}
	if p.Country != "" {
		c := p.Country
		roaster.Country = &c
	}
	if err := r.store.UpsertRoasterCtx(ctx, &roaster); err != nil {
		r.fail("upserting roaster failed", err, logging.String("roaster", p.Slug))
		result.Errors++
		result.Duration = time.Since(start)
		return result
	}
	result.RoasterID = roaster.ID

	beans, serrs, err := r.scraper.ScrapeRoaster(ctx, p)
	result.Errors += len(serrs)
	if err != nil {
		r.fail("scrape failed", err, logging.String("roaster", p.Slug))
		result.Errors++
		result.Duration = time.Since(start)
		return result
	}

	for i := range beans {
		beans[i].RoasterID = roaster.ID
		if err := r.store.SaveBeanCtx(ctx, &beans[i]); err != nil {
			r.fail("saving bean failed", err,
				logging.String("roaster", p.Slug),
				logging.String("bean", beans[i].Name))
			result.Errors++
			continue
		}
		result.BeansFound++
		// SaveBeanCtx only learns an insert id on a fresh row; duplicate
		// key updates leave it zero.
		if beans[i].ID != 0 {
			result.BeansNew++
		}
	}

	if err := r.store.TouchRoasterScrapedCtx(ctx, roaster.ID); err != nil {
		r.warn("updating last_scraped_at failed",
			logging.String("roaster", p.Slug), logging.Error(err))
	}
	result.Duration = time.Since(start)

	if r.events != nil {
		ev := events.ScrapeRunCompleted{
			Base:       events.Base{Ts: time.Now().UTC()},
			Roaster:    p.Slug,
			BeansFound: result.BeansFound,
			BeansNew:   result.BeansNew,
			Errors:     result.Errors,
			DurationMs: result.Duration.Milliseconds(),
		}
		if err := r.events.Append(ctx, ev); err != nil {
			r.warn("recording scrape event failed", logging.Error(err))
		}
	}
	return result
}
