package dedup

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"coffee-catalog/internal/matching"
	"coffee-catalog/internal/models"
	"coffee-catalog/pkg/events"
	"coffee-catalog/pkg/logging"
	"coffee-catalog/pkg/metrics"
)

// FarmStore is the catalog access the engine needs. Satisfied by
// *database.DB; tests supply an in-memory fake.
type FarmStore interface {
	GetAllFarmsCtx(ctx context.Context) ([]models.Farm, error)
	MergeFarmsCtx(ctx context.Context, targetID, duplicateID int64, reviewer *string) error
	SaveMergeCandidateCtx(ctx context.Context, mc *models.MergeCandidate) error
}

// Config tunes a dedup run.
type Config struct {
	WorkerCount int
	Match       matching.MatchConfig
	// AutoMergeConfidence is the bar above which a merge decision is applied
	// without review. Decisions below it (but still merges) are queued.
	AutoMergeConfidence float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:         runtime.NumCPU(),
		Match:               matching.DefaultMatchConfig(),
		AutoMergeConfidence: 0.95,
	}
}

// Engine runs batch farm deduplication: generate candidate pairs, compare
// them on a worker pool, then apply decisions sequentially so merges cannot
// race each other.
type Engine struct {
	store FarmStore
	cfg   Config
	log   *logging.ComponentLogger
	es    events.EventStore

	mu      sync.Mutex
	running bool

	// counters for the current/last run
	pairsCompared int64
	autoMerged    int64
	queued        int64
}

var (
	mPairsCompared = metrics.Default.Counter("dedup_pairs_compared_total", "Farm pairs compared across all runs")
	mAutoMerged    = metrics.Default.Counter("dedup_auto_merged_total", "Farms auto-merged across all runs")
	mQueued        = metrics.Default.Counter("dedup_queued_total", "Merge candidates queued for review")
	hRunDuration   = metrics.Default.Histogram("dedup_run_duration_ms", "Dedup run duration (ms)",
		[]float64{100, 500, 1000, 5000, 30000, 120000})
)

func NewEngine(store FarmStore, cfg Config, log *logging.Logger) *Engine {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = runtime.NumCPU()
	}
	e := &Engine{store: store, cfg: cfg}
	if log != nil {
		e.log = log.WithComponent("dedup")
	}
	return e
}

// SetEventStore wires an EventStore for publishing decisions.
func (e *Engine) SetEventStore(es events.EventStore) { e.es = es }

// pair is one comparison job by farm slice index.
type pair struct {
	i, j int
}

// decision is the outcome for one pair that cleared the merge rules.
type decision struct {
	target    int64 // lower farm ID, kept
	duplicate int64
	result    matching.MatchResult
}

// Run executes one full deduplication pass over the catalog. Only one run
// may be active at a time.
func (e *Engine) Run(ctx context.Context) (*models.DedupStats, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("dedup: run already in progress")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	start := time.Now()
	timer := hRunDuration.Start()
	defer timer.ObserveMs()

	atomic.StoreInt64(&e.pairsCompared, 0)
	atomic.StoreInt64(&e.autoMerged, 0)
	atomic.StoreInt64(&e.queued, 0)

	farms, err := e.store.GetAllFarmsCtx(ctx)
	if err != nil {
		return nil, err
	}

	pairs := candidatePairs(farms)
	decisions := e.comparePairs(ctx, farms, pairs)
	if err := e.applyDecisions(ctx, decisions); err != nil {
		return nil, err
	}

	stats := &models.DedupStats{
		FarmsScanned:    int64(len(farms)),
		PairsCompared:   atomic.LoadInt64(&e.pairsCompared),
		AutoMerged:      atomic.LoadInt64(&e.autoMerged),
		QueuedForReview: atomic.LoadInt64(&e.queued),
		StartTime:       start,
		DurationMs:      time.Since(start).Milliseconds(),
		WorkerCount:     e.cfg.WorkerCount,
	}

	if e.log != nil {
		e.log.Info("dedup run completed",
			logging.Int64("farms", stats.FarmsScanned),
			logging.Int64("pairs", stats.PairsCompared),
			logging.Int64("auto_merged", stats.AutoMerged),
			logging.Int64("queued", stats.QueuedForReview),
			logging.Int64("duration_ms", stats.DurationMs))
	}
	if e.es != nil {
		_ = e.es.Append(ctx, events.DedupRunCompleted{
			Base:          events.Base{Ts: time.Now()},
			FarmsScanned:  stats.FarmsScanned,
			PairsCompared: stats.PairsCompared,
			AutoMerged:    stats.AutoMerged,
			Queued:        stats.QueuedForReview,
			DurationMs:    stats.DurationMs,
		})
	}

	return stats, nil
}

// candidatePairs buckets farms before the O(N^2) pairwise walk. The bucket
// key is the first letter of the alphabetically-first token of the
// normalized name, which is stable under word reordering, so "Santa Rosa"
// and "Rosa Santa" still land together.
func candidatePairs(farms []models.Farm) []pair {
	buckets := make(map[byte][]int)
	for i, f := range farms {
		norm := f.NormalizedName
		if norm == "" {
			norm = matching.NormalizeFarmName(f.Name)
		}
		key := bucketKey(norm)
		if key == 0 {
			continue // nothing matchable
		}
		buckets[key] = append(buckets[key], i)
	}

	var pairs []pair
	for _, idxs := range buckets {
		for a := 0; a < len(idxs); a++ {
			for b := a + 1; b < len(idxs); b++ {
				pairs = append(pairs, pair{i: idxs[a], j: idxs[b]})
			}
		}
	}
	return pairs
}

func bucketKey(normalized string) byte {
	toks := strings.Fields(normalized)
	if len(toks) == 0 {
		return 0
	}
	sort.Strings(toks)
	return toks[0][0]
}

// comparePairs fans comparison jobs out to the worker pool and collects the
// merge decisions. Comparison is pure, so workers need no coordination.
func (e *Engine) comparePairs(ctx context.Context, farms []models.Farm, pairs []pair) []decision {
	jobs := make(chan pair)
	results := make(chan decision, len(pairs))

	var wg sync.WaitGroup
	for w := 0; w < e.cfg.WorkerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				atomic.AddInt64(&e.pairsCompared, 1)
				mPairsCompared.Inc(1)
				res := matching.ShouldMerge(farms[p.i].Record(), farms[p.j].Record(), e.cfg.Match)
				if !res.ShouldMerge {
					continue
				}
				target, dup := farms[p.i].ID, farms[p.j].ID
				if dup < target {
					target, dup = dup, target
				}
				results <- decision{target: target, duplicate: dup, result: res}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, p := range pairs {
			select {
			case jobs <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(results)

	decisions := make([]decision, 0, len(results))
	for d := range results {
		decisions = append(decisions, d)
	}
	// Highest confidence first so the strongest merge in a cluster wins.
	sort.Slice(decisions, func(a, b int) bool {
		return decisions[a].result.Confidence > decisions[b].result.Confidence
	})
	return decisions
}

// applyDecisions runs merges and queueing sequentially. A redirect map
// follows already-absorbed farms to their surviving target so chained
// duplicates collapse into one farm instead of merging into a dead row.
func (e *Engine) applyDecisions(ctx context.Context, decisions []decision) error {
	redirect := make(map[int64]int64)
	resolve := func(id int64) int64 {
		for {
			next, ok := redirect[id]
			if !ok {
				return id
			}
			id = next
		}
	}

	for _, d := range decisions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		target := resolve(d.target)
		dup := resolve(d.duplicate)
		if target == dup {
			continue // already the same farm via an earlier merge
		}
		if dup < target {
			target, dup = dup, target
		}

		if d.result.Confidence >= e.cfg.AutoMergeConfidence {
			if err := e.store.MergeFarmsCtx(ctx, target, dup, nil); err != nil {
				if e.log != nil {
					e.log.Error("auto-merge failed", err,
						logging.Int64("target", target), logging.Int64("duplicate", dup))
				}
				continue
			}
			redirect[dup] = target
			atomic.AddInt64(&e.autoMerged, 1)
			mAutoMerged.Inc(1)
			if e.es != nil {
				_ = e.es.Append(ctx, events.FarmsMerged{
					Base:        events.Base{Ts: time.Now(), FID: target},
					DuplicateID: dup,
					Confidence:  d.result.Confidence,
					Rule:        d.result.Rule,
					Auto:        true,
				})
			}
			continue
		}

		mc := &models.MergeCandidate{
			FarmID:         target,
			DuplicateID:    dup,
			Confidence:     d.result.Confidence,
			NameSimilarity: d.result.NameSimilarity,
			SharedNames:    d.result.SharedNames,
			Status:         models.MergeStatusPending,
		}
		if err := e.store.SaveMergeCandidateCtx(ctx, mc); err != nil {
			if e.log != nil {
				e.log.Error("queue merge candidate failed", err,
					logging.Int64("target", target), logging.Int64("duplicate", dup))
			}
			continue
		}
		atomic.AddInt64(&e.queued, 1)
		mQueued.Inc(1)
		if e.es != nil {
			_ = e.es.Append(ctx, events.MergeQueued{
				Base:        events.Base{Ts: time.Now(), FID: target},
				DuplicateID: dup,
				Confidence:  d.result.Confidence,
				Rule:        d.result.Rule,
			})
		}
	}
	return nil
}

// Running reports whether a dedup pass is currently active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}
