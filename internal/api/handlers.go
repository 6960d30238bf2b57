// Package api exposes the catalog over a JSON HTTP API: browsing beans
// and farms, working the merge review queue and triggering runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"coffee-catalog/internal/consistency"
	"coffee-catalog/internal/models"
	errs "coffee-catalog/pkg/errors"
	"coffee-catalog/pkg/events"
	"coffee-catalog/pkg/logging"
	"coffee-catalog/pkg/metrics"
)

// CatalogStore is the database surface the handlers need.
// *database.DB satisfies it.
type CatalogStore interface {
	GetBeansFilteredCtx(ctx context.Context, roasterID int64, country string, limit, offset int) ([]models.Bean, int, error)
	GetBeansByFarmCtx(ctx context.Context, farmID int64) ([]models.Bean, error)
	GetActiveRoastersCtx(ctx context.Context) ([]models.Roaster, error)
	GetAllFarmsCtx(ctx context.Context) ([]models.Farm, error)
	GetFarmByIDCtx(ctx context.Context, farmID int64) (*models.Farm, error)
	GetPendingMergeCandidatesCtx(ctx context.Context, limit, offset int) ([]models.MergeCandidate, int, error)
	GetMergeCandidateByIDCtx(ctx context.Context, id int64) (*models.MergeCandidate, error)
	MergeFarmsCtx(ctx context.Context, targetID, duplicateID int64, reviewer *string) error
	RejectMergeCandidateCtx(ctx context.Context, id int64, reviewer *string) error
}

// DedupRunner triggers deduplication passes.
type DedupRunner interface {
	Run(ctx context.Context) (*models.DedupStats, error)
	Running() bool
}

// ScrapeRunner triggers scrape runs.
type ScrapeRunner interface {
	Run(ctx context.Context) ([]models.ScrapeResult, error)
	Running() bool
}

// EnrichRunner triggers enrichment passes (farm linking, note
// splitting, geocoding).
type EnrichRunner interface {
	Run(ctx context.Context) (*models.EnrichStats, error)
	Running() bool
}

// ConsistencyChecker audits and repairs the catalog.
type ConsistencyChecker interface {
	Check(ctx context.Context) (*consistency.Report, error)
	Repair(ctx context.Context) (*consistency.Report, error)
}

// Event sink for review actions. Set from main.
var eventSink events.EventStore

func SetEventStore(es events.EventStore) { eventSink = es }

var (
	mMergeApproved = metrics.Default.Counter("api_merge_approved_total", "Merge candidates approved by reviewers")
	mMergeRejected = metrics.Default.Counter("api_merge_rejected_total", "Merge candidates rejected by reviewers")
	gReviewPending = metrics.Default.Gauge("merge_review_pending", "Merge candidates currently awaiting review")
)

const defaultPageSize = 50

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps structured error kinds to HTTP statuses.
func statusFor(err error) int {
	var v *errs.ValidationError
	if errors.As(err, &v) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func pageParams(r *http.Request) (limit, offset, page int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit = defaultPageSize
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}
	return limit, (page - 1) * limit, page
}

// reviewerFrom reads the acting reviewer from the request. Falls back to
// "admin" until real authentication lands in front of this service.
func reviewerFrom(r *http.Request) string {
	if rev := r.Header.Get("X-Reviewer"); rev != "" {
		return rev
	}
	return "admin"
}

// ListBeansHandler returns beans filtered by roaster and country.
func ListBeansHandler(store CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, page := pageParams(r)
		roasterID, _ := strconv.ParseInt(r.URL.Query().Get("roaster_id"), 10, 64)
		country := r.URL.Query().Get("country")

		beans, total, err := store.GetBeansFilteredCtx(r.Context(), roasterID, country, limit, offset)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"beans":       beans,
			"total":       total,
			"page":        page,
			"total_pages": (total + limit - 1) / limit,
		})
	}
}

// ListRoastersHandler returns the active scrape sources.
func ListRoastersHandler(store CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roasters, err := store.GetActiveRoastersCtx(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roasters": roasters})
	}
}

// ListFarmsHandler returns all canonical farms with bean counts.
func ListFarmsHandler(store CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		farms, err := store.GetAllFarmsCtx(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"farms": farms, "total": len(farms)})
	}
}

// FarmDetailHandler returns one farm with its aliases and beans.
func FarmDetailHandler(store CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid farm id")
			return
		}
		farm, err := store.GetFarmByIDCtx(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		if farm == nil {
			writeError(w, http.StatusNotFound, "farm not found")
			return
		}
		beans, err := store.GetBeansByFarmCtx(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"farm": farm, "beans": beans})
	}
}

// PendingMergesHandler lists merge candidates awaiting review, highest
// confidence first.
func PendingMergesHandler(store CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, page := pageParams(r)
		candidates, total, err := store.GetPendingMergeCandidatesCtx(r.Context(), limit, offset)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		gReviewPending.Set(float64(total))
		writeJSON(w, http.StatusOK, map[string]any{
			"candidates":  candidates,
			"total":       total,
			"page":        page,
			"total_pages": (total + limit - 1) / limit,
		})
	}
}

// ApproveMergeHandler merges the candidate's duplicate into its target
// and records the reviewer decision.
func ApproveMergeHandler(store CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid candidate id")
			return
		}
		candidate, err := store.GetMergeCandidateByIDCtx(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		if candidate == nil {
			writeError(w, http.StatusNotFound, "merge candidate not found")
			return
		}
		if candidate.Status != models.MergeStatusPending {
			writeError(w, http.StatusConflict, "candidate already reviewed")
			return
		}

		reviewer := reviewerFrom(r)
		if err := store.MergeFarmsCtx(r.Context(), candidate.FarmID, candidate.DuplicateID, &reviewer); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		mMergeApproved.Inc(1)

		if eventSink != nil {
			_ = eventSink.Append(r.Context(), events.FarmsMerged{
				Base:        events.Base{Ts: time.Now().UTC(), FID: candidate.FarmID, Rev: &reviewer},
				DuplicateID: candidate.DuplicateID,
				Confidence:  candidate.Confidence,
				Auto:        false,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       models.MergeStatusMerged,
			"farm_id":      candidate.FarmID,
			"duplicate_id": candidate.DuplicateID,
		})
	}
}

// RejectMergeHandler marks a candidate as rejected so the pair is not
// proposed again.
func RejectMergeHandler(store CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid candidate id")
			return
		}
		candidate, err := store.GetMergeCandidateByIDCtx(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		if candidate == nil {
			writeError(w, http.StatusNotFound, "merge candidate not found")
			return
		}
		if candidate.Status != models.MergeStatusPending {
			writeError(w, http.StatusConflict, "candidate already reviewed")
			return
		}

		reviewer := reviewerFrom(r)
		if err := store.RejectMergeCandidateCtx(r.Context(), id, &reviewer); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		mMergeRejected.Inc(1)

		if eventSink != nil {
			_ = eventSink.Append(r.Context(), events.MergeRejected{
				Base:        events.Base{Ts: time.Now().UTC(), FID: candidate.FarmID, Rev: &reviewer},
				DuplicateID: candidate.DuplicateID,
				Reason:      r.FormValue("reason"),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": models.MergeStatusRejected})
	}
}

// TriggerDedupHandler starts a dedup run in the background. Returns 409
// when one is already running.
func TriggerDedupHandler(engine DedupRunner, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine.Running() {
			writeError(w, http.StatusConflict, "dedup run already in progress")
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			if _, err := engine.Run(ctx); err != nil && logger != nil {
				logger.WithComponent("api").Error("background dedup run failed", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

// TriggerScrapeHandler starts a scrape run in the background.
func TriggerScrapeHandler(runner ScrapeRunner, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runner.Running() {
			writeError(w, http.StatusConflict, "scrape run already in progress")
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
			defer cancel()
			if _, err := runner.Run(ctx); err != nil && logger != nil {
				logger.WithComponent("api").Error("background scrape run failed", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

// TriggerEnrichHandler starts an enrichment pass in the background.
func TriggerEnrichHandler(enricher EnrichRunner, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if enricher.Running() {
			writeError(w, http.StatusConflict, "enrichment already in progress")
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
			defer cancel()
			if _, err := enricher.Run(ctx); err != nil && logger != nil {
				logger.WithComponent("api").Error("background enrichment failed", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

// StatsHandler summarizes catalog size and run state.
func StatsHandler(store CatalogStore, engine DedupRunner, runner ScrapeRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		farms, err := store.GetAllFarmsCtx(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		_, pending, err := store.GetPendingMergeCandidatesCtx(r.Context(), 1, 0)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		beanCount := 0
		for _, f := range farms {
			beanCount += f.BeanCount
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"farms":           len(farms),
			"beans_with_farm": beanCount,
			"pending_merges":  pending,
			"dedup_running":   engine.Running(),
			"scrape_running":  runner.Running(),
		})
	}
}

// ConsistencyHandler returns the audit report; POST with repair=true
// also removes what it safely can.
func ConsistencyHandler(checker ConsistencyChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var report *consistency.Report
		var err error
		if r.Method == http.MethodPost && r.FormValue("repair") == "true" {
			report, err = checker.Repair(r.Context())
		} else {
			report, err = checker.Check(r.Context())
		}
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
