package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"coffee-catalog/internal/consistency"
	"coffee-catalog/internal/models"
)

type fakeStore struct {
	farms      []models.Farm
	beans      []models.Bean
	roasters   []models.Roaster
	candidates map[int64]*models.MergeCandidate
	merged     [][2]int64
	rejected   []int64
	failAll    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{candidates: make(map[int64]*models.MergeCandidate)}
}

var errDown = errors.New("db down")

func (f *fakeStore) GetBeansFilteredCtx(_ context.Context, _ int64, _ string, _, _ int) ([]models.Bean, int, error) {
	if f.failAll {
		return nil, 0, errDown
	}
	return f.beans, len(f.beans), nil
}

func (f *fakeStore) GetBeansByFarmCtx(_ context.Context, farmID int64) ([]models.Bean, error) {
	if f.failAll {
		return nil, errDown
	}
	var out []models.Bean
	for _, b := range f.beans {
		if b.FarmID != nil && *b.FarmID == farmID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) GetActiveRoastersCtx(context.Context) ([]models.Roaster, error) {
	if f.failAll {
		return nil, errDown
	}
	return f.roasters, nil
}

func (f *fakeStore) GetAllFarmsCtx(context.Context) ([]models.Farm, error) {
	if f.failAll {
		return nil, errDown
	}
	return f.farms, nil
}

func (f *fakeStore) GetFarmByIDCtx(_ context.Context, id int64) (*models.Farm, error) {
	if f.failAll {
		return nil, errDown
	}
	for i := range f.farms {
		if f.farms[i].ID == id {
			return &f.farms[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetPendingMergeCandidatesCtx(context.Context, int, int) ([]models.MergeCandidate, int, error) {
	if f.failAll {
		return nil, 0, errDown
	}
	var out []models.MergeCandidate
	for _, c := range f.candidates {
		if c.Status == models.MergeStatusPending {
			out = append(out, *c)
		}
	}
	return out, len(out), nil
}

func (f *fakeStore) GetMergeCandidateByIDCtx(_ context.Context, id int64) (*models.MergeCandidate, error) {
	if f.failAll {
		return nil, errDown
	}
	return f.candidates[id], nil
}

func (f *fakeStore) MergeFarmsCtx(_ context.Context, targetID, duplicateID int64, _ *string) error {
	if f.failAll {
		return errDown
	}
	f.merged = append(f.merged, [2]int64{targetID, duplicateID})
	for _, c := range f.candidates {
		if c.FarmID == targetID && c.DuplicateID == duplicateID {
			c.Status = models.MergeStatusMerged
		}
	}
	return nil
}

func (f *fakeStore) RejectMergeCandidateCtx(_ context.Context, id int64, _ *string) error {
	if f.failAll {
		return errDown
	}
	f.rejected = append(f.rejected, id)
	if c, ok := f.candidates[id]; ok {
		c.Status = models.MergeStatusRejected
	}
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestListFarmsHandler(t *testing.T) {
	store := newFakeStore()
	store.farms = []models.Farm{
		{ID: 1, Name: "Quebraditas", BeanCount: 3},
		{ID: 2, Name: "Mormora", BeanCount: 1},
	}

	rec := httptest.NewRecorder()
	ListFarmsHandler(store)(rec, httptest.NewRequest(http.MethodGet, "/api/farms", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total"].(float64) != 2 {
		t.Errorf("total = %v", body["total"])
	}
}

func TestFarmDetailHandlerNotFound(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/farms/{id}", FarmDetailHandler(newFakeStore()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/farms/99", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestApproveMergeHandler(t *testing.T) {
	store := newFakeStore()
	store.candidates[7] = &models.MergeCandidate{
		ID: 7, FarmID: 1, DuplicateID: 2, Confidence: 0.88, Status: models.MergeStatusPending,
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/merges/{id}/approve", ApproveMergeHandler(store)).Methods("POST")

	req := httptest.NewRequest(http.MethodPost, "/api/merges/7/approve", nil)
	req.Header.Set("X-Reviewer", "sam")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.merged) != 1 || store.merged[0] != [2]int64{1, 2} {
		t.Errorf("merged = %v", store.merged)
	}

	// Approving again conflicts; the candidate is no longer pending.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/merges/7/approve", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("second approve status = %d, want 409", rec.Code)
	}
}

func TestRejectMergeHandler(t *testing.T) {
	store := newFakeStore()
	store.candidates[3] = &models.MergeCandidate{
		ID: 3, FarmID: 5, DuplicateID: 6, Status: models.MergeStatusPending,
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/merges/{id}/reject", RejectMergeHandler(store)).Methods("POST")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/merges/3/reject", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.rejected) != 1 || store.rejected[0] != 3 {
		t.Errorf("rejected = %v", store.rejected)
	}
	if len(store.merged) != 0 {
		t.Error("reject must not merge")
	}
}

func TestMergeHandlersUnknownCandidate(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/merges/{id}/approve", ApproveMergeHandler(newFakeStore())).Methods("POST")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/merges/42/approve", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

type fakeDedup struct {
	running bool
	runs    int
}

func (f *fakeDedup) Run(context.Context) (*models.DedupStats, error) {
	f.runs++
	return &models.DedupStats{}, nil
}
func (f *fakeDedup) Running() bool { return f.running }

func TestTriggerDedupHandlerConflict(t *testing.T) {
	engine := &fakeDedup{running: true}
	rec := httptest.NewRecorder()
	TriggerDedupHandler(engine, nil)(rec, httptest.NewRequest(http.MethodPost, "/api/dedup/run", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 while running", rec.Code)
	}
}

func TestTriggerDedupHandlerStarts(t *testing.T) {
	engine := &fakeDedup{}
	rec := httptest.NewRecorder()
	TriggerDedupHandler(engine, nil)(rec, httptest.NewRequest(http.MethodPost, "/api/dedup/run", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

type fakeEnricher struct {
	running bool
	runs    int
}

func (f *fakeEnricher) Run(context.Context) (*models.EnrichStats, error) {
	f.runs++
	return &models.EnrichStats{}, nil
}
func (f *fakeEnricher) Running() bool { return f.running }

func TestTriggerEnrichHandlerConflict(t *testing.T) {
	enr := &fakeEnricher{running: true}
	rec := httptest.NewRecorder()
	TriggerEnrichHandler(enr, nil)(rec, httptest.NewRequest(http.MethodPost, "/api/enrich/run", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 while running", rec.Code)
	}
}

func TestTriggerEnrichHandlerStarts(t *testing.T) {
	enr := &fakeEnricher{}
	rec := httptest.NewRecorder()
	TriggerEnrichHandler(enr, nil)(rec, httptest.NewRequest(http.MethodPost, "/api/enrich/run", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

type fakeChecker struct {
	report  consistency.Report
	repairs int
}

func (f *fakeChecker) Check(context.Context) (*consistency.Report, error) {
	r := f.report
	return &r, nil
}

func (f *fakeChecker) Repair(context.Context) (*consistency.Report, error) {
	f.repairs++
	r := f.report
	r.Repaired = true
	return &r, nil
}

func TestConsistencyHandler(t *testing.T) {
	checker := &fakeChecker{report: consistency.Report{OrphanedAliases: 2}}

	rec := httptest.NewRecorder()
	ConsistencyHandler(checker)(rec, httptest.NewRequest(http.MethodGet, "/api/consistency", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if checker.repairs != 0 {
		t.Error("GET must not repair")
	}

	rec = httptest.NewRecorder()
	ConsistencyHandler(checker)(rec, httptest.NewRequest(http.MethodPost, "/api/consistency?repair=true", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("repair status = %d", rec.Code)
	}
	if checker.repairs != 1 {
		t.Error("POST repair=true must repair")
	}
}

func TestListBeansHandlerDBError(t *testing.T) {
	store := newFakeStore()
	store.failAll = true

	rec := httptest.NewRecorder()
	ListBeansHandler(store)(rec, httptest.NewRequest(http.MethodGet, "/api/beans", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] == "" {
		t.Error("error body missing")
	}
}
