package testutil

import (
	"context"
	"fmt"
	"sync"

	"coffee-catalog/internal/models"
	"coffee-catalog/pkg/events"
)

// FakeFarmStore implements dedup.FarmStore in memory for tests.
type FakeFarmStore struct {
	Mu         sync.Mutex
	Farms      []models.Farm
	Merged     [][2]int64 // (target, duplicate) in apply order
	Candidates []models.MergeCandidate
	FailMerge  bool
}

func NewFakeFarmStore(farms ...models.Farm) *FakeFarmStore {
	return &FakeFarmStore{Farms: farms}
}

func (f *FakeFarmStore) GetAllFarmsCtx(ctx context.Context) ([]models.Farm, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	out := make([]models.Farm, len(f.Farms))
	copy(out, f.Farms)
	return out, nil
}

func (f *FakeFarmStore) MergeFarmsCtx(ctx context.Context, targetID, duplicateID int64, reviewer *string) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	if f.FailMerge {
		return fmt.Errorf("merge refused")
	}
	f.Merged = append(f.Merged, [2]int64{targetID, duplicateID})
	kept := f.Farms[:0]
	for _, farm := range f.Farms {
		if farm.ID != duplicateID {
			kept = append(kept, farm)
		}
	}
	f.Farms = kept
	return nil
}

func (f *FakeFarmStore) SaveMergeCandidateCtx(ctx context.Context, mc *models.MergeCandidate) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	mc.ID = int64(len(f.Candidates) + 1)
	f.Candidates = append(f.Candidates, *mc)
	return nil
}

// FakeEventStore collects appended events in memory.
type FakeEventStore struct {
	Mu     sync.Mutex
	Events []events.Event
}

func (f *FakeEventStore) Append(ctx context.Context, ev ...events.Event) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Events = append(f.Events, ev...)
	return nil
}

func (f *FakeEventStore) ListByFarm(ctx context.Context, farmID int64) ([]events.StoredEvent, error) {
	return nil, nil
}

// TypeCounts tallies appended events by type name.
func (f *FakeEventStore) TypeCounts() map[string]int {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	out := make(map[string]int)
	for _, e := range f.Events {
		out[e.Type()]++
	}
	return out
}
