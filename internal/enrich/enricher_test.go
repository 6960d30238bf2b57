package enrich

import (
	"context"
	"errors"
	"testing"

	"coffee-catalog/internal/geocode"
	"coffee-catalog/internal/models"
	"coffee-catalog/internal/notes"
)

type fakeStore struct {
	unlinked     []models.Bean
	farms        []models.Farm
	withoutNotes []models.Bean

	nextFarmID int64
	assigned   map[int64]int64
	savedNotes map[int64][]string
	coords     map[int64][2]float64

	saveNotesErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextFarmID: 100,
		assigned:   make(map[int64]int64),
		savedNotes: make(map[int64][]string),
		coords:     make(map[int64][2]float64),
	}
}

func (s *fakeStore) GetUnlinkedBeansCtx(ctx context.Context, limit int) ([]models.Bean, error) {
	return s.unlinked, nil
}

func (s *fakeStore) GetAllFarmsCtx(ctx context.Context) ([]models.Farm, error) {
	out := make([]models.Farm, len(s.farms))
	copy(out, s.farms)
	return out, nil
}

func (s *fakeStore) CreateFarmCtx(ctx context.Context, f *models.Farm) error {
	s.nextFarmID++
	f.ID = s.nextFarmID
	s.farms = append(s.farms, *f)
	return nil
}

func (s *fakeStore) AssignBeanFarmCtx(ctx context.Context, beanID, farmID int64) error {
	s.assigned[beanID] = farmID
	return nil
}

func (s *fakeStore) GetBeansWithoutNotesCtx(ctx context.Context, limit int) ([]models.Bean, error) {
	return s.withoutNotes, nil
}

func (s *fakeStore) SaveBeanNotesCtx(ctx context.Context, beanID int64, notes []string) error {
	if s.saveNotesErr != nil {
		return s.saveNotesErr
	}
	s.savedNotes[beanID] = notes
	return nil
}

func (s *fakeStore) UpdateFarmCoordsCtx(ctx context.Context, farmID int64, lat, lng float64, country, region *string) error {
	s.coords[farmID] = [2]float64{lat, lng}
	return nil
}

type fakeSplitter struct {
	notes []string
	err   error
	calls int
}

func (f *fakeSplitter) Split(ctx context.Context, raw string) ([]string, error) {
	f.calls++
	return f.notes, f.err
}

func (f *fakeSplitter) ProcessBeans(ctx context.Context, beans []models.Bean) []models.Bean {
	for i := range beans {
		if beans[i].RawNotes == "" {
			continue
		}
		if notes, err := f.Split(ctx, beans[i].RawNotes); err == nil {
			beans[i].Notes = notes
		}
	}
	return beans
}

type fakeRegionSplitter struct {
	fakeSplitter
	region string
}

func (f *fakeRegionSplitter) GuessRegion(ctx context.Context, farmName, producerName, country string) (notes.RegionGuess, error) {
	return notes.RegionGuess{Region: f.region, Confidence: 0.9}, nil
}

type fakeGeocoder struct {
	loc   *geocode.Location
	calls int
}

func (f *fakeGeocoder) ResolveFarm(ctx context.Context, farm *models.Farm) (*geocode.Location, error) {
	f.calls++
	return f.loc, nil
}

func TestRunLinksBeanToExistingFarm(t *testing.T) {
	store := newFakeStore()
	store.farms = []models.Farm{
		{ID: 1, Name: "Quebraditas", NormalizedName: "quebraditas", ProducerName: "Edinson Argote"},
	}
	store.unlinked = []models.Bean{
		{ID: 10, FarmName: "Finca Quebraditas", ProducerName: "Edinson Argote & Luz Angela"},
	}

	e := New(store, nil, nil, DefaultConfig(), nil)
	stats, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.BeansLinked != 1 {
		t.Errorf("BeansLinked = %d, want 1", stats.BeansLinked)
	}
	if stats.FarmsCreated != 0 {
		t.Errorf("FarmsCreated = %d, want 0", stats.FarmsCreated)
	}
	if got := store.assigned[10]; got != 1 {
		t.Errorf("bean 10 assigned to farm %d, want 1", got)
	}
}

func TestRunCreatesFarmForUnmatchedBean(t *testing.T) {
	store := newFakeStore()
	store.unlinked = []models.Bean{
		{ID: 10, FarmName: "Finca Las Flores", ProducerName: "Maria Lopez"},
	}

	e := New(store, nil, nil, DefaultConfig(), nil)
	stats, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.FarmsCreated != 1 {
		t.Fatalf("FarmsCreated = %d, want 1", stats.FarmsCreated)
	}
	if len(store.farms) != 1 {
		t.Fatalf("farms = %d, want 1", len(store.farms))
	}
	farm := store.farms[0]
	if farm.NormalizedName != "las flores" {
		t.Errorf("NormalizedName = %q, want %q", farm.NormalizedName, "las flores")
	}
	if got := store.assigned[10]; got != farm.ID {
		t.Errorf("bean assigned to %d, want %d", got, farm.ID)
	}
}

func TestRunGuessesRegionForNewFarm(t *testing.T) {
	store := newFakeStore()
	store.unlinked = []models.Bean{
		{ID: 10, FarmName: "Finca Las Flores", ProducerName: "Maria Lopez"},
	}
	sp := &fakeRegionSplitter{region: "Huila"}

	e := New(store, sp, nil, DefaultConfig(), nil)
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.farms) != 1 {
		t.Fatalf("farms = %d, want 1", len(store.farms))
	}
	if store.farms[0].Region == nil || *store.farms[0].Region != "Huila" {
		t.Errorf("Region = %v, want Huila", store.farms[0].Region)
	}
}

func TestRunReusesFarmCreatedInSamePass(t *testing.T) {
	store := newFakeStore()
	store.unlinked = []models.Bean{
		{ID: 10, FarmName: "Finca Las Flores", ProducerName: "Maria Lopez"},
		{ID: 11, FarmName: "Las Flores Farm", ProducerName: "Maria Lopez Garcia"},
	}

	e := New(store, nil, nil, DefaultConfig(), nil)
	stats, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.FarmsCreated != 1 {
		t.Fatalf("FarmsCreated = %d, want 1", stats.FarmsCreated)
	}
	if store.assigned[10] != store.assigned[11] {
		t.Errorf("beans landed on different farms: %d vs %d", store.assigned[10], store.assigned[11])
	}
}

func TestRunSplitsNotes(t *testing.T) {
	store := newFakeStore()
	store.withoutNotes = []models.Bean{
		{ID: 10, RawNotes: "cherry, dark chocolate and lime"},
	}
	sp := &fakeSplitter{notes: []string{"cherry", "dark chocolate", "lime"}}

	e := New(store, sp, nil, DefaultConfig(), nil)
	stats, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.NotesSplit != 1 {
		t.Errorf("NotesSplit = %d, want 1", stats.NotesSplit)
	}
	if len(store.savedNotes[10]) != 3 {
		t.Errorf("saved notes = %v, want 3 entries", store.savedNotes[10])
	}
}

func TestRunCountsNoteSaveErrors(t *testing.T) {
	store := newFakeStore()
	store.withoutNotes = []models.Bean{{ID: 10, RawNotes: "cherry"}}
	store.saveNotesErr = errors.New("db down")
	sp := &fakeSplitter{notes: []string{"cherry"}}

	e := New(store, sp, nil, DefaultConfig(), nil)
	stats, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if stats.NotesSplit != 0 {
		t.Errorf("NotesSplit = %d, want 0", stats.NotesSplit)
	}
}

func TestRunGeocodesFarmsWithoutCoords(t *testing.T) {
	lat := 2.5
	store := newFakeStore()
	store.farms = []models.Farm{
		{ID: 1, Name: "Quebraditas"},
		{ID: 2, Name: "El Paraiso", Lat: &lat},
	}
	geo := &fakeGeocoder{loc: &geocode.Location{Lat: 2.27, Lng: -75.6, Country: "Colombia", Region: "Huila"}}

	e := New(store, nil, geo, DefaultConfig(), nil)
	stats, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if geo.calls != 1 {
		t.Errorf("geocoder calls = %d, want 1 (farm 2 already has coords)", geo.calls)
	}
	if stats.FarmsGeocoded != 1 {
		t.Errorf("FarmsGeocoded = %d, want 1", stats.FarmsGeocoded)
	}
	if got := store.coords[1]; got[0] != 2.27 {
		t.Errorf("farm 1 coords = %v", got)
	}
}

func TestRunRejectsConcurrentPass(t *testing.T) {
	store := newFakeStore()
	e := New(store, nil, nil, DefaultConfig(), nil)

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	if _, err := e.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("err = %v, want ErrRunInProgress", err)
	}
}
