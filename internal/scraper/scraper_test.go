package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const listPage = `<!DOCTYPE html>
<html><body>
<ul>
  <li class="item">
    <h2 class="name">El Diviso Gesha</h2>
    <a class="link" href="/products/el-diviso-gesha">view</a>
    <span class="price">€24,50</span>
  </li>
  <li class="item">
    <h2 class="name">Mormora Natural</h2>
    <a class="link" href="/products/mormora-natural">view</a>
    <span class="price">$18.00</span>
    <span class="soldout">Sold out</span>
  </li>
  <li class="item">
    <h2 class="name"></h2>
  </li>
</ul>
</body></html>`

const detailPage = `<!DOCTYPE html>
<html><body>
<div class="farm">Finca El Diviso</div>
<div class="producer">Nestor Lasso</div>
<div class="notes">mango, jasmine, honey</div>
<dl>
  <dt>Country</dt><dd>Colombia</dd>
  <dt>Region</dt><dd>Huila</dd>
  <dt>Process</dt><dd>Washed</dd>
  <dt>Variety</dt><dd>Gesha</dd>
  <dt>Altitude</dt><dd>1750 masl</dd>
</dl>
</body></html>`

func testProfile(baseURL string) Profile {
	return Profile{
		Slug:     "test",
		Name:     "Test Roasters",
		BaseURL:  baseURL,
		ListURL:  baseURL + "/shop",
		Currency: "EUR",
		MaxPages: 1,
		Selectors: Selectors{
			Product:      "li.item",
			Name:         "h2.name",
			URL:          "a.link",
			Price:        "span.price",
			SoldOut:      "span.soldout",
			FarmName:     "div.farm",
			ProducerName: "div.producer",
			Notes:        "div.notes",
		},
		FieldLabels: map[string]string{
			"Country":  "country",
			"Region":   "region",
			"Process":  "process",
			"Variety":  "variety",
			"Altitude": "altitude",
		},
	}
}

func newTestServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/shop", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(listPage))
	})
	mux.HandleFunc("/products/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(detailPage))
	})
	return httptest.NewServer(mux)
}

func TestScrapeRoaster(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RequestsPerSecond = 1000
	s := New(cfg, nil)

	beans, serrs, err := s.ScrapeRoaster(context.Background(), testProfile(srv.URL))
	if err != nil {
		t.Fatalf("ScrapeRoaster: %v", err)
	}
	if len(serrs) != 0 {
		t.Fatalf("unexpected scrape errors: %v", serrs)
	}
	if len(beans) != 2 {
		t.Fatalf("got %d beans, want 2 (nameless product dropped)", len(beans))
	}

	b := beans[0]
	if b.Name != "El Diviso Gesha" {
		t.Errorf("name = %q", b.Name)
	}
	if b.URL != srv.URL+"/products/el-diviso-gesha" {
		t.Errorf("url = %q, relative href not resolved", b.URL)
	}
	if b.PriceCents == nil || *b.PriceCents != 2450 {
		t.Errorf("price = %v, want 2450", b.PriceCents)
	}
	if b.Currency == nil || *b.Currency != "EUR" {
		t.Errorf("currency = %v, want EUR", b.Currency)
	}
	if b.FarmName != "Finca El Diviso" {
		t.Errorf("farm = %q", b.FarmName)
	}
	if b.ProducerName != "Nestor Lasso" {
		t.Errorf("producer = %q", b.ProducerName)
	}
	if b.RawNotes != "mango, jasmine, honey" {
		t.Errorf("notes = %q", b.RawNotes)
	}
	if b.Country == nil || *b.Country != "Colombia" {
		t.Errorf("country = %v, label row not applied", b.Country)
	}
	if b.Region == nil || *b.Region != "Huila" {
		t.Errorf("region = %v", b.Region)
	}
	if b.Process == nil || *b.Process != "Washed" {
		t.Errorf("process = %v", b.Process)
	}
	if b.Altitude == nil || *b.Altitude != "1750 masl" {
		t.Errorf("altitude = %v", b.Altitude)
	}
	if !b.InStock {
		t.Error("first bean should be in stock")
	}
	if beans[1].InStock {
		t.Error("sold out badge should mark bean out of stock")
	}
}

func TestScrapeRoasterFirstPageFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RequestsPerSecond = 1000
	s := New(cfg, nil)

	if _, _, err := s.ScrapeRoaster(context.Background(), testProfile(srv.URL)); err == nil {
		t.Fatal("expected error when first list page fails")
	}
}

func TestParsePriceCents(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"€14,50", 1450, true},
		{"$14.50", 1450, true},
		{"18 EUR", 1800, true},
		{"from £9.9", 990, true},
		{"sold out", 0, false},
	}
	for _, c := range cases {
		got, ok := parsePriceCents(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("parsePriceCents(%q) = %d, %v; want %d, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestParseWeightGrams(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"250g", 250, true},
		{"1 kg", 1000, true},
		{"0,25 kg", 250, true},
		{"whole beans", 0, false},
	}
	for _, c := range cases {
		got, ok := parseWeightGrams(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("parseWeightGrams(%q) = %d, %v; want %d, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}
