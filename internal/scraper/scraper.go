package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"coffee-catalog/internal/models"
	errs "coffee-catalog/pkg/errors"
	"coffee-catalog/pkg/logging"
	"coffee-catalog/pkg/metrics"
)

var (
	mPagesFetched = metrics.Default.Counter("scraper_pages_fetched_total", "HTML pages fetched from roaster shops")
	mFetchErrors  = metrics.Default.Counter("scraper_fetch_errors_total", "Failed page fetches")
	mBeansScraped = metrics.Default.Counter("scraper_beans_total", "Beans extracted from product pages")
	mFetchMs = metrics.Default.Histogram("scraper_fetch_ms", "Page fetch latency in milliseconds",
		[]float64{100, 250, 500, 1000, 2500, 5000, 10000})
)

// Config controls fetch politeness and transport behavior. Rate limiting
// applies per scraper instance, not per roaster; a run walks roasters
// sequentially so this bounds total request pressure.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	UserAgent         string
}

func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 1,
		Burst:             2,
		Timeout:           20 * time.Second,
		UserAgent:         "coffee-catalog/1.0 (+bean aggregator; contact admin)",
	}
}

// Scraper fetches roaster shop pages and extracts bean listings
// according to per-roaster selector profiles.
type Scraper struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	log       *logging.ComponentLogger
}

func New(cfg Config, logger *logging.Logger) *Scraper {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	s := &Scraper{
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		userAgent: cfg.UserAgent,
	}
	if logger != nil {
		s.log = logger.WithComponent("scraper")
	}
	return s
}

// ScrapeRoaster walks the roaster's product list pages and returns one
// bean per product. Detail page failures skip the product and count as
// errors in the result instead of aborting the run.
func (s *Scraper) ScrapeRoaster(ctx context.Context, p Profile) ([]models.Bean, ScrapeErrors, error) {
	var beans []models.Bean
	var serrs ScrapeErrors

	pageURL := p.ListURL
	for page := 1; page <= p.MaxPages && pageURL != ""; page++ {
		doc, err := s.fetch(ctx, pageURL)
		if err != nil {
			if len(beans) == 0 && page == 1 {
				return nil, serrs, errs.NewScrape("list", p.Slug, "fetching first list page", err)
			}
			serrs.add(pageURL, err)
			break
		}

		doc.Find(p.Selectors.Product).Each(func(_ int, sel *goquery.Selection) {
			bean, ok := s.extractListing(p, sel)
			if !ok {
				return
			}
			if bean.URL != "" && hasDetailSelectors(p.Selectors) {
				if err := s.fillDetail(ctx, p, &bean); err != nil {
					serrs.add(bean.URL, err)
					if s.log != nil {
						s.log.Warn("detail page failed",
							logging.String("roaster", p.Slug),
							logging.String("url", bean.URL),
							logging.Error(err))
					}
				}
			}
			mBeansScraped.Inc(1)
			beans = append(beans, bean)
		})

		pageURL = s.nextPage(p, doc, pageURL)
	}

	if s.log != nil {
		s.log.Info("roaster scraped",
			logging.String("roaster", p.Slug),
			logging.Int("beans", len(beans)),
			logging.Int("errors", len(serrs)))
	}
	return beans, serrs, nil
}

// extractListing pulls the list-page fields. A product without a name is
// dropped; everything else is optional at this stage.
func (s *Scraper) extractListing(p Profile, sel *goquery.Selection) (models.Bean, bool) {
	name := cleanText(sel.Find(p.Selectors.Name).First().Text())
	if name == "" {
		return models.Bean{}, false
	}

	bean := models.Bean{
		Name:      name,
		InStock:   true,
		ScrapedAt: timePtr(time.Now().UTC()),
	}

	if p.Selectors.URL != "" {
		if href, ok := sel.Find(p.Selectors.URL).First().Attr("href"); ok {
			bean.URL = absoluteURL(p.BaseURL, href)
		}
	}
	if p.Selectors.Price != "" {
		if cents, ok := parsePriceCents(sel.Find(p.Selectors.Price).First().Text()); ok {
			bean.PriceCents = &cents
			if p.Currency != "" {
				cur := p.Currency
				bean.Currency = &cur
			}
		}
	}
	if p.Selectors.SoldOut != "" && sel.Find(p.Selectors.SoldOut).Length() > 0 {
		bean.InStock = false
	}
	if p.Country != "" && bean.Country == nil {
		c := p.Country
		bean.Country = &c
	}
	return bean, true
}

// fillDetail fetches the product page and populates origin fields, first
// from dedicated selectors, then from labeled definition rows.
func (s *Scraper) fillDetail(ctx context.Context, p Profile, bean *models.Bean) error {
	doc, err := s.fetch(ctx, bean.URL)
	if err != nil {
		return errs.NewScrape("detail", p.Slug, "fetching product page", err)
	}

	sels := p.Selectors
	bean.FarmName = textOr(doc, sels.FarmName, bean.FarmName)
	bean.ProducerName = textOr(doc, sels.ProducerName, bean.ProducerName)
	bean.RawNotes = textOr(doc, sels.Notes, bean.RawNotes)
	setPtr(&bean.Country, doc, sels.Country)
	setPtr(&bean.Region, doc, sels.Region)
	setPtr(&bean.Process, doc, sels.Process)
	setPtr(&bean.Variety, doc, sels.Variety)
	setPtr(&bean.Altitude, doc, sels.Altitude)
	if sels.Weight != "" {
		if g, ok := parseWeightGrams(doc.Find(sels.Weight).First().Text()); ok {
			bean.WeightGrams = &g
		}
	}

	if len(p.FieldLabels) > 0 {
		applyFieldLabels(p.FieldLabels, doc, bean)
	}
	return nil
}

// applyFieldLabels scans "<dt>Label</dt><dd>value</dd>" style rows and
// "Label: value" table cells, matching labels case-insensitively against
// the profile's field_labels map. Values already set by selectors win.
func applyFieldLabels(labels map[string]string, doc *goquery.Document, bean *models.Bean) {
	byLabel := make(map[string]string, len(labels))
	for label, field := range labels {
		byLabel[strings.ToLower(strings.TrimSpace(label))] = field
	}

	assign := func(label, value string) {
		value = cleanText(value)
		if value == "" {
			return
		}
		switch byLabel[strings.ToLower(strings.TrimSpace(label))] {
		case "farm_name":
			if bean.FarmName == "" {
				bean.FarmName = value
			}
		case "producer_name":
			if bean.ProducerName == "" {
				bean.ProducerName = value
			}
		case "country":
			if bean.Country == nil {
				bean.Country = &value
			}
		case "region":
			if bean.Region == nil {
				bean.Region = &value
			}
		case "process":
			if bean.Process == nil {
				bean.Process = &value
			}
		case "variety":
			if bean.Variety == nil {
				bean.Variety = &value
			}
		case "altitude":
			if bean.Altitude == nil {
				bean.Altitude = &value
			}
		case "notes":
			if bean.RawNotes == "" {
				bean.RawNotes = value
			}
		}
	}

	doc.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		assign(dt.Text(), dt.Next().Text())
	})
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td, th")
		if cells.Length() >= 2 {
			assign(cells.Eq(0).Text(), cells.Eq(1).Text())
		}
	})
}

func (s *Scraper) nextPage(p Profile, doc *goquery.Document, current string) string {
	if p.Selectors.NextPage == "" {
		return ""
	}
	href, ok := doc.Find(p.Selectors.NextPage).First().Attr("href")
	if !ok || href == "" {
		return ""
	}
	next := absoluteURL(p.BaseURL, href)
	if next == current {
		return ""
	}
	return next
}

func (s *Scraper) fetch(ctx context.Context, rawURL string) (*goquery.Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	timer := mFetchMs.Start()
	resp, err := s.client.Do(req)
	timer.ObserveMs()
	if err != nil {
		mFetchErrors.Inc(1)
		return nil, err
	}
	defer resp.Body.Close()

	mPagesFetched.Inc(1)
	if resp.StatusCode != http.StatusOK {
		mFetchErrors.Inc(1)
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, rawURL)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

// ScrapeErrors collects per-URL failures that did not abort the run.
type ScrapeErrors []ScrapeFailure

type ScrapeFailure struct {
	URL string
	Err error
}

func (e *ScrapeErrors) add(url string, err error) {
	*e = append(*e, ScrapeFailure{URL: url, Err: err})
}

var spaceRun = regexp.MustCompile(`\s+`)

func cleanText(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

func textOr(doc *goquery.Document, selector, fallback string) string {
	if selector == "" {
		return fallback
	}
	if v := cleanText(doc.Find(selector).First().Text()); v != "" {
		return v
	}
	return fallback
}

func setPtr(dst **string, doc *goquery.Document, selector string) {
	if selector == "" || *dst != nil {
		return
	}
	if v := cleanText(doc.Find(selector).First().Text()); v != "" {
		*dst = &v
	}
}

func hasDetailSelectors(s Selectors) bool {
	return s.FarmName != "" || s.ProducerName != "" || s.Country != "" ||
		s.Region != "" || s.Process != "" || s.Variety != "" ||
		s.Altitude != "" || s.Notes != "" || s.Weight != ""
}

func absoluteURL(base, href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if u.IsAbs() {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	return b.ResolveReference(u).String()
}

var priceDigits = regexp.MustCompile(`(\d+)(?:[.,](\d{1,2}))?`)

// parsePriceCents reads the first decimal number from a price string.
// "€14,50" and "$14.50" both parse to 1450.
func parsePriceCents(s string) (int, bool) {
	m := priceDigits.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	whole, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	cents := whole * 100
	if m[2] != "" {
		frac := m[2]
		if len(frac) == 1 {
			frac += "0"
		}
		f, err := strconv.Atoi(frac)
		if err != nil {
			return 0, false
		}
		cents += f
	}
	return cents, true
}

var weightPattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(kg|g)`)

func parseWeightGrams(s string) (int, bool) {
	m := weightPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	val, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0, false
	}
	if strings.EqualFold(m[2], "kg") {
		val *= 1000
	}
	return int(val + 0.5), true
}

func timePtr(t time.Time) *time.Time { return &t }
