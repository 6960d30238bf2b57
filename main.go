package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sashabaranov/go-openai"

	"coffee-catalog/internal/api"
	"coffee-catalog/internal/consistency"
	"coffee-catalog/internal/dedup"
	"coffee-catalog/internal/enrich"
	"coffee-catalog/internal/geocode"
	"coffee-catalog/internal/matching"
	"coffee-catalog/internal/notes"
	"coffee-catalog/internal/prompts"
	"coffee-catalog/internal/scraper"
	"coffee-catalog/pkg/circuit"
	"coffee-catalog/pkg/config"
	"coffee-catalog/pkg/container"
	"coffee-catalog/pkg/database"
	"coffee-catalog/pkg/events"
	"coffee-catalog/pkg/health"
	"coffee-catalog/pkg/logging"
	metricsPkg "coffee-catalog/pkg/metrics"
	"coffee-catalog/pkg/monitoring"
)

func main() {
	// Build container and register providers
	c := container.New()

	// Config (singleton)
	_ = c.Provide(func() (*config.Config, error) {
		cfg := config.Load()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}, true)

	// Structured logger (singleton)
	_ = c.Provide(func(cfg *config.Config) (*logging.Logger, error) {
		lc := logging.DefaultLogConfig()
		lc.Level = logging.ParseLevel(cfg.LogLevel)
		lc.Format = cfg.LogFormat
		lc.EnableFile = cfg.EnableFileLogging
		lc.FilePath = cfg.LogFile
		return logging.NewLogger(lc)
	}, true)

	// Database (singleton)
	_ = c.Provide(func(cfg *config.Config) (*database.DB, error) {
		return database.NewWithConfig(cfg.DatabaseURL, cfg)
	}, true)

	// Event store (singleton)
	_ = c.Provide(func(db *database.DB) (events.EventStore, error) { return events.NewSQLEventStore(db) }, true)

	// Prompt templates (singleton)
	_ = c.Provide(func(cfg *config.Config) (*prompts.Manager, error) { return prompts.NewManager(cfg.PromptDir) }, true)

	// Note splitter (singleton). Works without an API key: the heuristic
	// fallback handles every split when OpenAI is unreachable.
	_ = c.Provide(func(cfg *config.Config, pm *prompts.Manager) *notes.Splitter {
		ncfg := notes.DefaultConfig()
		ncfg.Model = cfg.OpenAIModel
		ncfg.MaxTokens = cfg.OpenAIMaxTokens
		ncfg.Temperature = float32(cfg.OpenAITemperature)
		ncfg.Timeout = cfg.OpenAITimeout
		return notes.NewSplitter(openai.NewClient(cfg.OpenAIAPIKey), pm, ncfg)
	}, true)

	// Scraper and per-roaster profiles (singleton)
	_ = c.Provide(func(cfg *config.Config, logger *logging.Logger) *scraper.Scraper {
		return scraper.New(scraper.Config{
			RequestsPerSecond: float64(cfg.ScrapeRPS),
			Burst:             cfg.ScrapeBurst,
			Timeout:           cfg.ScrapeTimeout,
			UserAgent:         cfg.ScrapeUserAgent,
		}, logger)
	}, true)
	_ = c.Provide(func(cfg *config.Config, s *scraper.Scraper, db *database.DB, es events.EventStore, logger *logging.Logger) (*scraper.Runner, error) {
		var fsys fs.FS = RoasterProfiles()
		dir := "profiles"
		if cfg.RoasterProfilePath != "" {
			fsys = os.DirFS(cfg.RoasterProfilePath)
			dir = "."
		}
		profiles, err := scraper.LoadProfiles(fsys, dir)
		if err != nil {
			return nil, err
		}
		return scraper.NewRunner(s, profiles, db, es, logger), nil
	}, true)

	// Dedup engine (singleton)
	_ = c.Provide(func(cfg *config.Config, db *database.DB, logger *logging.Logger) *dedup.Engine {
		dcfg := dedup.DefaultConfig()
		dcfg.Match = matching.MatchConfig{
			NameThreshold:  cfg.MatchNameThreshold,
			ExactThreshold: cfg.MatchExactThreshold,
		}
		dcfg.AutoMergeConfidence = cfg.AutoMergeConfidence
		if cfg.DedupWorkerCount > 0 {
			dcfg.WorkerCount = cfg.DedupWorkerCount
		}
		return dedup.NewEngine(db, dcfg, logger)
	}, true)

	// Consistency checker (singleton)
	_ = c.Provide(func(cfg *config.Config, db *database.DB, logger *logging.Logger) *consistency.Checker {
		return consistency.NewChecker(db.Conn(), db, cfg.GeocodeCacheTTL, logger)
	}, true)

	// Resolve config and logger first
	var cfg *config.Config
	if err := c.Resolve(&cfg); err != nil {
		log.Fatal("config resolve:", err)
	}
	var logger *logging.Logger
	if err := c.Resolve(&logger); err != nil {
		log.Fatal("logger resolve:", err)
	}
	defer logger.Close()
	monitoring.EnableProfiling(cfg.ProfilingEnabled)
	logger.Info("starting coffee catalog", logging.String("env", cfg.Env), logging.String("port", cfg.Port))

	var (
		db       *database.DB
		es       events.EventStore
		splitter *notes.Splitter
		runner   *scraper.Runner
		engine   *dedup.Engine
		checker  *consistency.Checker
	)
	if err := c.Resolve(&db); err != nil {
		log.Fatal("db resolve:", err)
	}
	defer db.Close()
	if err := c.Resolve(&es); err != nil {
		log.Fatal("event store resolve:", err)
	}
	if err := c.Resolve(&splitter); err != nil {
		log.Fatal("splitter resolve:", err)
	}
	defer splitter.Close()
	if err := c.Resolve(&runner); err != nil {
		log.Fatal("scrape runner resolve:", err)
	}
	if err := c.Resolve(&engine); err != nil {
		log.Fatal("dedup engine resolve:", err)
	}
	if err := c.Resolve(&checker); err != nil {
		log.Fatal("consistency checker resolve:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal("schema init:", err)
	}

	// Geocoder only when a Maps key is configured; the enricher skips the
	// geocode pass without one.
	var geocoder *geocode.Geocoder
	if cfg.GoogleMapsAPIKey != "" {
		mapsClient, err := geocode.NewClient(cfg.GoogleMapsAPIKey)
		if err != nil {
			log.Fatal("maps client:", err)
		}
		gcfg := geocode.DefaultConfig()
		gcfg.CacheTTL = cfg.GeocodeCacheTTL
		geocoder = geocode.New(mapsClient, db, gcfg, logger)
	} else {
		logger.Warn("GOOGLE_MAPS_API_KEY not set, farm geocoding disabled")
	}

	ecfg := enrich.DefaultConfig()
	ecfg.Match = matching.MatchConfig{
		NameThreshold:  cfg.MatchNameThreshold,
		ExactThreshold: cfg.MatchExactThreshold,
	}
	var farmGeocoder enrich.FarmGeocoder
	if geocoder != nil {
		farmGeocoder = geocoder
	}
	enricher := enrich.New(db, splitter, farmGeocoder, ecfg, logger)

	// Wire the event store into review handlers and the dedup engine
	engine.SetEventStore(es)
	api.SetEventStore(es)

	// Health checks
	hm := health.NewManager(10*time.Second, logger)
	hm.Register("database", health.DatabaseCheck(db.Conn()))
	if geocoder != nil {
		hm.Register("googlemaps", health.BreakerCheck(func() bool {
			return geocoder.BreakerState() == circuit.Open
		}, "googlemaps"))
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	// HTTP routing
	router := mux.NewRouter()

	var httpMetrics *monitoring.Metrics
	if cfg.MetricsEnabled {
		httpMetrics = monitoring.NewMetrics(512)
		router.Use(monitoring.Middleware(httpMetrics))
	}

	router.HandleFunc("/api/beans", api.ListBeansHandler(db)).Methods("GET")
	router.HandleFunc("/api/roasters", api.ListRoastersHandler(db)).Methods("GET")
	router.HandleFunc("/api/farms", api.ListFarmsHandler(db)).Methods("GET")
	router.HandleFunc("/api/farms/{id}", api.FarmDetailHandler(db)).Methods("GET")

	router.HandleFunc("/api/merges/pending", api.PendingMergesHandler(db)).Methods("GET")
	router.HandleFunc("/api/merges/{id}/approve", api.ApproveMergeHandler(db)).Methods("POST")
	router.HandleFunc("/api/merges/{id}/reject", api.RejectMergeHandler(db)).Methods("POST")

	router.HandleFunc("/api/scrape/run", api.TriggerScrapeHandler(runner, logger)).Methods("POST")
	router.HandleFunc("/api/enrich/run", api.TriggerEnrichHandler(enricher, logger)).Methods("POST")
	router.HandleFunc("/api/dedup/run", api.TriggerDedupHandler(engine, logger)).Methods("POST")

	router.HandleFunc("/api/stats", api.StatsHandler(db, engine, runner)).Methods("GET")
	router.HandleFunc("/api/consistency", api.ConsistencyHandler(checker)).Methods("GET", "POST")

	router.Handle("/healthz", hm.LivenessHandler()).Methods("GET")
	router.Handle("/readyz", hm.ReadinessHandler()).Methods("GET")

	server := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	var adminServer *http.Server
	if cfg.ProfilingEnabled || cfg.MetricsEnabled {
		adminMux := http.NewServeMux()
		if cfg.ProfilingEnabled {
			monitoring.RegisterPprof(adminMux)
		}
		if cfg.MetricsEnabled {
			adminMux.Handle(cfg.MetricsPath, metricsPkg.Handler())
		}
		// JSON metrics for humans, with OpenAI spend alongside latency
		if cfg.MetricsEnabled && httpMetrics != nil && cfg.MetricsPath != "/metrics.json" {
			adminMux.Handle("/metrics.json", monitoring.MetricsHandlerWithCosts(httpMetrics, func() (monitoring.CostMetrics, error) {
				_, requests, costUSD, _ := splitter.GetCostStats()
				var perCall float64
				if requests > 0 {
					perCall = costUSD / float64(requests)
				}
				return monitoring.CostMetrics{
					TotalCostUSD:  costUSD,
					TotalRequests: requests,
					CostPerCall:   perCall,
				}, nil
			}))
		}
		adminMux.Handle("/healthz", hm.LivenessHandler())
		adminMux.Handle("/readyz", hm.ReadinessHandler())
		adminServer = &http.Server{Addr: ":" + cfg.ProfilingPort, Handler: adminMux}
		go func() {
			fmt.Printf("Admin server (pprof/metrics) starting on port %s\n", cfg.ProfilingPort)
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Admin HTTP server error: %v", err)
			}
		}()
	}

	go func() {
		fmt.Printf("Server starting on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error:", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin HTTP server shutdown error: %v", err)
		}
	}
	logger.Info("shutdown complete")
}
