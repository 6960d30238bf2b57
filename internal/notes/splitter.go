package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"coffee-catalog/internal/models"
	"coffee-catalog/internal/prompts"
	errs "coffee-catalog/pkg/errors"
	"coffee-catalog/pkg/metrics"
)

// ChatClient abstracts the OpenAI client so tests can stub responses.
// *openai.Client satisfies it.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// CostTracker tracks OpenAI API usage and costs.
type CostTracker struct {
	mu               sync.RWMutex
	totalTokens      int
	totalRequests    int
	estimatedCostUSD float64
	startTime        time.Time
}

func (c *CostTracker) AddUsage(promptTokens, completionTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalTokens += promptTokens + completionTokens
	c.totalRequests++

	// gpt-4o-mini pricing: $0.15/1M prompt tokens, $0.60/1M completion tokens
	promptCost := float64(promptTokens) * 0.15 / 1_000_000
	completionCost := float64(completionTokens) * 0.60 / 1_000_000
	c.estimatedCostUSD += promptCost + completionCost
}

func (c *CostTracker) GetStats() (totalTokens, totalRequests int, estimatedCostUSD float64, duration time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalTokens, c.totalRequests, c.estimatedCostUSD, time.Since(c.startTime)
}

var (
	mAPICalls   = metrics.Default.Counter("notes_api_calls_total", "OpenAI completions requested")
	mCacheHits  = metrics.Default.Counter("notes_cache_hits_total", "Note splits served from cache")
	mFallbacks  = metrics.Default.Counter("notes_fallback_splits_total", "Splits that fell back to the heuristic")
	mNotesSplit = metrics.Default.Counter("notes_split_total", "Individual notes produced")
)

// Config controls the splitter's model and cache behavior.
type Config struct {
	Model       string
	CacheTTL    time.Duration
	CacheSize   int
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration // per-request deadline; 0 = caller's context only
}

func DefaultConfig() Config {
	return Config{
		Model:       openai.GPT4oMini,
		CacheTTL:    24 * time.Hour,
		CacheSize:   1000,
		MaxTokens:   150,
		Temperature: 0.1,
	}
}

// Splitter turns free-form tasting copy into individual flavor notes
// using the chat API, with a local heuristic as fallback so a dead API
// key never blocks a scrape run.
type Splitter struct {
	client      ChatClient
	pm          *prompts.Manager
	cfg         Config
	costTracker *CostTracker
	cache       *resultCache
}

func NewSplitter(client ChatClient, pm *prompts.Manager, cfg Config) *Splitter {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 150
	}
	return &Splitter{
		client:      client,
		pm:          pm,
		cfg:         cfg,
		costTracker: &CostTracker{startTime: time.Now()},
		cache:       newResultCache(cfg.CacheTTL, cfg.CacheSize),
	}
}

// Close stops the cache cleanup goroutine.
func (s *Splitter) Close() { s.cache.Stop() }

// requestCtx bounds a single API call by the configured timeout.
func (s *Splitter) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}
	return ctx, func() {}
}

// GetCostStats returns current API usage statistics.
func (s *Splitter) GetCostStats() (totalTokens, totalRequests int, estimatedCostUSD float64, duration time.Duration) {
	return s.costTracker.GetStats()
}

// CacheSize returns the number of cached splits.
func (s *Splitter) CacheSize() int { return s.cache.Size() }

// Split extracts individual tasting notes from raw product copy.
// Empty input returns no notes and no error.
func (s *Splitter) Split(ctx context.Context, raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	key := cacheKey(s.cfg.Model, raw)
	if cached, found := s.cache.Get(key); found {
		mCacheHits.Inc(1)
		return cached, nil
	}

	result, err := s.splitViaAPI(ctx, raw)
	if err != nil {
		// The heuristic result is not cached; a later call retries the API.
		mFallbacks.Inc(1)
		return HeuristicSplit(raw), nil
	}

	s.cache.Set(key, result)
	mNotesSplit.Inc(int64(len(result)))
	return result, nil
}

func (s *Splitter) splitViaAPI(ctx context.Context, raw string) ([]string, error) {
	system, err := s.pm.Render("notes_system", nil)
	if err != nil {
		return nil, err
	}
	user, err := s.pm.Render("notes_user", struct{ RawNotes string }{RawNotes: raw})
	if err != nil {
		return nil, err
	}

	mAPICalls.Inc(1)
	rctx, cancel := s.requestCtx(ctx)
	defer cancel()
	resp, err := s.client.CreateChatCompletion(rctx, openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		return nil, errs.NewExternal("notes.Split", "openai", "chat completion failed", err)
	}
	s.costTracker.AddUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return nil, errs.NewExternal("notes.Split", "openai", "empty completion", nil)
	}
	notes, err := parseNotesResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	return notes, nil
}

func parseNotesResponse(content string) ([]string, error) {
	var parsed struct {
		Notes []string `json:"notes"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &parsed); err != nil {
		return nil, fmt.Errorf("parsing notes response: %w", err)
	}
	return normalizeNotes(parsed.Notes), nil
}

// extractJSON trims markdown fences and surrounding prose that models
// sometimes wrap around the JSON object.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return content
}

var noteSeparators = regexp.MustCompile(`\s*(?:,|;|/|\||\band\b|&|\+)\s*`)

// HeuristicSplit splits tasting copy on common separators without the
// API. Used as fallback and for offline runs.
func HeuristicSplit(raw string) []string {
	parts := noteSeparators.Split(strings.ToLower(raw), -1)
	return normalizeNotes(parts)
}

func normalizeNotes(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, note := range in {
		note = strings.ToLower(strings.TrimSpace(strings.Trim(note, ".")))
		if note == "" {
			continue
		}
		if _, dup := seen[note]; dup {
			continue
		}
		seen[note] = struct{}{}
		out = append(out, note)
	}
	return out
}

// RegionGuess is the AI's best estimate of a farm's growing region.
type RegionGuess struct {
	Region     string  `json:"region"`
	Confidence float64 `json:"confidence"`
}

// GuessRegion asks the model for a farm's likely growing region. An
// "unknown" answer or low confidence returns an empty region rather
// than an error; callers treat it as no data.
func (s *Splitter) GuessRegion(ctx context.Context, farmName, producerName, country string) (RegionGuess, error) {
	system, err := s.pm.Render("region_system", nil)
	if err != nil {
		return RegionGuess{}, err
	}
	user, err := s.pm.Render("region_user", struct {
		FarmName     string
		ProducerName string
		Country      string
	}{farmName, producerName, country})
	if err != nil {
		return RegionGuess{}, err
	}

	mAPICalls.Inc(1)
	rctx, cancel := s.requestCtx(ctx)
	defer cancel()
	resp, err := s.client.CreateChatCompletion(rctx, openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: s.cfg.Temperature,
		MaxTokens:   60,
	})
	if err != nil {
		return RegionGuess{}, errs.NewExternal("notes.GuessRegion", "openai", "chat completion failed", err)
	}
	s.costTracker.AddUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return RegionGuess{}, errs.NewExternal("notes.GuessRegion", "openai", "empty completion", nil)
	}
	var guess RegionGuess
	if err := json.Unmarshal([]byte(extractJSON(resp.Choices[0].Message.Content)), &guess); err != nil {
		return RegionGuess{}, fmt.Errorf("parsing region response: %w", err)
	}
	if strings.EqualFold(guess.Region, "unknown") {
		guess.Region = ""
	}
	if guess.Confidence < 0 || guess.Confidence > 1 {
		guess.Confidence = 0
	}
	return guess, nil
}

// ProcessBeans splits notes for a batch of beans, at most five API calls
// in flight. Beans keep their heuristic notes when the API fails, so the
// batch never errors as a whole.
func (s *Splitter) ProcessBeans(ctx context.Context, beans []models.Bean) []models.Bean {
	sem := make(chan struct{}, 5)
	var wg sync.WaitGroup

	for i := range beans {
		if beans[i].RawNotes == "" {
			continue
		}
		wg.Add(1)
		go func(b *models.Bean) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			notes, err := s.Split(ctx, b.RawNotes)
			if err == nil {
				b.Notes = notes
			}
		}(&beans[i])
	}
	wg.Wait()
	return beans
}
