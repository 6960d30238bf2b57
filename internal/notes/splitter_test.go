package notes

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"coffee-catalog/internal/models"
	"coffee-catalog/internal/prompts"
)

// mockChatClient returns canned completions without API calls. Safe for
// concurrent use; batch splitting calls it from several goroutines.
type mockChatClient struct {
	mu          sync.Mutex
	content     string
	err         error
	callCount   int
	lastReq     openai.ChatCompletionRequest
	hadDeadline bool
}

func (m *mockChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.lastReq = req
	_, m.hadDeadline = ctx.Deadline()
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.content}},
		},
		Usage: openai.Usage{PromptTokens: 50, CompletionTokens: 20, TotalTokens: 70},
	}, nil
}

func newTestSplitter(t *testing.T, client ChatClient) *Splitter {
	t.Helper()
	pm, err := prompts.NewManager("")
	if err != nil {
		t.Fatalf("prompts.NewManager: %v", err)
	}
	s := NewSplitter(client, pm, DefaultConfig())
	t.Cleanup(s.Close)
	return s
}

func TestSplitParsesStructuredResponse(t *testing.T) {
	client := &mockChatClient{content: `{"notes": ["mango", "jasmine", "honey"]}`}
	s := newTestSplitter(t, client)

	notes, err := s.Split(context.Background(), "Mango and jasmine with a honeyed finish")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	want := []string{"mango", "jasmine", "honey"}
	if !reflect.DeepEqual(notes, want) {
		t.Errorf("notes = %v, want %v", notes, want)
	}
}

func TestSplitTrimsMarkdownFences(t *testing.T) {
	client := &mockChatClient{content: "```json\n{\"notes\": [\"cherry\"]}\n```"}
	s := newTestSplitter(t, client)

	notes, err := s.Split(context.Background(), "bright cherry")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(notes) != 1 || notes[0] != "cherry" {
		t.Errorf("notes = %v", notes)
	}
}

func TestSplitHonorsConfiguredTemperatureAndTimeout(t *testing.T) {
	client := &mockChatClient{content: `{"notes": ["fig"]}`}
	pm, err := prompts.NewManager("")
	if err != nil {
		t.Fatalf("prompts.NewManager: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Temperature = 0.7
	cfg.Timeout = 5 * time.Second
	s := NewSplitter(client, pm, cfg)
	t.Cleanup(s.Close)

	if _, err := s.Split(context.Background(), "ripe fig"); err != nil {
		t.Fatalf("Split: %v", err)
	}
	if client.lastReq.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", client.lastReq.Temperature)
	}
	if !client.hadDeadline {
		t.Error("request context has no deadline despite configured timeout")
	}

	// GuessRegion goes through the same request settings.
	if _, err := s.GuessRegion(context.Background(), "El Diviso", "", "Colombia"); err != nil {
		t.Fatalf("GuessRegion: %v", err)
	}
	if client.lastReq.Temperature != 0.7 {
		t.Errorf("region temperature = %v, want 0.7", client.lastReq.Temperature)
	}
	if !client.hadDeadline {
		t.Error("region request context has no deadline despite configured timeout")
	}
}

func TestSplitCachesResults(t *testing.T) {
	client := &mockChatClient{content: `{"notes": ["cocoa"]}`}
	s := newTestSplitter(t, client)

	for i := 0; i < 3; i++ {
		if _, err := s.Split(context.Background(), "dark cocoa"); err != nil {
			t.Fatalf("Split: %v", err)
		}
	}
	if client.callCount != 1 {
		t.Errorf("API called %d times, want 1 (cache miss only)", client.callCount)
	}
	if s.CacheSize() != 1 {
		t.Errorf("cache size = %d, want 1", s.CacheSize())
	}
}

func TestSplitFallsBackOnAPIError(t *testing.T) {
	client := &mockChatClient{err: errors.New("rate limited")}
	s := newTestSplitter(t, client)

	notes, err := s.Split(context.Background(), "Mango, jasmine & honey")
	if err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}
	want := []string{"mango", "jasmine", "honey"}
	if !reflect.DeepEqual(notes, want) {
		t.Errorf("notes = %v, want %v", notes, want)
	}
	if s.CacheSize() != 0 {
		t.Error("heuristic result must not be cached")
	}
}

func TestSplitEmptyInput(t *testing.T) {
	client := &mockChatClient{}
	s := newTestSplitter(t, client)

	notes, err := s.Split(context.Background(), "   ")
	if err != nil || notes != nil {
		t.Errorf("Split(blank) = %v, %v; want nil, nil", notes, err)
	}
	if client.callCount != 0 {
		t.Error("blank input must not hit the API")
	}
}

func TestHeuristicSplit(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Mango, jasmine, honey", []string{"mango", "jasmine", "honey"}},
		{"cherry / cola / brown sugar", []string{"cherry", "cola", "brown sugar"}},
		{"Plum and raisin", []string{"plum", "raisin"}},
		{"Chocolate; chocolate", []string{"chocolate"}},
	}
	for _, c := range cases {
		if got := HeuristicSplit(c.in); !reflect.DeepEqual(got, c.want) {
			t.Errorf("HeuristicSplit(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestGuessRegion(t *testing.T) {
	client := &mockChatClient{content: `{"region": "Huila", "confidence": 0.9}`}
	s := newTestSplitter(t, client)

	guess, err := s.GuessRegion(context.Background(), "El Diviso", "Nestor Lasso", "Colombia")
	if err != nil {
		t.Fatalf("GuessRegion: %v", err)
	}
	if guess.Region != "Huila" || guess.Confidence != 0.9 {
		t.Errorf("guess = %+v", guess)
	}
}

func TestGuessRegionUnknown(t *testing.T) {
	client := &mockChatClient{content: `{"region": "unknown", "confidence": 0.2}`}
	s := newTestSplitter(t, client)

	guess, err := s.GuessRegion(context.Background(), "Unnamed", "", "")
	if err != nil {
		t.Fatalf("GuessRegion: %v", err)
	}
	if guess.Region != "" {
		t.Errorf("unknown region should map to empty, got %q", guess.Region)
	}
}

func TestCostTracker(t *testing.T) {
	tracker := &CostTracker{startTime: time.Now()}

	tokens, requests, cost, _ := tracker.GetStats()
	if tokens != 0 || requests != 0 || cost != 0 {
		t.Fatalf("initial state not zero: %d %d %f", tokens, requests, cost)
	}

	tracker.AddUsage(1000, 500)
	tokens, requests, cost, _ = tracker.GetStats()
	if tokens != 1500 || requests != 1 {
		t.Errorf("usage = %d tokens / %d requests", tokens, requests)
	}
	if cost <= 0 {
		t.Errorf("cost = %f, want > 0", cost)
	}
}

func TestProcessBeansFillsNotes(t *testing.T) {
	client := &mockChatClient{content: `{"notes": ["cherry", "cacao"]}`}
	s := newTestSplitter(t, client)

	beans := []models.Bean{
		{ID: 1, RawNotes: "Cherry and cacao"},
		{ID: 2}, // nothing to split
		{ID: 3, RawNotes: "Cherry and cacao"}, // cache hit, no second call
	}
	out := s.ProcessBeans(context.Background(), beans)

	if len(out) != 3 {
		t.Fatalf("beans = %d, want 3", len(out))
	}
	want := []string{"cherry", "cacao"}
	if !reflect.DeepEqual(out[0].Notes, want) {
		t.Errorf("bean 1 notes = %v, want %v", out[0].Notes, want)
	}
	if out[1].Notes != nil {
		t.Errorf("bean 2 notes = %v, want none", out[1].Notes)
	}
	if !reflect.DeepEqual(out[2].Notes, want) {
		t.Errorf("bean 3 notes = %v, want %v", out[2].Notes, want)
	}
}

func TestProcessBeansKeepsHeuristicOnAPIFailure(t *testing.T) {
	client := &mockChatClient{err: errors.New("rate limited")}
	s := newTestSplitter(t, client)

	beans := s.ProcessBeans(context.Background(), []models.Bean{
		{ID: 1, RawNotes: "cherry, cacao"},
	})
	want := []string{"cherry", "cacao"}
	if !reflect.DeepEqual(beans[0].Notes, want) {
		t.Errorf("notes = %v, want heuristic %v", beans[0].Notes, want)
	}
}
