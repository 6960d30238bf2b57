package matching

import (
	"sync"
	"testing"
)

func TestNormalizeFarmName_PrefixSuffix(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Finca Las Flores", "las flores"},
		{"Quebraditas Coffee Farm", "quebraditas"},
		{"Elora Washing Station", "elora"},
		{"Hacienda La Esmeralda", "la esmeralda"},
		{"Fazenda Santa Ines", "santa ines"},
		{"Gesha Village", "gesha"},
		{"Duromina Coffee Processing Center", "duromina"},
		{"La Palma", "la palma"},
		{"", ""},
		{"   ", ""},
	}
	for _, c := range cases {
		if got := NormalizeFarmName(c.in); got != c.want {
			t.Fatalf("NormalizeFarmName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeFarmName_AccentInsensitive(t *testing.T) {
	a := NormalizeFarmName("Volcán")
	b := NormalizeFarmName("Volcan")
	if a != b || a != "volcan" {
		t.Fatalf("expected both to normalize to %q, got %q and %q", "volcan", a, b)
	}
}

func TestNormalizeFarmName_SingleStripOnly(t *testing.T) {
	// Only one prefix and one suffix are ever removed; re-normalizing must
	// be a no-op.
	got := NormalizeFarmName("Finca Example Farm")
	if got != "example" {
		t.Fatalf("expected %q, got %q", "example", got)
	}
	if again := NormalizeFarmName(got); again != got {
		t.Fatalf("normalization not idempotent: %q -> %q", got, again)
	}
	// A name that is itself a stripped word must not collapse to empty.
	if got := NormalizeFarmName("Finca Finca"); got != "finca" {
		t.Fatalf("over-stripped compound name: got %q", got)
	}
}

func TestNormalizeFarmName_Idempotent(t *testing.T) {
	inputs := []string{
		"Finca Las Flores",
		"Quebraditas Coffee Farm",
		"Hacienda Sofía Washing Station",
		"weird   spacing ",
		"Fazenda Fazenda Farm",
	}
	for _, in := range inputs {
		once := NormalizeFarmName(in)
		twice := NormalizeFarmName(once)
		if once != twice {
			t.Fatalf("NormalizeFarmName not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestExtractSurnames(t *testing.T) {
	got := ExtractSurnames("Edinson Argote & Luz Ángela Rojas")
	want := []string{"edinson", "argote", "luz", "angela", "rojas"}
	if len(got) != len(want) {
		t.Fatalf("expected %d surnames, got %v", len(want), got)
	}
	for _, w := range want {
		if !got.Contains(w) {
			t.Fatalf("missing surname %q in %v", w, got)
		}
	}
}

func TestExtractSurnames_StopwordsAndInitials(t *testing.T) {
	if got := ExtractSurnames("Various smallholder farmers"); len(got) != 0 {
		t.Fatalf("expected empty set, got %v", got)
	}
	// Initials and digits never become surnames.
	got := ExtractSurnames("Faysel A. Yonis, Lot 12")
	if got.Contains("a") || got.Contains("lot") {
		t.Fatalf("unexpected tokens in %v", got)
	}
	if !got.Contains("faysel") || !got.Contains("yonis") {
		t.Fatalf("expected faysel and yonis in %v", got)
	}
}

func TestExtractSurnames_Empty(t *testing.T) {
	if got := ExtractSurnames(""); len(got) != 0 {
		t.Fatalf("expected empty set for empty input, got %v", got)
	}
	if got := ExtractSurnames("12 - 34 !!"); len(got) != 0 {
		t.Fatalf("expected empty set for letterless input, got %v", got)
	}
}

func TestExtractSurnames_Dedup(t *testing.T) {
	got := ExtractSurnames("Rojas y Rojas")
	if len(got) != 1 || !got.Contains("rojas") {
		t.Fatalf("expected {rojas}, got %v", got)
	}
}

// Normalization must stay safe and correct under concurrent callers with no
// coordination, the way the dedup worker pool invokes it.
func TestNormalizeFarmName_Concurrent(t *testing.T) {
	inputs := []struct {
		in   string
		want string
	}{
		{"Finca Volcán Azul", "volcan azul"},
		{"Hacienda São José Coffee Farm", "sao jose"},
		{"Quebraditas Washing Station", "quebraditas"},
		{"Fazenda Água Limpa", "agua limpa"},
	}

	var wg sync.WaitGroup
	errCh := make(chan string, 64)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c := inputs[i%len(inputs)]
				if got := NormalizeFarmName(c.in); got != c.want {
					select {
					case errCh <- got + " != " + c.want:
					default:
					}
					return
				}
				if got := ExtractSurnames("Edinson Argote & Luz Ángela Rojas"); !got.Contains("angela") {
					select {
					case errCh <- "missing angela":
					default:
					}
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	if msg, ok := <-errCh; ok {
		t.Fatalf("corrupted normalization under concurrency: %s", msg)
	}
}
