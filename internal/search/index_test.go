package search

import (
	"sync"
	"testing"

	"gorm.io/datatypes"

	"github.com/tbourn/perfmon-backend/internal/domain"
)

func TestOptionsAndDefaults(t *testing.T) {
	def := defaultConfig()
	if def.minRunes != 1 || def.stopwords != nil || def.maxDocs != 0 {
		t.Fatalf("defaultConfig unexpected: %#v", def)
	}

	cfg := def
	WithMinRunes(10)(&cfg)
	WithMinRunes(-5)(&cfg) // no-op
	if cfg.minRunes != 10 {
		t.Fatalf("WithMinRunes: %d", cfg.minRunes)
	}
	WithStopwords([]string{"  The ", "", "و"})(&cfg)
	if _, ok := cfg.stopwords["the"]; !ok {
		t.Fatalf("WithStopwords missing 'the': %#v", cfg.stopwords)
	}
	cfg2 := def
	WithStopwords(nil)(&cfg2)
	if cfg2.stopwords != nil {
		t.Fatalf("empty stopwords should remain nil")
	}
	WithMaxDocs(2)(&cfg)
	WithMaxDocs(0)(&cfg) // no-op
	if cfg.maxDocs != 2 {
		t.Fatalf("WithMaxDocs: %d", cfg.maxDocs)
	}
}

func TestTopK_RanksAndBreaksTies(t *testing.T) {
	idx := New()
	idx.Add(1, "shortage of spare parts in the north depot")
	idx.Add(2, "spare parts")
	idx.Add(3, "staff on leave")
	idx.Add(4, "   ") // ignored

	if idx.Len() != 3 {
		t.Fatalf("Len = %d", idx.Len())
	}
	res := idx.TopK("spare parts", 5)
	if len(res) != 2 || res[0].ID != 2 || res[0].Score != 1 {
		t.Fatalf("results = %+v", res)
	}
	if res[1].ID != 1 || res[1].Score <= 0 || res[1].Score >= 1 {
		t.Fatalf("second = %+v", res[1])
	}

	if got := idx.TopK("unrelated", 5); got != nil {
		t.Fatalf("no overlap should return nil, got %+v", got)
	}
	if got := idx.TopK("  ", 5); got != nil {
		t.Fatalf("blank query should return nil")
	}
	if got := idx.TopK("parts", 0); len(got) != 2 {
		t.Fatalf("k<=0 defaults to 3, got %d", len(got))
	}
}

func TestAdd_ReplacesAndCaps(t *testing.T) {
	idx := New(WithMaxDocs(1), WithMinRunes(3))
	idx.Add(1, "first text")
	idx.Add(2, "second text") // over cap
	idx.Add(1, "replaced body")
	idx.Add(3, "ab") // too short

	if idx.Len() != 1 {
		t.Fatalf("Len = %d", idx.Len())
	}
	if res := idx.TopK("replaced", 1); len(res) != 1 || res[0].Snippet != "replaced body" {
		t.Fatalf("replace failed: %+v", res)
	}
}

func TestTokenize_PersianAndStopwords(t *testing.T) {
	toks := tokenize("کمبود نیرو و تجهیزات", map[string]struct{}{"و": {}})
	if _, ok := toks["کمبود"]; !ok || len(toks) != 3 {
		t.Fatalf("tokens = %v", toks)
	}
	if normalizeWhitespace("a \t\n b\u200cc") != "a b c" {
		t.Fatalf("normalizeWhitespace = %q", normalizeWhitespace("a \t\n b\u200cc"))
	}
	if overlap(map[string]struct{}{"a": {}}, nil) != 0 {
		t.Fatalf("overlap with empty set should be 0")
	}
}

func TestIndex_ConcurrentUse(t *testing.T) {
	idx := New()
	var wg sync.WaitGroup
	for n := uint(1); n <= 20; n++ {
		wg.Add(2)
		go func(id uint) { defer wg.Done(); idx.Add(id, "delay in delivery") }(n)
		go func() { defer wg.Done(); _ = idx.TopK("delivery", 3) }()
	}
	wg.Wait()
	if idx.Len() != 20 {
		t.Fatalf("Len = %d", idx.Len())
	}
}

func TestResponseText(t *testing.T) {
	r := domain.Response{
		ID:        9,
		FreeText:  " late supplier ",
		SampleRef: "S-42",
		Actions:   datatypes.JSON(`[{"text":"call vendor","owner":"ops"},{"text":"","owner":""}]`),
	}
	if got := ResponseText(r); got != "late supplier\ncall vendor\nops\nS-42" {
		t.Fatalf("ResponseText = %q", got)
	}
	r.Actions = datatypes.JSON(`{bad`)
	if got := ResponseText(r); got != "late supplier\nS-42" {
		t.Fatalf("malformed actions should be skipped: %q", got)
	}

	idx := New()
	Rebuild(idx, []domain.Response{r, {ID: 10, FreeText: "vendor audit"}})
	if res := idx.TopK("supplier", 1); len(res) != 1 || res[0].ID != 9 {
		t.Fatalf("Rebuild: %+v", res)
	}
}
