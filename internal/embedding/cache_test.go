package embedding

import (
	"context"
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
	if c.Len() != 2 {
		t.Errorf("Len=%d", c.Len())
	}
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	mock := NewMockEmbedder(8)
	e := NewCachedEmbedder(mock, 10)

	first, err := e.Embed(ctx, "note text")
	if err != nil {
		t.Fatal(err)
	}
	first[0] = 42 // callers may not corrupt the cache
	second, err := e.Embed(ctx, "note text")
	if err != nil {
		t.Fatal(err)
	}
	if mock.Calls() != 1 {
		t.Errorf("expected 1 underlying call, got %d", mock.Calls())
	}
	if second[0] == 42 {
		t.Error("cached vector was aliased")
	}

	if v, err := e.Embed(ctx, "   "); err != nil || v != nil {
		t.Errorf("blank text: %v, %v", v, err)
	}
	if v, _ := e.Embed(ctx, "   "); v != nil {
		t.Error("unavailable result should not be cached as a vector")
	}
	if mock.Calls() != 3 {
		t.Errorf("blank text should reach the provider each time, calls=%d", mock.Calls())
	}
	if e.Dimensions() != 8 {
		t.Errorf("Dimensions=%d", e.Dimensions())
	}
}

func TestMockEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder(16)
	a, _ := e.Embed(ctx, "alpha")
	b, _ := e.Embed(ctx, "alpha")
	c, _ := e.Embed(ctx, "beta")
	if len(a) != 16 {
		t.Fatalf("len=%d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("mock embeddings should be deterministic")
		}
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
		}
	}
	if same {
		t.Error("different texts should embed differently")
	}
}

func TestNew(t *testing.T) {
	e, err := New(Options{Provider: ProviderMock, Dimensions: 4, CacheSize: 5}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.(*CachedEmbedder); !ok {
		t.Errorf("expected cached embedder, got %T", e)
	}
	if e.Dimensions() != 4 {
		t.Errorf("Dimensions=%d", e.Dimensions())
	}
	if _, err := New(Options{Provider: "word2vec"}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := New(Options{Provider: ProviderHTTP}, nil); err == nil {
		t.Error("expected error for missing endpoint")
	}
}
