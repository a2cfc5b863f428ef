package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewGoogleCSE_Validation(t *testing.T) {
	if _, err := NewGoogleCSE(Config{APIKey: "k"}); err == nil {
		t.Error("missing engine id must fail")
	}
	if _, err := NewGoogleCSE(Config{EngineID: "cx"}); err == nil {
		t.Error("missing api key must fail")
	}
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/customsearch/v1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("key") != "k" || q.Get("cx") != "cx" || q.Get("q") != "golang generics" {
			t.Errorf("query = %v", q)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]string{
				{"title": "Go Blog", "link": "https://go.dev/blog", "snippet": "generics landed"},
				{"title": "Spec", "link": "https://go.dev/ref/spec", "snippet": "type parameters"},
			},
		})
	}))
	defer srv.Close()

	g, err := NewGoogleCSE(Config{APIKey: "k", EngineID: "cx", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	sources, err := g.Search(context.Background(), "golang generics")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(sources))
	}
	if sources[0].Title != "Go Blog" || sources[0].URL != "https://go.dev/blog" {
		t.Errorf("first source = %+v", sources[0])
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	g, _ := NewGoogleCSE(Config{APIKey: "k", EngineID: "cx"})
	if _, err := g.Search(context.Background(), "  "); err == nil {
		t.Fatal("empty query must fail")
	}
}

func TestSearch_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	g, _ := NewGoogleCSE(Config{APIKey: "k", EngineID: "cx", BaseURL: srv.URL})
	if _, err := g.Search(context.Background(), "anything"); err == nil {
		t.Fatal("upstream failure must surface as an error")
	}
}

func TestSearch_NoItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	g, _ := NewGoogleCSE(Config{APIKey: "k", EngineID: "cx", BaseURL: srv.URL})
	sources, err := g.Search(context.Background(), "obscure")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(sources) != 0 {
		t.Errorf("sources = %d, want 0", len(sources))
	}
}
