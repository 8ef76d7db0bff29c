package materials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("book") != "b1" || r.URL.Query().Get("section") != "unit-1/a b" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"url":"https://cdn.example/imgs/a.png"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.ResolveImage(context.Background(), "b1", "unit-1/a b")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "https://cdn.example/imgs/a.png" {
		t.Fatalf("url = %q", got)
	}
}

func TestResolveImageFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).ResolveImage(context.Background(), "b1", "s"); err == nil {
		t.Fatal("expected error on 404")
	}
	if _, err := NewClient("").ResolveImage(context.Background(), "b1", "s"); err == nil {
		t.Fatal("expected error with no base url")
	}
}
