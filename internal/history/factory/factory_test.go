package factory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/graphbench/internal/history"
	"github.com/loykin/graphbench/internal/history/opensearch"
	"github.com/loykin/graphbench/internal/history/sqlite"
)

func TestNewSinkFromDSN_SQLite(t *testing.T) {
	dir := t.TempDir()
	for _, dsn := range []string{
		"sqlite://" + filepath.Join(dir, "a.db"),
		filepath.Join(dir, "b.db"),
		":memory:",
	} {
		s, err := NewSinkFromDSN(dsn)
		if err != nil {
			t.Fatalf("DSN %q: %v", dsn, err)
		}
		if _, ok := s.(*sqlite.Sink); !ok {
			t.Fatalf("DSN %q: expected sqlite sink, got %T", dsn, s)
		}
		_ = s.(*sqlite.Sink).Close()
	}
}

func TestNewSinkFromDSN_Errors(t *testing.T) {
	for _, dsn := range []string{"", "   ", "mysql://localhost/db"} {
		if _, err := NewSinkFromDSN(dsn); err == nil {
			t.Errorf("expected error for DSN %q", dsn)
		}
	}
}

func TestOpenSearchDSN(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	s, err := NewSinkFromDSN("opensearch://" + host + "/bench-runs")
	if err != nil {
		t.Fatalf("NewSinkFromDSN: %v", err)
	}
	if _, ok := s.(*opensearch.Sink); !ok {
		t.Fatalf("expected opensearch sink, got %T", s)
	}
	if err := s.Send(context.Background(), history.Event{Type: history.EventRunFinished, OccurredAt: time.Now()}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/bench-runs/_doc" {
		t.Fatalf("unexpected path %q", path)
	}
}

func TestNewFanout(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFanout([]string{filepath.Join(dir, "x.db"), "sqlite://" + filepath.Join(dir, "y.db")})
	if err != nil {
		t.Fatalf("NewFanout: %v", err)
	}
	if len(f) != 2 {
		t.Fatalf("expected 2 sinks, got %d", len(f))
	}
	e := history.Event{Type: history.EventRunFinished, OccurredAt: time.Now(), Record: history.RunRecord{RunID: "f"}}
	if err := f.Send(context.Background(), e); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := NewFanout([]string{filepath.Join(dir, "z.db"), "mysql://nope"}); err == nil {
		t.Fatal("expected error for unsupported DSN")
	}
}
