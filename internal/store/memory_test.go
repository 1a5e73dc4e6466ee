package store

import (
	"context"
	"errors"
	"testing"

	"github.com/i474232898/weather-etl/internal/weather"
)

func record(ds string) weather.WeatherRecord {
	return weather.WeatherRecord{City: "Brooklyn", Country: "US", Date: ds, Temp: 18.85, Weather: "clear sky"}
}

func TestMemoryStoreRejectsDuplicateDate(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	if err := s.Insert(ctx, record("2025-09-14")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := s.Insert(ctx, record("2025-09-14"))
	if !errors.Is(err, weather.ErrDuplicateDate) {
		t.Fatalf("expected duplicate date error, got %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 row, got %d", s.Len())
	}
}

func TestMemoryStoreRange(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	for _, ds := range []string{"2025-09-16", "2025-09-14", "2025-09-15", "2025-09-20"} {
		if err := s.Insert(ctx, record(ds)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	recs, err := s.Range(ctx, "2025-09-14", "2025-09-16")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, want := range []string{"2025-09-14", "2025-09-15", "2025-09-16"} {
		if recs[i].Date != want {
			t.Fatalf("record %d: expected %s, got %s", i, want, recs[i].Date)
		}
	}

	if _, err := s.Range(ctx, "2025-10-01", "2025-10-31"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreRetention(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()

	for _, ds := range []string{"2025-09-14", "2025-09-15", "2025-09-16"} {
		if err := s.Insert(ctx, record(ds)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if s.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", s.Len())
	}
	if _, err := s.Get(ctx, "2025-09-14"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected oldest date evicted, got %v", err)
	}
	if _, err := s.Get(ctx, "2025-09-16"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryStoreInsertErrors(t *testing.T) {
	s := NewMemoryStore(0)

	if err := s.Insert(context.Background(), record("not-a-date")); !errors.Is(err, weather.ErrInsert) {
		t.Fatalf("expected insert error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Insert(ctx, record("2025-09-14")); !errors.Is(err, weather.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected no rows, got %d", s.Len())
	}
}
