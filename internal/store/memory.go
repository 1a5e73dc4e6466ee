package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/i474232898/weather-etl/internal/weather"
)

var (
	// ErrNotFound is returned when no record is stored for a date or range.
	ErrNotFound = errors.New("no weather record for date")
)

// MemoryStore is a concurrency-safe in-memory destination with the same
// one-row-per-date contract as the Postgres table.
type MemoryStore struct {
	mu sync.RWMutex

	// key: scheduled date
	records map[weather.Date]weather.WeatherRecord

	// max number of dates kept (0 = unlimited); the oldest dates go first
	maxHistory int
}

// NewMemoryStore creates a new MemoryStore.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int) *MemoryStore {
	return &MemoryStore{
		records:    make(map[weather.Date]weather.WeatherRecord),
		maxHistory: maxHistory,
	}
}

// Insert stores rec, refusing a second record for the same date.
func (s *MemoryStore) Insert(ctx context.Context, rec weather.WeatherRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", weather.ErrConnection, err)
	}
	ds, err := weather.ParseDate(rec.Date)
	if err != nil {
		return fmt.Errorf("%w: %v", weather.ErrInsert, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[ds]; ok {
		return fmt.Errorf("%w: %s", weather.ErrDuplicateDate, ds)
	}
	s.records[ds] = rec

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.records) > s.maxHistory {
		dates := s.sortedDates()
		for _, d := range dates[:len(dates)-s.maxHistory] {
			delete(s.records, d)
		}
	}
	return nil
}

// Get returns the record for ds.
func (s *MemoryStore) Get(ctx context.Context, ds weather.Date) (weather.WeatherRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[ds]
	if !ok {
		return weather.WeatherRecord{}, ErrNotFound
	}
	return rec, nil
}

// Range returns records with from <= date <= to, oldest first.
func (s *MemoryStore) Range(ctx context.Context, from, to weather.Date) ([]weather.WeatherRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []weather.WeatherRecord
	for _, d := range s.sortedDates() {
		if d >= from && d <= to {
			result = append(result, s.records[d])
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// Len returns the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// sortedDates must be called with s.mu held. YYYY-MM-DD sorts lexically.
func (s *MemoryStore) sortedDates() []weather.Date {
	dates := make([]weather.Date, 0, len(s.records))
	for d := range s.records {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })
	return dates
}
