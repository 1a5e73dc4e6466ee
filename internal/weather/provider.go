package weather

import (
	"context"
)

// Provider abstracts the upstream weather API. Fetch returns the raw JSON body
// of a successful response.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, loc Location) ([]byte, error)
}

// ArtifactStore holds raw observations keyed by date. Get must wrap ErrNotFound
// when no artifact exists for the date.
type ArtifactStore interface {
	Put(ctx context.Context, ds Date, raw []byte) error
	Get(ctx context.Context, ds Date) ([]byte, error)
}

// Store is the destination for normalized records. Insert must fail with
// ErrDuplicateDate when a row for the record's date already exists.
type Store interface {
	Insert(ctx context.Context, rec WeatherRecord) error
	Get(ctx context.Context, ds Date) (WeatherRecord, error)
	Range(ctx context.Context, from, to Date) ([]WeatherRecord, error)
}
