package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/i474232898/weather-etl/internal/common"
	"github.com/i474232898/weather-etl/internal/weather"
)

// uniqueViolation is the SQLSTATE Postgres reports for a unique constraint conflict.
const uniqueViolation = "23505"

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS weather_table (
		id          BIGSERIAL PRIMARY KEY,
		city        TEXT             NOT NULL,
		country     TEXT             NOT NULL,
		latitude    DOUBLE PRECISION NOT NULL,
		longitude   DOUBLE PRECISION NOT NULL,
		todays_date DATE             NOT NULL,
		humidity    DOUBLE PRECISION NOT NULL,
		pressure    DOUBLE PRECISION NOT NULL,
		min_temp    DOUBLE PRECISION NOT NULL,
		max_temp    DOUBLE PRECISION NOT NULL,
		temp        DOUBLE PRECISION NOT NULL,
		weather     TEXT             NOT NULL
	)`

// Fails when the table already holds duplicate dates; those must be cleaned up by hand.
const createUniqueDateSQL = `
	CREATE UNIQUE INDEX IF NOT EXISTS weather_table_todays_date_key
		ON weather_table (todays_date)`

const insertSQL = `
	INSERT INTO weather_table
		(city, country, latitude, longitude,
		 todays_date, humidity, pressure,
		 min_temp, max_temp, temp, weather)
	VALUES
		(@city, @country, @latitude, @longitude,
		 @todays_date, @humidity, @pressure,
		 @min_temp, @max_temp, @temp, @weather)`

const selectSQL = `
	SELECT city, country, latitude, longitude, todays_date,
	       humidity, pressure, min_temp, max_temp, temp, weather
	FROM weather_table`

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore writes records to weather_table. The pool is opened on first
// use and re-attempted on the next call after a failed connect, so a database
// outage fails the run instead of the process.
type PostgresStore struct {
	dsn     string
	timeout time.Duration
	connect func(ctx context.Context, dsn string) (DB, error)
	logger  *zap.SugaredLogger

	mu sync.Mutex
	db DB
}

// NewPostgresStore creates a store for dsn. timeout bounds every statement (0 = none).
func NewPostgresStore(dsn string, timeout time.Duration, logger *zap.SugaredLogger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PostgresStore{
		dsn:     dsn,
		timeout: timeout,
		connect: connectPool,
		logger:  logger,
	}
}

func connectPool(ctx context.Context, dsn string) (DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (s *PostgresStore) conn(ctx context.Context) (DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}
	if s.dsn == "" {
		return nil, fmt.Errorf("%w: no DSN configured", weather.ErrConnection)
	}

	db, err := s.connect(ctx, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", weather.ErrConnection, err)
	}
	// No insert may run before the unique date index exists.
	if err := ensureSchema(ctx, db); err != nil {
		db.Close()
		if isConnectivity(err) {
			return nil, fmt.Errorf("%w: %v", weather.ErrConnection, err)
		}
		return nil, err
	}
	s.db = db
	s.logger.Infow("connected to destination store")
	return db, nil
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// EnsureSchema connects, which creates weather_table and its unique date
// index when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.conn(ctx)
	return err
}

func ensureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create weather_table: %w", err)
	}
	if _, err := db.Exec(ctx, createUniqueDateSQL); err != nil {
		return fmt.Errorf("create unique index on todays_date: %w", err)
	}
	return nil
}

// Insert adds one row for rec.
func (s *PostgresStore) Insert(ctx context.Context, rec weather.WeatherRecord) error {
	ds, err := weather.ParseDate(rec.Date)
	if err != nil {
		return fmt.Errorf("%w: %v", weather.ErrInsert, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	tag, err := db.Exec(ctx, insertSQL, pgx.NamedArgs{
		"city":        rec.City,
		"country":     rec.Country,
		"latitude":    rec.Latitude,
		"longitude":   rec.Longitude,
		"todays_date": ds.Time(),
		"humidity":    rec.Humidity,
		"pressure":    rec.Pressure,
		"min_temp":    rec.MinTemp,
		"max_temp":    rec.MaxTemp,
		"temp":        rec.Temp,
		"weather":     rec.Weather,
	})
	if err != nil {
		return classify(ds, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: expected 1 row, inserted %d", weather.ErrInsert, tag.RowsAffected())
	}
	return nil
}

// Get returns the row for ds.
func (s *PostgresStore) Get(ctx context.Context, ds weather.Date) (weather.WeatherRecord, error) {
	recs, err := s.query(ctx, selectSQL+" WHERE todays_date = $1", ds.Time())
	if err != nil {
		return weather.WeatherRecord{}, err
	}
	if len(recs) == 0 {
		return weather.WeatherRecord{}, ErrNotFound
	}
	return recs[0], nil
}

// Range returns rows with from <= todays_date <= to, oldest first.
func (s *PostgresStore) Range(ctx context.Context, from, to weather.Date) ([]weather.WeatherRecord, error) {
	recs, err := s.query(ctx, selectSQL+" WHERE todays_date BETWEEN $1 AND $2 ORDER BY todays_date",
		from.Time(), to.Time())
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs, nil
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]weather.WeatherRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []weather.WeatherRecord
	for rows.Next() {
		var (
			r    weather.WeatherRecord
			date time.Time
		)
		if err := rows.Scan(&r.City, &r.Country, &r.Latitude, &r.Longitude, &date,
			&r.Humidity, &r.Pressure, &r.MinTemp, &r.MaxTemp, &r.Temp, &r.Weather); err != nil {
			return nil, err
		}
		r.Date = date.Format(weather.DateLayout)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Ping checks the destination is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", weather.ErrConnection, err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
}

// classify maps a failed insert onto the error taxonomy.
func classify(ds weather.Date, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s (%s)", weather.ErrDuplicateDate, ds, pgErr.ConstraintName)
		}
		return fmt.Errorf("%w: %s: %s", weather.ErrInsert, pgErr.Code, pgErr.Message)
	}
	if isConnectivity(err) {
		return fmt.Errorf("%w: %v", weather.ErrConnection, err)
	}
	return fmt.Errorf("%w: %v", weather.ErrInsert, err)
}

func isConnectivity(err error) bool {
	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return common.HasAny(err.Error(),
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"failed to connect",
		"conn closed",
	)
}
