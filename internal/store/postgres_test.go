package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/i474232898/weather-etl/internal/weather"
)

type execCall struct {
	sql  string
	args []any
}

// fakeDB stands in for the pgx pool.
type fakeDB struct {
	execs     []execCall
	insertErr error
	insertTag string
	schemaErr error
	rows      [][]any
	closed    bool
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, execCall{sql: sql, args: args})
	if strings.Contains(sql, "INSERT") {
		if db.insertErr != nil {
			return pgconn.CommandTag{}, db.insertErr
		}
		tag := db.insertTag
		if tag == "" {
			tag = "INSERT 0 1"
		}
		return pgconn.NewCommandTag(tag), nil
	}
	if db.schemaErr != nil {
		return pgconn.CommandTag{}, db.schemaErr
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return &fakeRows{rows: db.rows, idx: -1}, nil
}

func (db *fakeDB) Ping(ctx context.Context) error { return nil }

func (db *fakeDB) Close() { db.closed = true }

type fakeRows struct {
	rows [][]any
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.idx], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx]
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *float64:
			*p = row[i].(float64)
		case *time.Time:
			*p = row[i].(time.Time)
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}

func newFakeStore(db *fakeDB, connectErr error) (*PostgresStore, *int) {
	connects := 0
	s := NewPostgresStore("postgres://weather@localhost/weather", time.Second, nil)
	s.connect = func(ctx context.Context, dsn string) (DB, error) {
		connects++
		if connectErr != nil {
			return nil, connectErr
		}
		return db, nil
	}
	return s, &connects
}

func brooklynRecord() weather.WeatherRecord {
	return weather.WeatherRecord{
		City: "Brooklyn", Country: "US", Latitude: 40.65, Longitude: -73.95,
		Date: "2025-09-14", Humidity: 70, Pressure: 1013,
		MinTemp: 16.85, MaxTemp: 21.85, Temp: 18.85, Weather: "clear sky",
	}
}

func TestPostgresInsertCreatesSchemaFirst(t *testing.T) {
	db := &fakeDB{}
	s, _ := newFakeStore(db, nil)

	if err := s.Insert(context.Background(), brooklynRecord()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(db.execs) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(db.execs))
	}
	if !strings.Contains(db.execs[0].sql, "CREATE TABLE IF NOT EXISTS weather_table") {
		t.Fatalf("expected table creation first, got %s", db.execs[0].sql)
	}
	if !strings.Contains(db.execs[1].sql, "CREATE UNIQUE INDEX") {
		t.Fatalf("expected unique index second, got %s", db.execs[1].sql)
	}

	args, ok := db.execs[2].args[0].(pgx.NamedArgs)
	if !ok {
		t.Fatalf("expected named args, got %T", db.execs[2].args[0])
	}
	want := time.Date(2025, 9, 14, 0, 0, 0, 0, time.UTC)
	if got, _ := args["todays_date"].(time.Time); !got.Equal(want) {
		t.Fatalf("expected todays_date %v, got %v", want, args["todays_date"])
	}
	if args["city"] != "Brooklyn" || args["weather"] != "clear sky" {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestPostgresSchemaCreatedOncePerConnection(t *testing.T) {
	db := &fakeDB{}
	s, connects := newFakeStore(db, nil)
	ctx := context.Background()

	rec := brooklynRecord()
	_ = s.Insert(ctx, rec)
	rec.Date = "2025-09-15"
	_ = s.Insert(ctx, rec)

	if *connects != 1 {
		t.Fatalf("expected 1 connect, got %d", *connects)
	}
	if len(db.execs) != 4 {
		t.Fatalf("expected 2 schema statements and 2 inserts, got %d", len(db.execs))
	}
}

func TestPostgresInsertErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "weather_table_todays_date_key"}, weather.ErrDuplicateDate},
		{"other constraint", &pgconn.PgError{Code: "23502", Message: "null value in column"}, weather.ErrInsert},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), weather.ErrConnection},
		{"deadline", context.DeadlineExceeded, weather.ErrConnection},
		{"unknown", errors.New("boom"), weather.ErrInsert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newFakeStore(&fakeDB{insertErr: tt.err}, nil)

			err := s.Insert(context.Background(), brooklynRecord())
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPostgresInsertNoRowAffected(t *testing.T) {
	s, _ := newFakeStore(&fakeDB{insertTag: "INSERT 0 0"}, nil)

	err := s.Insert(context.Background(), brooklynRecord())
	if !errors.Is(err, weather.ErrInsert) {
		t.Fatalf("expected insert error, got %v", err)
	}
}

// A failed connect surfaces as ErrConnection and is retried on the next call.
func TestPostgresConnectFailure(t *testing.T) {
	s, connects := newFakeStore(nil, errors.New("failed to connect to host"))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Insert(ctx, brooklynRecord()); !errors.Is(err, weather.ErrConnection) {
			t.Fatalf("expected connection error, got %v", err)
		}
	}
	if *connects != 2 {
		t.Fatalf("expected a connect per call, got %d", *connects)
	}
}

func TestPostgresMissingDSN(t *testing.T) {
	s := NewPostgresStore("", time.Second, nil)
	if err := s.Ping(context.Background()); !errors.Is(err, weather.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestPostgresSchemaFailureClosesPool(t *testing.T) {
	db := &fakeDB{schemaErr: &pgconn.PgError{Code: "23505", Message: "could not create unique index"}}
	s, _ := newFakeStore(db, nil)

	err := s.EnsureSchema(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !db.closed {
		t.Fatalf("expected pool to be closed after schema failure")
	}
}

func TestPostgresGet(t *testing.T) {
	db := &fakeDB{rows: [][]any{{
		"Brooklyn", "US", 40.65, -73.95, time.Date(2025, 9, 14, 0, 0, 0, 0, time.UTC),
		70.0, 1013.0, 16.85, 21.85, 18.85, "clear sky",
	}}}
	s, _ := newFakeStore(db, nil)

	rec, err := s.Get(context.Background(), "2025-09-14")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Date != "2025-09-14" || rec.City != "Brooklyn" || rec.Temp != 18.85 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	db.rows = nil
	if _, err := s.Get(context.Background(), "2025-09-15"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
