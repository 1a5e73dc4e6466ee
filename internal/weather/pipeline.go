package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/i474232898/weather-etl/internal/telemetry"
)

// Config is the per-pipeline configuration handed to every stage.
type Config struct {
	Location Location
	// ConnectionID names the destination connection, for logs only.
	ConnectionID string
	// Timezone defines "today" for the fetch stage. Defaults to UTC.
	Timezone *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Pipeline runs fetch, transform and load for one date at a time.
// It holds no per-date state, so runs for different dates may overlap.
type Pipeline struct {
	cfg       Config
	provider  Provider
	artifacts ArtifactStore
	store     Store
	logger    *zap.SugaredLogger
	tracer    trace.Tracer
}

// NewPipeline creates a new Pipeline.
func NewPipeline(cfg Config, provider Provider, artifacts ArtifactStore, store Store, logger *zap.SugaredLogger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		cfg:       cfg,
		provider:  provider,
		artifacts: artifacts,
		store:     store,
		logger:    logger,
		tracer:    otel.Tracer("weather-etl/pipeline"),
	}
}

// Today is the date a fetch made now is stored under.
func (p *Pipeline) Today() Date {
	return DateOf(p.cfg.Now().In(p.cfg.Timezone))
}

// Run executes the stages for ds in order and returns the loaded record.
// The provider only reports current conditions, so fetching happens only when
// ds is today. Earlier dates are loaded from an artifact stored on that day
// and fail with ErrNotFound when there is none; later dates are refused.
func (p *Pipeline) Run(ctx context.Context, ds Date) (WeatherRecord, error) {
	if err := ds.Validate(); err != nil {
		return WeatherRecord{}, &StageError{Stage: StageFetch, Err: &ValidationError{Field: "date", Message: err.Error()}}
	}

	ctx, span := p.tracer.Start(ctx, "weather-etl.run", trace.WithAttributes(attribute.String("ds", ds.String())))
	defer span.End()

	today := p.Today()
	switch {
	case ds > today:
		err := &StageError{Stage: StageFetch, Err: &ValidationError{
			Field:   "date",
			Message: fmt.Sprintf("%s is after today (%s)", ds, today),
		}}
		recordSpanError(span, err)
		return WeatherRecord{}, err
	case ds == today:
		if err := p.fetch(ctx, today); err != nil {
			recordSpanError(span, err)
			return WeatherRecord{}, err
		}
	default:
		p.logger.Infow("past date: skipping fetch, using stored artifact", "ds", ds, "today", today)
	}

	rec, err := p.Transform(ctx, ds)
	if err != nil {
		recordSpanError(span, err)
		return WeatherRecord{}, err
	}

	if err := p.Load(ctx, &rec); err != nil {
		recordSpanError(span, err)
		return WeatherRecord{}, err
	}
	return rec, nil
}

// Fetch calls the provider once and writes the raw body as today's artifact,
// replacing any earlier artifact for that date. It returns the date written.
func (p *Pipeline) Fetch(ctx context.Context) (Date, error) {
	ds := p.Today()
	if err := p.fetch(ctx, ds); err != nil {
		return "", err
	}
	return ds, nil
}

func (p *Pipeline) fetch(ctx context.Context, ds Date) error {
	return p.stage(ctx, StageFetch, ds, func(ctx context.Context) error {
		if p.provider == nil {
			return fmt.Errorf("%w: no weather provider configured", ErrConfig)
		}

		raw, err := p.provider.Fetch(ctx, p.cfg.Location)
		if err != nil {
			return err
		}
		if !ValidDocument(raw) {
			return fmt.Errorf("%w: provider %s returned a body that is not JSON", ErrParse, p.provider.Name())
		}

		if err := p.artifacts.Put(ctx, ds, raw); err != nil {
			return fmt.Errorf("write artifact %s: %w", ds.ArtifactName(), err)
		}

		p.logger.Infow("raw observation stored",
			"ds", ds,
			"provider", p.provider.Name(),
			"location", p.cfg.Location.Query(),
			"bytes", len(raw),
		)
		return nil
	})
}

// Transform reads the artifact for ds and normalizes it.
func (p *Pipeline) Transform(ctx context.Context, ds Date) (WeatherRecord, error) {
	var rec WeatherRecord
	err := p.stage(ctx, StageTransform, ds, func(ctx context.Context) error {
		raw, err := p.artifacts.Get(ctx, ds)
		if err != nil {
			return err
		}

		rec, err = Normalize(raw, ds)
		if err != nil {
			return err
		}

		p.logger.Debugw("observation normalized", "ds", ds, "city", rec.City, "temp_c", rec.Temp)
		return nil
	})
	if err != nil {
		return WeatherRecord{}, err
	}
	return rec, nil
}

// Load inserts rec. A nil record fails with ErrNoData before the store is touched.
func (p *Pipeline) Load(ctx context.Context, rec *WeatherRecord) error {
	ds := Date("")
	if rec != nil {
		ds = Date(rec.Date)
	}

	return p.stage(ctx, StageLoad, ds, func(ctx context.Context) error {
		if rec == nil {
			return fmt.Errorf("%w: no record received from transform", ErrNoData)
		}

		if err := p.store.Insert(ctx, *rec); err != nil {
			if errors.Is(err, ErrDuplicateDate) {
				p.logger.Warnw("destination already holds a row for this date; refusing to insert a duplicate",
					"ds", ds,
					"connection", p.cfg.ConnectionID,
				)
			}
			return err
		}

		telemetry.RowLoaded()
		p.logger.Infow("record loaded", "ds", ds, "connection", p.cfg.ConnectionID)
		return nil
	})
}

// stage wraps fn with tracing, metrics and the StageError tag.
func (p *Pipeline) stage(ctx context.Context, stage Stage, ds Date, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "weather-etl."+string(stage),
		trace.WithAttributes(attribute.String("ds", ds.String())))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	telemetry.ObserveStage(string(stage), Kind(err), time.Since(start))

	if err != nil {
		recordSpanError(span, err)
		p.logger.Errorw("stage failed", "stage", stage, "ds", ds, "kind", Kind(err), "error", err)
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, Kind(err))
}
