// Package syncservice assembles sync responses from the artifact tree.
package syncservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/starford/blackhole/internal/apperr"
	"github.com/starford/blackhole/internal/filename"
	"github.com/starford/blackhole/internal/models"
	"github.com/starford/blackhole/internal/storage"
	"github.com/starford/blackhole/internal/transform"
)

const instrumentationName = "github.com/starford/blackhole/internal/syncservice"

// Service runs sync requests against a read-only artifact store.
type Service struct {
	store  storage.Provider
	tr     *transform.Transformer
	logger *slog.Logger
	now    func() time.Time

	tracer   trace.Tracer
	runs     metric.Int64Counter
	dropped  metric.Int64Counter
	duration metric.Float64Histogram
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used to stamp responses.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a sync service.
func NewService(store storage.Provider, tr *transform.Transformer, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		tr:     tr,
		logger: logger,
		now:    time.Now,
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)
	var err error
	if s.runs, err = meter.Int64Counter("blackhole.sync.runs",
		metric.WithDescription("Sync requests by outcome")); err != nil {
		s.runs, _ = fallback.Int64Counter("blackhole.sync.runs")
	}
	if s.dropped, err = meter.Int64Counter("blackhole.sync.documents_dropped",
		metric.WithDescription("Documents omitted because they failed to parse")); err != nil {
		s.dropped, _ = fallback.Int64Counter("blackhole.sync.documents_dropped")
	}
	if s.duration, err = meter.Float64Histogram("blackhole.sync.duration",
		metric.WithUnit("s"), metric.WithDescription("Sync request duration")); err != nil {
		s.duration, _ = fallback.Float64Histogram("blackhole.sync.duration")
	}
	return s
}

// Sync builds the response for req. Categories are processed one at a time in
// request order and files in listing order; a category named twice is
// collected twice. Unparsable documents are dropped
// and logged; a script that fails to transpile or any read error fails the
// whole request.
func (s *Service) Sync(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err)
	}

	logger := s.logger.With(slog.String("sync_id", uuid.NewString()))
	ctx, span := s.tracer.Start(ctx, "sync",
		trace.WithAttributes(attribute.StringSlice("blackhole.interests", req.Get)))
	defer span.End()

	start := time.Now()
	uptime := s.now().Unix()
	logger.Info("sync requested", slog.Any("interests", []string(req.Get)))

	bundle := newBundle(len(req.Get), uptime)
	for _, name := range req.Get {
		records, err := s.collect(ctx, logger, models.Category(name), uptime)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sync failed")
			s.observe(ctx, "error", start)
			return nil, err
		}
		// A repeated interest is collected again and appended to the first
		// occurrence's sequence.
		if prev, ok := bundle.Categories.Get(name); ok {
			records = append(prev, records...)
		}
		bundle.Categories.Set(name, records)
	}

	s.observe(ctx, "ok", start)
	return &Response{Code: http.StatusOK, Data: []Bundle{bundle}}, nil
}

// collect produces the records of one category. Unknown categories yield an
// empty sequence without touching the store.
func (s *Service) collect(ctx context.Context, logger *slog.Logger, category models.Category, uptime int64) ([]any, error) {
	records := []any{}
	kind, ok := models.KindOf(category)
	if !ok {
		logger.Debug("unknown category skipped", slog.String("category", string(category)))
		return records, nil
	}

	ctx, span := s.tracer.Start(ctx, "sync.category", trace.WithAttributes(
		attribute.String("blackhole.category", string(category)),
		attribute.String("blackhole.kind", kind.String()),
	))
	defer span.End()

	files, err := s.store.ListCategory(ctx, category)
	if err != nil {
		logger.Error("category read failed", slog.String("category", string(category)), slog.String("error", err.Error()))
		return nil, err
	}

	for _, f := range files {
		switch kind {
		case models.KindScript:
			code, err := s.tr.Script(f.Name, f.Content)
			if err != nil {
				logger.Error("script transform failed", slog.String("file", f.Name), slog.String("error", err.Error()))
				return nil, err
			}
			rec := models.ScriptRecord{
				Name:   filename.LogicalName(f.Name),
				Code:   code,
				Uptime: uptime,
			}
			if hash, ok := filename.ExtractHash(f.Name); ok {
				rec.ID = &hash
			}
			records = append(records, rec)

		case models.KindDocument:
			doc, err := s.tr.Document(f.Content, uptime)
			if err != nil {
				logger.Warn("unable to parse document",
					slog.String("category", string(category)),
					slog.String("file", f.Name),
					slog.String("error", err.Error()))
				s.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("blackhole.category", string(category))))
				continue
			}
			records = append(records, doc)
		}
	}

	span.SetAttributes(attribute.Int("blackhole.records", len(records)))
	return records, nil
}

func (s *Service) observe(ctx context.Context, outcome string, start time.Time) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	s.runs.Add(ctx, 1, attrs)
	s.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}
