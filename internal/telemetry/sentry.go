// Package telemetry provides Sentry-based tracing for the answer pipeline.
package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/cloo-solutions/supportdesk/internal/domain"
)

const serviceName = "supportdesk"

// Config holds the configuration for Sentry initialization.
type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
	Logger           *zap.Logger
}

// Init initializes Sentry with tracing enabled and returns a flush function.
// An empty DSN or a failed init yields a no-op.
func Init(cfg Config) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate == 0 {
		cfg.TracesSampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		Debug:            cfg.Debug,
		ServerName:       serviceName,
		TracesSampler: sentry.TracesSampler(func(ctx sentry.SamplingContext) float64 {
			return sampleRate(ctx.Span, cfg.TracesSampleRate)
		}),
	})
	if err != nil {
		logger.Warn("sentry: failed to initialize, continuing without tracing", zap.Error(err))
		return func() {}, nil
	}

	logger.Info("sentry: tracing initialized",
		zap.String("environment", cfg.Environment),
		zap.Float64("sample_rate", cfg.TracesSampleRate),
	)
	return func() { sentry.Flush(5 * time.Second) }, nil
}

// Probes are never traced; children follow their parent's decision.
func sampleRate(span *sentry.Span, rate float64) float64 {
	switch span.Name {
	case "GET /health", "GET /ready":
		return 0
	}
	var emptySpanID sentry.SpanID
	if span.ParentSpanID != emptySpanID {
		if span.Sampled.Bool() {
			return 1
		}
		return 0
	}
	return rate
}

// SpanAttributes are the tags the pipeline stages attach to their spans.
type SpanAttributes struct {
	SessionID  string
	Dependency string
	Signal     string
	Operation  string
}

// Span wraps sentry.Span. A nil inner span makes every method a no-op.
type Span struct {
	inner *sentry.Span
}

func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// SetTag records a searchable tag on the span.
func (s *Span) SetTag(key, value string) {
	if s.inner != nil && value != "" {
		s.inner.SetTag(key, value)
	}
}

// SetError sets the span status from err. Caller errors (validation, not
// found, unauthorized) only change the status; dependency and internal
// failures are tagged with their code and captured.
func (s *Span) SetError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	s.inner.Status = spanStatusFor(err)

	de, ok := domain.AsDomainError(err)
	if ok {
		s.inner.SetTag("error_code", de.Code)
		if de.Dependency != "" {
			s.inner.SetTag("dependency", de.Dependency)
		}
		if de.UpstreamStatus != 0 {
			s.inner.SetTag("upstream_status", strconv.Itoa(de.UpstreamStatus))
		}
		if isCallerError(de.Code) {
			return
		}
	}

	if hub := sentry.GetHubFromContext(s.inner.Context()); hub != nil {
		hub.CaptureException(err)
	} else {
		sentry.CaptureException(err)
	}
}

func isCallerError(code string) bool {
	switch code {
	case domain.ErrCodeValidation, domain.ErrCodeNotFound, domain.ErrCodeUnauthorized:
		return true
	}
	return false
}

func spanStatusFor(err error) sentry.SpanStatus {
	de, ok := domain.AsDomainError(err)
	if !ok {
		return sentry.SpanStatusInternalError
	}
	switch de.Code {
	case domain.ErrCodeValidation:
		return sentry.SpanStatusInvalidArgument
	case domain.ErrCodeNotFound:
		return sentry.SpanStatusNotFound
	case domain.ErrCodeUnauthorized:
		return sentry.SpanStatusUnauthenticated
	case domain.ErrCodeTimeout:
		return sentry.SpanStatusDeadlineExceeded
	case domain.ErrCodeEmbeddingUnavailable, domain.ErrCodeGenerationFailed, domain.ErrCodeRetrievalFailed:
		return sentry.SpanStatusUnavailable
	}
	return sentry.SpanStatusInternalError
}

func setAttributes(span *sentry.Span, attrs SpanAttributes) {
	if span == nil {
		return
	}
	if attrs.SessionID != "" {
		span.SetTag("session_id", attrs.SessionID)
	}
	if attrs.Dependency != "" {
		span.SetTag("dependency", attrs.Dependency)
	}
	if attrs.Signal != "" {
		span.SetTag("signal", attrs.Signal)
	}
	if attrs.Operation != "" {
		span.SetData("operation", attrs.Operation)
	}
}

// StartSpan starts a child of the span in ctx, or a new transaction when
// there is none.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}
	setAttributes(span, attrs)
	return span.Context(), &Span{inner: span}
}

// StartTransaction starts a root span. Background jobs use it so each tick
// shows up as its own transaction.
func StartTransaction(ctx context.Context, name string, op string) (context.Context, *Span) {
	options := []sentry.SpanOption{sentry.WithTransactionName(name)}
	if op != "" {
		options = append(options, sentry.WithOpName(op))
	}
	span := sentry.StartSpan(ctx, op, options...)
	return span.Context(), &Span{inner: span}
}
