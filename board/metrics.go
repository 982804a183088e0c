package board

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sticky-board/backend"
	"sticky-board/domain"
)

const (
	tracerName          = "sticky-board/board"
	mutationSpanName    = "board.mutation"
	mutationEventName   = "board.mutation.completed"
	mutationEventDomain = "sticky-board"
	observabilityEvent  = "observability.event"
)

type mutationMetrics struct {
	logger     *log.Logger
	span       trace.Span
	start      time.Time
	op         string
	mode       backend.Mode
	taskID     string
	rolledBack bool
	skipped    bool
}

func newMutationMetrics(ctx context.Context, logger *log.Logger, op string, mode backend.Mode, taskID string) *mutationMetrics {
	_, span := otel.Tracer(tracerName).Start(ctx, mutationSpanName,
		trace.WithAttributes(
			attribute.String("board.op", op),
			attribute.String("board.mode", string(mode)),
		),
	)
	return &mutationMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		op:     op,
		mode:   mode,
		taskID: taskID,
	}
}

func (m *mutationMetrics) SetTaskID(id string) {
	if id != "" {
		m.taskID = id
	}
}

func (m *mutationMetrics) SetRolledBack() { m.rolledBack = true }

func (m *mutationMetrics) SetSkipped() { m.skipped = true }

// Finish ends the span and emits the observability event as both a span
// event and a log entry.
func (m *mutationMetrics) Finish(err error) {
	if m == nil {
		return
	}
	kind := domain.KindName(domain.KindOf(err))
	severityText, severityNumber := severityForError(err)
	totalMs := durationToMillis(time.Since(m.start))

	attrs := []attribute.KeyValue{
		attribute.String("event.name", mutationEventName),
		attribute.String("event.domain", mutationEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
		attribute.String("board.op", m.op),
		attribute.String("board.mode", string(m.mode)),
		attribute.String("board.task_id", m.taskID),
		attribute.Bool("board.rolled_back", m.rolledBack),
		attribute.Bool("board.skipped", m.skipped),
		attribute.Float64("board.total_ms", totalMs),
	}
	if err != nil {
		attrs = append(attrs,
			attribute.String("error.kind", kind),
			attribute.String("error.message", err.Error()),
		)
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, err.Error())
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.SetAttributes(attrs[4:]...)
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(attrs...))

	fields := log.Fields{
		"event.name":      mutationEventName,
		"event.domain":    mutationEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"op":              m.op,
		"mode":            string(m.mode),
		"task":            m.taskID,
		"rolled_back":     m.rolledBack,
		"total_ms":        totalMs,
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	entry := m.logger.WithFields(fields)
	if err != nil {
		entry = entry.WithField("error_kind", kind).WithError(err)
		if kind == "backend" {
			entry.Error(observabilityEvent)
			return
		}
		entry.Warn(observabilityEvent)
		return
	}
	entry.Debug(observabilityEvent)
}

func severityForError(err error) (string, int) {
	if err == nil {
		return "INFO", 9
	}
	if domain.KindOf(err) == domain.ErrBackend {
		return "ERROR", 17
	}
	return "WARN", 13
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
