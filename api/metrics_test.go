package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestRequestMetricsProduceObservabilityEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetFormatter(&log.JSONFormatter{})
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	m, ctx := newRequestMetrics(context.Background(), logger, http.MethodGet, "/tasks")
	if ctx == nil {
		t.Fatalf("expected span context")
	}
	m.SetUser("u1")
	m.SetTasksServed(3)
	m.Log(http.StatusOK, nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != observabilityEvent {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Data["event.name"] != requestEventName || entry.Data["severity_text"] != "INFO" || entry.Data["severity_number"] != 9 {
		t.Fatalf("unexpected fields: %+v", entry.Data)
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace_id to be recorded, got %#v", entry.Data["trace_id"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != requestSpanName || span.Status.Code != codes.Ok {
		t.Fatalf("unexpected span %s %v", span.Name, span.Status.Code)
	}
	attrs := attributesToMap(span.Attributes)
	if attrs["http.route"] != "/tasks" {
		t.Fatalf("unexpected route attribute: %#v", attrs["http.route"])
	}
	if code, ok := attrs["http.status_code"].(int64); !ok || code != http.StatusOK {
		t.Fatalf("unexpected status code attribute: %#v", attrs["http.status_code"])
	}
	if served, ok := attrs["tasks.served"].(int64); !ok || served != 3 {
		t.Fatalf("unexpected served attribute: %#v", attrs["tasks.served"])
	}
}

func TestRequestMetricsErrorSetsSpanStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	m, _ := newRequestMetrics(context.Background(), logger, http.MethodPut, "/tasks/:id")
	m.SetErrorStage("storage")
	m.Log(http.StatusInternalServerError, errors.New("table down"))

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != log.ErrorLevel {
		t.Fatalf("expected error level entry, got %+v", entry)
	}
	span := exporter.GetSpans()[0]
	if span.Status.Code != codes.Error || span.Status.Description != "table down" {
		t.Fatalf("unexpected status %+v", span.Status)
	}
	var found bool
	for _, ev := range span.Events {
		if ev.Name != observabilityEvent {
			continue
		}
		found = true
		attrs := attributesToMap(ev.Attributes)
		if attrs["severity_text"] != "ERROR" || attrs["tasks.error_stage"] != "storage" {
			t.Fatalf("unexpected event attributes %#v", attrs)
		}
	}
	if !found {
		t.Fatalf("expected observability event, got %#v", span.Events)
	}
}

func TestSeverityForStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		wantText   string
		wantNumber int
	}{
		{name: "ok", status: http.StatusOK, wantText: "INFO", wantNumber: 9},
		{name: "created", status: http.StatusCreated, wantText: "INFO", wantNumber: 9},
		{name: "warn", status: http.StatusBadRequest, wantText: "WARN", wantNumber: 13},
		{name: "error", status: http.StatusInternalServerError, wantText: "ERROR", wantNumber: 17},
		{name: "errorFromErr", status: 0, err: errors.New("boom"), wantText: "ERROR", wantNumber: 17},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotText, gotNumber := severityForStatus(tt.status, tt.err)
			if gotText != tt.wantText || gotNumber != tt.wantNumber {
				t.Fatalf("severityForStatus(%d, %v) = %s/%d, want %s/%d", tt.status, tt.err, gotText, gotNumber, tt.wantText, tt.wantNumber)
			}
		})
	}
}
