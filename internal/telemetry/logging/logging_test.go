package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseLevelMapsKnownNames(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	require.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	require.Equal(t, slog.LevelError, ParseLevel("Error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestInfoCtxEmitsJSONWithoutTraceFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(slog.New(slog.NewJSONHandler(&buf, nil)))
	logger.InfoCtx(context.Background(), "evaluated", slog.String("namespace", "default"))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Equal(t, "evaluated", out["msg"])
	require.Equal(t, "default", out["namespace"])
	require.NotContains(t, out, "trace_id")
}

func TestErrorCtxInjectsTraceAndSpanIDs(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)
	otel.SetTracerProvider(tp)

	ctx, span := tp.Tracer("test").Start(context.Background(), "cycle")
	defer span.End()

	var buf bytes.Buffer
	logger := New(slog.New(slog.NewJSONHandler(&buf, nil)))
	logger.ErrorCtx(ctx, "evaluation failed")

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.NotEmpty(t, out["trace_id"])
	require.NotEmpty(t, out["span_id"])
}
