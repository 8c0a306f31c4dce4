package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// extractIDs pulls trace/span ids off the OTel span carried in ctx, if any.
func extractIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
