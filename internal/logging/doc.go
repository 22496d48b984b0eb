// Package logging provides structured logging for fuzagent.
//
// Logger wraps zap with ctx-first methods that add correlation fields
// (trace_id, span_id, run.id, stage, namespace) to every entry:
//
//	ctx = logging.WithRunID(ctx, run.ID)
//	ctx = logging.WithStage(ctx, "coding")
//	logger.Info(ctx, "stage completed", zap.Duration("took", d))
//
// Output goes to stderr (console or JSON) through a redacting encoder,
// and optionally to OpenTelemetry via the otelzap bridge. Entries below
// Error are sampled; errors never are.
//
// Tests use NewTestLogger and its Assert helpers.
package logging
