// Package logging builds the learnd process logger on top of zap.
//
// The logger supports a custom Trace level below Debug, JSON or console
// output, optional export through the OpenTelemetry log bridge, level-aware
// sampling (errors are never sampled) and key/pattern based redaction.
//
// Request-scoped correlation fields travel on the context:
//
//	ctx = logging.WithRequestID(ctx, id)
//	ctx = logging.WithUserID(ctx, userID)
//	logging.For(ctx, logger).Info("outcome recorded")
//
// For adds trace_id, span_id, request.id and user.id when present.
package logging
