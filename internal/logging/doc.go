// Package logging wraps zap with context-aware helpers for launchpad.
//
// Every log call takes a context so correlation data (trace, request,
// tenant, execution and workflow ids) is attached automatically:
//
//	ctx = logging.WithExecutionID(ctx, exec.ID)
//	logger.Info(ctx, "stage completed", zap.String("stage", "blueprint"))
//
// Approval tokens and signing keys never reach the output. The stdout
// encoder and the OTEL bridge both redact sensitive keys and anything
// shaped like a JWT.
//
// Services below the HTTP layer take a plain *zap.Logger; use Underlying
// to hand one out.
package logging
