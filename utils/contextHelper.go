package utils

import (
	"context"

	"github.com/adrata/crm_backend/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyCorrelationId  = appctx.ContextKeyCorrelationId
	ContextKeyDiscoveryRunId = appctx.ContextKeyDiscoveryRunId
	ContextKeyRequestSource  = appctx.ContextKeyRequestSource
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetDiscoveryRunIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyDiscoveryRunId)
}

func SetDiscoveryRunIdInContext(ctx context.Context, runId string) context.Context {
	return appctx.Set(ctx, ContextKeyDiscoveryRunId, runId)
}

func GetRequestSourceFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyRequestSource)
}

func SetRequestSourceInContext(ctx context.Context, source string) context.Context {
	return appctx.Set(ctx, ContextKeyRequestSource, source)
}
