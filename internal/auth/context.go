package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxServiceName ctxKey = iota
	ctxScopes
)

func WithIdentity(ctx context.Context, serviceName string, scopes []string) context.Context {
	ctx = context.WithValue(ctx, ctxServiceName, serviceName)
	ctx = context.WithValue(ctx, ctxScopes, scopes)
	return ctx
}

func ServiceName(ctx context.Context) (string, error) {
	v := ctx.Value(ctxServiceName)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("service_name not in context")
}

func Scopes(ctx context.Context) []string {
	v := ctx.Value(ctxScopes)
	if s, ok := v.([]string); ok {
		return s
	}
	return nil
}

// HasScope reports whether the authenticated caller holds scope.
func HasScope(ctx context.Context, scope string) bool {
	for _, s := range Scopes(ctx) {
		if s == scope {
			return true
		}
	}
	return false
}
