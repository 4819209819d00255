package engine

import "context"

// QuerySource identifies where a query originates. It is part of the engine
// fingerprint because databases may configure different extras per source.
type QuerySource string

const (
	SourceUnknown   QuerySource = ""
	SourceChart     QuerySource = "chart"
	SourceDashboard QuerySource = "dashboard"
	SourceSQLLab    QuerySource = "sql_lab"
)

type (
	userIDContextKey struct{}
	sourceContextKey struct{}
)

// WithUserID adds the current user id to the context. The manager reads it
// when resolving delegated-access tokens for impersonation.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext retrieves the current user id from the context.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDContextKey{}).(int64)
	return userID, ok
}

// WithQuerySource adds the query source to the context, used when callers do
// not pass a source explicitly.
func WithQuerySource(ctx context.Context, source QuerySource) context.Context {
	return context.WithValue(ctx, sourceContextKey{}, source)
}

// QuerySourceFromContext retrieves the query source from the context.
func QuerySourceFromContext(ctx context.Context) (QuerySource, bool) {
	source, ok := ctx.Value(sourceContextKey{}).(QuerySource)
	return source, ok
}
