// Package dialect adapts engine construction to specific database families.
//
// A Dialect knows how to rewrite a connection URI for a requested
// catalog/schema, how to impersonate the querying user, how to validate a
// final URI before any connection attempt, and how to translate raw driver
// errors into the package's normalized taxonomy so callers never see
// driver-specific error types.
//
// Families are registered by URI scheme. Lookup strips driver suffixes, so
// "postgresql+pgx" resolves the same family as "postgresql". Unregistered
// schemes fall back to the Generic dialect, which passes URIs through
// untouched and opens connections with a driver named after the scheme.
package dialect
