// Package logging wraps log/slog with the bridge's defaults: a JSON or
// text handler (or both fanned out) selected by configuration, default
// service/version fields on every record, and level filtering.
//
// Secrets never go through here in the clear; callers log prefixes or
// redacted forms.
package logging
