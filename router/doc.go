// Package router maps a request origin to its routing context.
//
// A Router is an immutable value built from a rule list and a provider
// snapshot; Resolve is a pure function of the origin. Catalog holds the
// current Router and swaps it atomically when configuration is refreshed,
// either on demand or on a cron schedule through RefreshScheduler.
package router
