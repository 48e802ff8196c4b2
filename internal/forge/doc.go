// Package forge talks to the GitHub API for issue and pull-request
// operations. Calls are paced by a client-side rate limiter and retried
// with rate-limit-aware exponential backoff.
//
// Pull-request lookups are tri-state: Found, NotFound, and
// LookupFailed are distinct outcomes. A failed lookup must never be
// taken as "no pull request exists", or the finalizer would open
// duplicates.
package forge
