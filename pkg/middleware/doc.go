// Package middleware provides HTTP middleware for session authentication
// and per-user rate limiting.
//
// AuthMiddleware resolves the caller identity from the session cookie or
// bearer header and stores it on the request context; handlers read it back
// with GetIdentity.
//
// RateLimit wraps a route with a Limiter. RateLimiter keeps token buckets in
// process; DistributedRateLimiter shares fixed-window counters across
// instances through Redis.
package middleware
