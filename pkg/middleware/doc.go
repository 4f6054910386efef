// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// # Overview
//
// AuthMiddleware runs every request through the resolver chain and attaches
// the resulting identity to the request context. All failures, whatever
// their cause, yield the same 401 response.
//
//	authn := middleware.NewAuthMiddleware(resolver)
//	router.Use(authn.Handler)
//
// RequireAdmin gates a subtree on the admin role:
//
//	adminRouter.Use(middleware.RequireAdmin)
//
// RateLimitMiddleware throttles per authenticated principal, with a tighter
// shared budget for anonymous traffic keyed by client IP. For multi-replica
// deployments DistributedRateLimitMiddleware keeps the counters in Redis so
// the budget is enforced across instances; it fails open when Redis is
// unreachable.
package middleware
