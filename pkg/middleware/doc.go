// Package middleware provides HTTP middleware for session authentication and rate limiting.
//
// # Overview
//
// This package implements request processing middleware: session-token
// authentication backed by the sessions table, and Redis-backed rate
// limiting shared across replicas.
//
// # Middleware Components
//
// SessionMiddleware: session cookie / bearer token authentication
//
//	authed := middleware.NewSessionMiddleware(sessions, false)
//	router.Handle("/api/me", authed.Handler(meHandler))
//	// Resolves the token to an account and adds it to the request context
//
// RateLimiter: Redis fixed-window rate limiting
//
//	limiter := middleware.NewRateLimiter(redisClient, middleware.AuthRateLimitConfig(), "ratelimit:auth", logger)
//	router.Handle("/api/auth/login", limiter.Handler(loginHandler))
//
// Rate limiting fails open when Redis is unreachable; a nil Redis client
// disables it entirely.
package middleware
