// Package api provides the HTTP REST API server for the Subloop billing sync service.
//
// # Overview
//
// This package implements the HTTP layer: account registration and login,
// Google sign-in, the authenticated account view, billing checkout and
// portal initiation, and the provider webhook endpoint that drives billing
// state synchronization.
//
// # Architecture
//
// The API is built on gorilla/mux and organized into handler groups on a
// single Server:
//
//   - Auth: register, login, logout, Google OAuth (rate limited)
//   - Account: the authenticated account's profile and subscription state
//   - Billing: hosted checkout/portal session initiation (session required)
//   - Webhook: signature-verified event intake, deduplicated and reconciled
//
// # Key Types
//
// Server coordinates all handlers behind the shared middleware chain
// (request ID, panic recovery, request logging):
//
//	server := api.NewServer(api.Options{
//		Config:     cfg,
//		Logger:     logger,
//		Store:      store,
//		Sessions:   sessions,
//		Hasher:     hasher,
//		Verifier:   verifier,
//		Reconciler: reconciler,
//		Provider:   provider,
//	})
//	http.ListenAndServe(":8080", server)
//
// # Webhook Status Codes
//
// The webhook endpoint's status code is the contract with the provider's
// delivery queue:
//
//   - 200: event acknowledged (applied, duplicate, stale, or ignored)
//   - 400: signature rejected; redelivery will not help
//   - 409: the event is being processed by another replica; retry
//   - 500: processing failed; retry
//
// # Related Packages
//
//   - pkg/billing: verification, reconciliation, provider client
//   - pkg/accounts: account records and the billing-state store
//   - pkg/auth: passwords, sessions, Google sign-in
//   - pkg/middleware: session authentication and rate limiting
package api
