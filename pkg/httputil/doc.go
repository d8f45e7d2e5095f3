// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Envelopes
//
// Success responses use {status, message?, data, pagination?}:
//
//	httputil.WriteSuccess(w, team)
//	httputil.WriteCreated(w, "Team created successfully", result)
//
// Failures use {error, message, code, field?, affectedUsers?}:
//
//	httputil.WriteBadRequest(w, "VALIDATION_ERROR", "name is required")
//	httputil.WriteForbidden(w, "PERMISSION_DENIED", "Insufficient permissions")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//	)(router)
package httputil
