// Package httputil provides HTTP handler utilities for consistent JSON
// envelopes, error responses and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"
)

// StatusSuccess is the status value of every success envelope
const StatusSuccess = "success"

// Error labels used in the "error" field of failure envelopes
const (
	LabelValidation   = "Validation error"
	LabelUnauthorized = "Unauthorized"
	LabelForbidden    = "Forbidden"
	LabelNotFound     = "Not found"
	LabelConflict     = "Conflict"
	LabelRateLimited  = "Rate limit exceeded"
	LabelInternal     = "Internal server error"
)

// SuccessResponse represents a standardized success response
type SuccessResponse struct {
	Status     string      `json:"status"`
	Message    string      `json:"message,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination describes one page of a list response
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes the page count for a total
func NewPagination(page, limit, total int) *Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return &Pagination{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          string `json:"code"`
	Field         string `json:"field,omitempty"`
	AffectedUsers *int   `json:"affectedUsers,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 success envelope
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Status: StatusSuccess, Data: data})
}

// WriteSuccessMessage writes a 200 success envelope with a message
func WriteSuccessMessage(w http.ResponseWriter, message string, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{
		Status:  StatusSuccess,
		Message: message,
		Data:    data,
	})
}

// WritePage writes a 200 success envelope carrying pagination
func WritePage(w http.ResponseWriter, data interface{}, page *Pagination) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{
		Status:     StatusSuccess,
		Data:       data,
		Pagination: page,
	})
}

// WriteCreated writes a 201 success envelope
func WriteCreated(w http.ResponseWriter, message string, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, SuccessResponse{
		Status:  StatusSuccess,
		Message: message,
		Data:    data,
	})
}

// WriteErrorResponse writes a failure envelope
func WriteErrorResponse(w http.ResponseWriter, status int, resp ErrorResponse) {
	if resp.Error == "" {
		resp.Error = labelFor(status)
	}
	_ = WriteJSON(w, status, resp)
}

// WriteErrorMessage writes a failure envelope with the default label for status
func WriteErrorMessage(w http.ResponseWriter, status int, code, message string) {
	WriteErrorResponse(w, status, ErrorResponse{Message: message, Code: code})
}

// WriteBadRequest writes a validation failure (400)
func WriteBadRequest(w http.ResponseWriter, code, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, code, message)
}

// WriteUnauthorized writes an unauthenticated failure (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// WriteForbidden writes an authorization failure (403)
func WriteForbidden(w http.ResponseWriter, code, message string) {
	WriteErrorMessage(w, http.StatusForbidden, code, message)
}

// WriteNotFound writes a not found failure (404)
func WriteNotFound(w http.ResponseWriter, code, message string) {
	WriteErrorMessage(w, http.StatusNotFound, code, message)
}

// WriteTooManyRequests writes a rate limit failure (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", message)
}

// WriteInternalError writes a generic 500 without leaking the cause
func WriteInternalError(w http.ResponseWriter, requestID string) {
	WriteErrorResponse(w, http.StatusInternalServerError, ErrorResponse{
		Message:   "An unexpected error occurred",
		Code:      "INTERNAL_ERROR",
		RequestID: requestID,
	})
}

func labelFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return LabelValidation
	case http.StatusUnauthorized:
		return LabelUnauthorized
	case http.StatusForbidden:
		return LabelForbidden
	case http.StatusNotFound:
		return LabelNotFound
	case http.StatusConflict:
		return LabelConflict
	case http.StatusTooManyRequests:
		return LabelRateLimited
	default:
		return LabelInternal
	}
}
