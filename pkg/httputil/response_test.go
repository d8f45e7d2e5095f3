package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteSuccess(w, map[string]string{"id": "team_1"}))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "team_1", resp["data"].(map[string]interface{})["id"])
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteCreated(w, "Role created successfully", map[string]string{"id": "role_1"}))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "Role created successfully")
}

func TestWritePage(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WritePage(w, []string{"a"}, NewPagination(2, 10, 25)))

	var resp SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Pagination)
	assert.Equal(t, 2, resp.Pagination.Page)
	assert.Equal(t, 3, resp.Pagination.TotalPages)
}

func TestWriteErrorEnvelopes(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		label  string
		code   string
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "DUPLICATE_ROLE_NAME", "dup") }, http.StatusBadRequest, LabelValidation, "DUPLICATE_ROLE_NAME"},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "no session") }, http.StatusUnauthorized, LabelUnauthorized, "UNAUTHORIZED"},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "PERMISSION_DENIED", "nope") }, http.StatusForbidden, LabelForbidden, "PERMISSION_DENIED"},
		{"not found", func(w http.ResponseWriter) { WriteNotFound(w, "TEAM_NOT_FOUND", "missing") }, http.StatusNotFound, LabelNotFound, "TEAM_NOT_FOUND"},
		{"rate limited", func(w http.ResponseWriter) { WriteTooManyRequests(w, "slow down") }, http.StatusTooManyRequests, LabelRateLimited, "RATE_LIMIT_EXCEEDED"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w, "req-1") }, http.StatusInternalServerError, LabelInternal, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.status, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.label, resp.Error)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestWriteErrorResponse_AffectedUsers(t *testing.T) {
	w := httptest.NewRecorder()
	affected := 2

	WriteErrorResponse(w, http.StatusBadRequest, ErrorResponse{
		Message:       "reassign first",
		Code:          "REASSIGNMENT_REQUIRED",
		AffectedUsers: &affected,
	})

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["affectedUsers"])
}
