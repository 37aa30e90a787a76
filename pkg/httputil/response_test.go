package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
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

func TestWriteErrorResponses(t *testing.T) {
	tests := []struct {
		name     string
		write    func(w http.ResponseWriter)
		wantCode int
		wantBody string
	}{
		{"error message", func(w http.ResponseWriter) { WriteErrorMessage(w, http.StatusForbidden, "access denied") }, http.StatusForbidden, "access denied"},
		{"validation", func(w http.ResponseWriter) { WriteValidationError(w, "invalid input") }, http.StatusBadRequest, "invalid input"},
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "bad id") }, http.StatusBadRequest, "bad id"},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "role not found") }, http.StatusNotFound, "role not found"},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "role is still assigned") }, http.StatusConflict, "role is still assigned"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w) }, http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteCreated(w, map[string]int{"id": 7})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":7}`, w.Body.String())
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteSuccess(w, []string{"a"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["a"]`, w.Body.String())
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()

	WriteNoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}
