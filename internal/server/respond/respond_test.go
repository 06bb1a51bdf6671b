package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"pulseboard/internal/record/domain"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &domain.ValidationError{Field: "type", Reason: "must not be empty"}, http.StatusBadRequest},
		{"not initialized", domain.ErrNotInitialized, http.StatusServiceUnavailable},
		{"pool exhausted wrapped", fmt.Errorf("list: %w", domain.ErrPoolExhausted), http.StatusServiceUnavailable},
		{"persistence", &domain.PersistenceError{Op: "insert", Kind: domain.KindSignal, Err: errors.New("boom")}, http.StatusInternalServerError},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(tt.err); got != tt.want {
				t.Errorf("Status(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestErr_WritesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	Err(rec, req, domain.ErrNotInitialized)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Detail != domain.ErrNotInitialized.Error() {
		t.Errorf("detail = %q", body.Detail)
	}
}
