package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusWriter(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := newStatusWriter(rr)
	sw.WriteHeader(http.StatusAccepted)
	sw.WriteHeader(http.StatusInternalServerError)
	_, _ = sw.Write([]byte(`{"rows":[]}`))
	sw.Flush()

	if sw.status != http.StatusAccepted {
		t.Errorf("expected the first status to stick, got %d", sw.status)
	}
	if rr.Code != http.StatusAccepted {
		t.Errorf("expected 202 on the wire, got %d", rr.Code)
	}
	if sw.bytes != 11 {
		t.Errorf("expected 11 bytes, got %d", sw.bytes)
	}
	if !rr.Flushed {
		t.Error("expected flush to reach the recorder")
	}
	if sw.Unwrap() != rr {
		t.Error("expected Unwrap to return the underlying writer")
	}
}
