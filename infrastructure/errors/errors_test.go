package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestServiceErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("boom")
	err := Wrap(ErrCodeInternal, "failed", http.StatusInternalServerError, inner)

	if err.Unwrap() != inner {
		t.Fatalf("expected unwrap to return inner error")
	}
	if err.Error() == "" {
		t.Fatal("expected non-empty error string")
	}
}

func TestGetHTTPStatus(t *testing.T) {
	err := NotFound("device", "cam-1")
	if GetHTTPStatus(err) != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", GetHTTPStatus(err))
	}
	if GetHTTPStatus(fmt.Errorf("plain")) != http.StatusInternalServerError {
		t.Fatal("expected default 500 for non-ServiceError")
	}
}

func TestWithDetails(t *testing.T) {
	err := OutOfRange("brightness", 0, 100).WithDetails("got", 150)
	if err.Details["got"] != 150 {
		t.Fatalf("expected details to carry got=150, got %v", err.Details["got"])
	}
}
