package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFromError_ContextCanceled_Is408Cancelled(t *testing.T) {
	ae, status := FromError(context.Canceled, "req_test")
	if status != http.StatusRequestTimeout {
		t.Fatalf("status=%d", status)
	}
	if ae.Type != ErrAPI {
		t.Fatalf("type=%q", ae.Type)
	}
	if ae.Code != "cancelled" {
		t.Fatalf("code=%q", ae.Code)
	}
	if ae.RequestID != "req_test" {
		t.Fatalf("request_id=%q", ae.RequestID)
	}
}

func TestFromError_WrappedAPIErrorKeepsType(t *testing.T) {
	err := fmt.Errorf("upgrade: %w", &Error{Type: ErrOverloaded, Message: "gateway is draining", Code: "draining"})
	ae, status := FromError(err, "req_test")
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", status)
	}
	if ae.Type != ErrOverloaded || ae.Code != "draining" || ae.RequestID != "req_test" {
		t.Fatalf("error=%+v", ae)
	}
}

func TestFromError_UnknownErrorIsInternal(t *testing.T) {
	ae, status := FromError(errors.New("db password leaked here"), "")
	if status != http.StatusInternalServerError {
		t.Fatalf("status=%d", status)
	}
	if ae.Message != "internal error" {
		t.Fatalf("message=%q", ae.Message)
	}
}

func TestWrite_Envelope(t *testing.T) {
	rr := httptest.NewRecorder()
	Write(rr, http.StatusUnauthorized, &Error{Type: ErrAuthentication, Message: "invalid bearer token"})

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rr.Code)
	}
	var env struct {
		Error Error `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Type != ErrAuthentication || env.Error.Message != "invalid bearer token" {
		t.Fatalf("error=%+v", env.Error)
	}
}
