package task

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPBodySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/widgets/42" {
			t.Errorf("path = %q, want /widgets/42", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	body := HTTPBody(HTTPConfig{
		Method: http.MethodGet,
		URL:    srv.URL + "/widgets/{{id}}",
		Vars:   func() map[string]string { return map[string]string{"id": "42"} },
	})
	result, err := body(context.Background())
	if err != nil {
		t.Fatalf("HTTPBody: %v", err)
	}
	if result != ResultSuccess {
		t.Fatalf("result = %v, want ResultSuccess", result)
	}
}

func TestHTTPBodyServerErrorRetriesThenFails(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	body := HTTPBody(HTTPConfig{URL: srv.URL, MaxAttempts: 2})
	result, err := body(context.Background())
	if err == nil {
		t.Fatalf("expected an error from a persistent 500")
	}
	if result != ResultFailure {
		t.Fatalf("result = %v, want ResultFailure", result)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (MaxAttempts)", calls)
	}
}

func TestHTTPBodyClientErrorIsPermanent(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	body := HTTPBody(HTTPConfig{URL: srv.URL, MaxAttempts: 5})
	_, err := body(context.Background())
	if err == nil {
		t.Fatalf("expected an error from a 400")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (a 4xx must not be retried)", calls)
	}
}

type fakeBreaker struct {
	allow   bool
	results []bool
}

func (f *fakeBreaker) Allow() bool         { return f.allow }
func (f *fakeBreaker) RecordResult(ok bool) { f.results = append(f.results, ok) }

func TestHTTPBodyRespectsOpenBreaker(t *testing.T) {
	b := &fakeBreaker{allow: false}
	body := HTTPBody(HTTPConfig{URL: "http://127.0.0.1:0", Breaker: b})
	result, err := body(context.Background())
	if err == nil {
		t.Fatalf("expected an error when the breaker denies the request")
	}
	if result != ResultRetry {
		t.Fatalf("result = %v, want ResultRetry so the scheduler requeues it", result)
	}
	if len(b.results) != 0 {
		t.Fatalf("RecordResult should not be called when the breaker already denied the attempt")
	}
}
