package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"txetl/internal/datasource/httpds"
)

func newReader(url string) *Reader {
	return NewReader(url, "k-123", httpds.Config{Timeout: 2 * time.Second})
}

func TestRead_Success(t *testing.T) {
	t.Parallel()

	seen := make(chan [2]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- [2]string{r.URL.Query().Get("key"), r.Header.Get("Accept")}
		_, _ = io.WriteString(w, `[{"transaction_id":"T1","quantity":2},{"transaction_id":null}]`)
	}))
	defer srv.Close()

	dec, err := newReader(srv.URL + "/trans").Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(dec.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(dec.Records))
	}
	got := <-seen
	gotKey, gotAccept := got[0], got[1]
	if gotKey != "k-123" {
		t.Fatalf("api key = %q, want k-123", gotKey)
	}
	if gotAccept != "application/json" {
		t.Fatalf("Accept = %q", gotAccept)
	}
}

func TestRead_EmptyArrayIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	dec, err := newReader(srv.URL).Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(dec.Records) != 0 {
		t.Fatalf("records = %d, want 0", len(dec.Records))
	}
}

func TestRead_FailuresAreSourceUnavailable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, "<html>oops</html>")
			},
		},
		{
			name: "object instead of array",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"error":"quota"}`)
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			dec, err := newReader(srv.URL).Read(context.Background())
			if !errors.Is(err, ErrSourceUnavailable) {
				t.Fatalf("err = %v, want ErrSourceUnavailable", err)
			}
			if len(dec.Records) != 0 {
				t.Fatalf("records = %d, want empty result on failure", len(dec.Records))
			}
		})
	}
}

func TestRead_ConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newReader(url).Read(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}
