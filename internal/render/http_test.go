package render

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/kursadbilgin/label-engine/internal/remote"
)

func TestHTTPRendererRenderSuccess(t *testing.T) {
	t.Parallel()

	var got LabelData
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 label"))
	}))
	defer server.Close()

	r, err := NewHTTPRenderer(server.URL)
	if err != nil {
		t.Fatalf("NewHTTPRenderer() error = %v", err)
	}

	payload, err := r.Render(context.Background(), LabelData{
		Kind:         domain.LabelKindGRN,
		ProductCode:  "MEP123",
		OperatorID:   "5997",
		Mode:         domain.LabelModeWeight,
		Amount:       77,
		PalletNumber: "151026/1",
		Series:       "151026-A1B2C3",
	})
	if err != nil {
		t.Fatalf("Render() unexpected error: %v", err)
	}
	if string(payload) != "%PDF-1.7 label" {
		t.Fatalf("payload = %q", payload)
	}
	if got.PalletNumber != "151026/1" || got.Amount != 77 {
		t.Fatalf("request body = %+v", got)
	}
}

func TestHTTPRendererEmptyBodyIsNotAnError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r, err := NewHTTPRenderer(server.URL)
	if err != nil {
		t.Fatalf("NewHTTPRenderer() error = %v", err)
	}

	payload, err := r.Render(context.Background(), LabelData{})
	if err != nil {
		t.Fatalf("Render() unexpected error: %v", err)
	}
	if len(payload) != 0 {
		t.Fatalf("payload length = %d, want 0", len(payload))
	}
}

func TestHTTPRendererStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "unprocessable is permanent", statusCode: http.StatusUnprocessableEntity, wantTransient: false},
		{name: "service unavailable is transient", statusCode: http.StatusServiceUnavailable, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("template missing"))
			}))
			defer server.Close()

			r, err := NewHTTPRenderer(server.URL)
			if err != nil {
				t.Fatalf("NewHTTPRenderer() error = %v", err)
			}

			_, err = r.Render(context.Background(), LabelData{})
			var remoteErr *remote.Error
			if !errors.As(err, &remoteErr) {
				t.Fatalf("expected remote.Error, got %T", err)
			}
			if remoteErr.StatusCode != tc.statusCode {
				t.Fatalf("StatusCode = %d, want %d", remoteErr.StatusCode, tc.statusCode)
			}
			if got := remote.IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}
		})
	}
}

func TestHTTPRendererTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	r, err := NewHTTPRendererWithClient(server.URL, client)
	if err != nil {
		t.Fatalf("NewHTTPRendererWithClient() error = %v", err)
	}

	_, err = r.Render(context.Background(), LabelData{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !remote.IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestNewHTTPRendererValidatesEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPRenderer(""); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := NewHTTPRenderer("not a url"); err == nil {
		t.Fatal("expected error for invalid endpoint")
	}
}
