package captcha

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"devforum/internal/config"
)

func verifierFor(t *testing.T, provider string, h http.HandlerFunc) *HTTPVerifier {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &HTTPVerifier{provider: provider, verifyURL: ts.URL, secret: "secret", client: ts.Client()}
}

func TestNewVerifierDisabledIsNoop(t *testing.T) {
	v := NewVerifier(config.Config{})
	if _, ok := v.(Noop); !ok {
		t.Fatalf("expected Noop, got %T", v)
	}
	if err := v.Verify(t.Context(), "", ""); err != nil {
		t.Fatalf("noop verify: %v", err)
	}
}

func TestFormProviderSendsSecretAndIP(t *testing.T) {
	v := verifierFor(t, "turnstile", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("secret") != "secret" || r.PostForm.Get("response") != "tok" || r.PostForm.Get("remoteip") != "203.0.113.7" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	if err := v.Verify(t.Context(), " tok ", "203.0.113.7"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestVerifyOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		token    string
		status   int
		body     string
		want     error
	}{
		{"missing token", "turnstile", "", 200, `{"success":true}`, ErrRejected},
		{"rejected codes", "turnstile", "tok", 200, `{"success":false,"error-codes":["invalid-input-response"]}`, ErrRejected},
		{"form 4xx", "hcaptcha", "tok", 400, `{}`, ErrRejected},
		{"form 5xx", "hcaptcha", "tok", 502, `{}`, ErrUnavailable},
		{"cap success", "cap", "tok", 200, `{"success":true}`, nil},
		{"cap message", "cap", "tok", 200, `{"success":false,"message":"expired"}`, ErrRejected},
		{"cap non-2xx", "cap", "tok", 400, `{"error":"bad"}`, ErrUnavailable},
		{"garbage body", "turnstile", "tok", 200, `not json`, ErrUnavailable},
		{"unknown provider", "recaptcha", "tok", 200, `{"success":true}`, ErrUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := verifierFor(t, tc.provider, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			err := v.Verify(t.Context(), tc.token, "")
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
