// Package captcha checks the human-verification token a browser submits
// with a sign-up request.
package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"devforum/internal/config"
	"devforum/internal/metrics"
)

var (
	// ErrRejected means the token was missing or the provider refused it.
	ErrRejected = errors.New("captcha rejected")
	// ErrUnavailable means the provider could not give an answer.
	ErrUnavailable = errors.New("captcha unavailable")
)

type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

type Noop struct{}

func (Noop) Verify(context.Context, string, string) error { return nil }

// HTTPVerifier speaks the siteverify protocol. Turnstile and hCaptcha take
// a form-encoded body; "cap" takes JSON and reports errors in its own
// fields.
type HTTPVerifier struct {
	provider  string
	verifyURL string
	secret    string
	client    *http.Client
}

func NewVerifier(cfg config.Config) Verifier {
	if !cfg.CaptchaEnabled {
		return Noop{}
	}
	return &HTTPVerifier{
		provider:  strings.ToLower(strings.TrimSpace(cfg.CaptchaProvider)),
		verifyURL: strings.TrimSpace(cfg.CaptchaVerifyURL),
		secret:    strings.TrimSpace(cfg.CaptchaSecret),
		client:    &http.Client{Timeout: 8 * time.Second},
	}
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Error      string   `json:"error"`
	Message    string   `json:"message"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	err := v.verify(ctx, strings.TrimSpace(token), strings.TrimSpace(remoteIP))
	switch {
	case err == nil:
		metrics.CaptchaChecksTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrRejected):
		metrics.CaptchaChecksTotal.WithLabelValues("rejected").Inc()
	default:
		metrics.CaptchaChecksTotal.WithLabelValues("unavailable").Inc()
	}
	return err
}

func (v *HTTPVerifier) verify(ctx context.Context, token, remoteIP string) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrRejected)
	}
	var (
		body        io.Reader
		contentType string
		jsonBody    bool
	)
	switch v.provider {
	case "", "turnstile", "hcaptcha":
		form := url.Values{"secret": {v.secret}, "response": {token}}
		if remoteIP != "" {
			form.Set("remoteip", remoteIP)
		}
		body, contentType = strings.NewReader(form.Encode()), "application/x-www-form-urlencoded"
	case "cap":
		payload := map[string]string{"secret": v.secret, "response": token}
		if remoteIP != "" {
			payload["remoteip"] = remoteIP
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		body, contentType, jsonBody = bytes.NewReader(raw), "application/json", true
	default:
		return fmt.Errorf("%w: unsupported provider %q", ErrUnavailable, v.provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500, jsonBody && resp.StatusCode >= 300:
		return fmt.Errorf("%w: verify returned HTTP %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: verify returned HTTP %d", ErrRejected, resp.StatusCode)
	}

	var out siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if out.Success {
		return nil
	}
	if jsonBody {
		if msg := firstNonEmpty(out.Error, out.Message); msg != "" {
			return fmt.Errorf("%w: %s", ErrRejected, msg)
		}
	}
	if len(out.ErrorCodes) > 0 {
		return fmt.Errorf("%w: %s", ErrRejected, strings.Join(out.ErrorCodes, ","))
	}
	return ErrRejected
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
