// Package util holds the JSON response writers shared by the HTTP handlers.
package util

import (
	"encoding/json"
	"net/http"
)

// APIError is the body of every non-2xx response. Field names the request
// field a validation error refers to.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, code, msg, reqID string) {
	WriteJSON(w, status, APIError{Code: code, Message: msg, RequestID: reqID})
}

func WriteFieldError(w http.ResponseWriter, field, msg, reqID string) {
	WriteJSON(w, http.StatusBadRequest, APIError{Code: "invalid_request", Message: msg, Field: field, RequestID: reqID})
}
