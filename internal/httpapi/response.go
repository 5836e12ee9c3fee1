// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	StatusCode      int    `json:"status_code"`
	Code            string `json:"code"`
	Message         string `json:"message"`
	DetailedMessage string `json:"detailed_message,omitempty"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeEmailConflict      = "EMAIL_CONFLICT"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL"
)

// unauthorizedResponse is returned for every request the gate rejects.
var unauthorizedResponse = ErrorResponse{
	StatusCode:      http.StatusUnauthorized,
	Code:            CodeUnauthorized,
	Message:         "Unauthorized!",
	DetailedMessage: "This API needs authorization but authorization failed!",
}

var internalResponse = ErrorResponse{
	StatusCode: http.StatusInternalServerError,
	Code:       CodeInternal,
	Message:    "Internal server error",
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("response write failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, resp ErrorResponse) {
	writeJSON(w, resp.StatusCode, resp)
}
