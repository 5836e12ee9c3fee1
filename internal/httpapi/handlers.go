// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/pkg/errutil"
)

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the body of a successful login.
type LoginResponse struct {
	Token string `json:"token"`
}

// AccountResponse describes an account without its password digest.
type AccountResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (CredentialsRequest, bool) {
	var req CredentialsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, ErrorResponse{
			StatusCode:      http.StatusBadRequest,
			Code:            CodeInvalidRequest,
			Message:         "Invalid request!",
			DetailedMessage: "request body must be a JSON object with email and password",
		})
		return req, false
	}
	return req, true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	res, err := s.authority.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		errutil.LogErrorContext(r.Context(), s.logger, "register failed", err)
		writeError(w, internalResponse)
		return
	}

	switch res.Status() {
	case auth.StatusSuccess:
		account, _ := res.Value()
		writeJSON(w, http.StatusOK, toAccountResponse(account))
	case auth.StatusInvalid:
		writeError(w, ErrorResponse{
			StatusCode:      http.StatusBadRequest,
			Code:            CodeInvalidRequest,
			Message:         "Invalid request!",
			DetailedMessage: res.Message(),
		})
	case auth.StatusConflict:
		writeError(w, ErrorResponse{
			StatusCode:      http.StatusConflict,
			Code:            CodeEmailConflict,
			Message:         "Email Already Exists!",
			DetailedMessage: res.Message(),
		})
	default:
		writeError(w, internalResponse)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	res, err := s.authority.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		errutil.LogErrorContext(r.Context(), s.logger, "login failed", err)
		writeError(w, internalResponse)
		return
	}

	switch res.Status() {
	case auth.StatusSuccess:
		token, _ := res.Value()
		writeJSON(w, http.StatusOK, LoginResponse{Token: token.Value})
	case auth.StatusUnauthorized, auth.StatusNotFound:
		writeError(w, ErrorResponse{
			StatusCode:      http.StatusUnauthorized,
			Code:            CodeInvalidCredentials,
			Message:         "Login failed!",
			DetailedMessage: res.Message(),
		})
	default:
		writeError(w, internalResponse)
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		writeError(w, unauthorizedResponse)
		return
	}

	res, err := s.authority.Account(r.Context(), id)
	if err != nil {
		errutil.LogErrorContext(r.Context(), s.logger, "account lookup failed", err)
		writeError(w, internalResponse)
		return
	}

	account, found := res.Value()
	if !found {
		writeError(w, ErrorResponse{
			StatusCode:      http.StatusNotFound,
			Code:            CodeNotFound,
			Message:         "Account not found!",
			DetailedMessage: res.Message(),
		})
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

func toAccountResponse(a *auth.Account) AccountResponse {
	return AccountResponse{ID: a.ID.String(), Email: a.Email}
}
