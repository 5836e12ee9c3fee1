// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/auth/memory"
	"github.com/keyward/keyward/internal/httpapi"
	"github.com/keyward/keyward/pkg/errutil"
)

var tokenFormat = `^[0-9A-F]{128}$`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMemoryAuthority(t *testing.T) *auth.Authority {
	t.Helper()
	creds, err := auth.NewCredentialService(memory.NewAccountRepository(), auth.NewBcryptHasher(bcrypt.MinCost))
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(memory.NewTokenRepository(auth.TokenStoreOptions{}), auth.NewSHA512TokenGenerator())
	require.NoError(t, err)
	a, err := auth.NewAuthority(creds, tokens, auth.WithLogger(quietLogger()))
	require.NoError(t, err)
	return a
}

type recordedRequest struct {
	route string
	code  int
}

type requestLog struct {
	mu   sync.Mutex
	seen []recordedRequest
}

func (l *requestLog) ObserveHTTP(route string, code int, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, recordedRequest{route, code})
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if len(header) > 0 {
		req.Header.Set("Authorization", header[0])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httpapi.ErrorResponse {
	t.Helper()
	var body httpapi.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestAPI_EndToEnd(t *testing.T) {
	reqs := &requestLog{}
	h := httpapi.NewServer(":0", newMemoryAuthority(t),
		httpapi.WithLogger(quietLogger()),
		httpapi.WithRequestObserver(reqs),
	).Handler()

	rec := do(t, h, http.MethodPost, "/api/user/register", `{"email":"a@x.com","password":"pw1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var created httpapi.AccountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "a@x.com", created.Email)

	rec = do(t, h, http.MethodPost, "/api/user/register", `{"email":"a@x.com","password":"pw1"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decodeError(t, rec)
	assert.Equal(t, httpapi.CodeEmailConflict, conflict.Code)
	assert.Equal(t, "Email Already Exists!", conflict.Message)
	assert.Equal(t, "User email a@x.com already exists!", conflict.DetailedMessage)

	rec = do(t, h, http.MethodPost, "/api/user/login", `{"email":"a@x.com","password":"pw1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var login httpapi.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	assert.Regexp(t, tokenFormat, login.Token)

	rec = do(t, h, http.MethodGet, "/api/user/me", "", "Bearer "+login.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	var me httpapi.AccountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, created, me)

	rec = do(t, h, http.MethodGet, "/api/user/me", "", "Bearer WRONG")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, []recordedRequest{
		{"POST /api/user/register", http.StatusOK},
		{"POST /api/user/register", http.StatusConflict},
		{"POST /api/user/login", http.StatusOK},
		{"GET /api/user/me", http.StatusOK},
		{"GET /api/user/me", http.StatusUnauthorized},
	}, reqs.seen)
}

func TestAPI_Register_Invalid(t *testing.T) {
	h := httpapi.NewServer(":0", newMemoryAuthority(t), httpapi.WithLogger(quietLogger())).Handler()

	tests := map[string]string{
		"malformed json": `{"email":`,
		"unknown field":  `{"email":"a@x.com","password":"pw","admin":true}`,
		"empty password": `{"email":"a@x.com","password":""}`,
		"bad email":      `{"email":"nope","password":"pw1"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/user/register", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, httpapi.CodeInvalidRequest, resp.Code)
		})
	}
}

func TestAPI_Login_RejectionsAreIdentical(t *testing.T) {
	h := httpapi.NewServer(":0", newMemoryAuthority(t), httpapi.WithLogger(quietLogger())).Handler()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/user/register", `{"email":"a@x.com","password":"pw1"}`).Code)

	wrong := do(t, h, http.MethodPost, "/api/user/login", `{"email":"a@x.com","password":"nope"}`)
	unknown := do(t, h, http.MethodPost, "/api/user/login", `{"email":"b@x.com","password":"pw1"}`)

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, wrong.Code, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
	assert.Equal(t, httpapi.CodeInvalidCredentials, decodeError(t, wrong).Code)
}

func TestAPI_Me_UnauthorizedBody(t *testing.T) {
	h := httpapi.NewServer(":0", newMemoryAuthority(t), httpapi.WithLogger(quietLogger())).Handler()

	for _, header := range []string{"", "Token abc", "Bearer", "Bearer " + strings.Repeat("A", 128)} {
		rec := do(t, h, http.MethodGet, "/api/user/me", "", header)
		require.Equal(t, http.StatusUnauthorized, rec.Code, header)
		assert.Equal(t, httpapi.ErrorResponse{
			StatusCode:      http.StatusUnauthorized,
			Code:            httpapi.CodeUnauthorized,
			Message:         "Unauthorized!",
			DetailedMessage: "This API needs authorization but authorization failed!",
		}, decodeError(t, rec))
	}
}

func TestAPI_MethodNotAllowed(t *testing.T) {
	h := httpapi.NewServer(":0", newMemoryAuthority(t)).Handler()
	rec := do(t, h, http.MethodGet, "/api/user/login", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// stubAuthority authorizes every request as id and returns err from the
// other calls.
type stubAuthority struct {
	err     error
	account auth.Result[*auth.Account]
	id      ulid.ULID
}

func (s stubAuthority) Register(context.Context, string, string) (auth.Result[*auth.Account], error) {
	return auth.UnknownFailure[*auth.Account]("registration failed"), s.err
}

func (s stubAuthority) Login(context.Context, string, string) (auth.Result[*auth.AccessToken], error) {
	return auth.UnknownFailure[*auth.AccessToken]("login failed"), s.err
}

func (s stubAuthority) Authorize(context.Context, string) (ulid.ULID, error) {
	return s.id, nil
}

func (s stubAuthority) Account(context.Context, ulid.ULID) (auth.Result[*auth.Account], error) {
	return s.account, s.err
}

func TestAPI_InternalFailures(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	stub := stubAuthority{err: errors.New("connection refused"), id: ulid.Make()}
	h := httpapi.NewServer(":0", stub, httpapi.WithLogger(logger)).Handler()

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/api/user/register", `{"email":"a@x.com","password":"pw1"}`},
		{http.MethodPost, "/api/user/login", `{"email":"a@x.com","password":"pw1"}`},
		{http.MethodGet, "/api/user/me", ""},
	} {
		rec := do(t, h, tc.method, tc.path, tc.body, "Bearer T")
		require.Equal(t, http.StatusInternalServerError, rec.Code, tc.path)
		resp := decodeError(t, rec)
		assert.Equal(t, httpapi.CodeInternal, resp.Code)
		assert.NotContains(t, rec.Body.String(), "connection refused")
	}
	assert.Contains(t, logs.String(), "connection refused")
}

func TestAPI_Me_AccountGone(t *testing.T) {
	stub := stubAuthority{id: ulid.Make(), account: auth.NotFound[*auth.Account]("Account not found")}
	h := httpapi.NewServer(":0", stub, httpapi.WithLogger(quietLogger())).Handler()

	rec := do(t, h, http.MethodGet, "/api/user/me", "", "Bearer T")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, httpapi.CodeNotFound, decodeError(t, rec).Code)
}

type failingAuthorizer struct{ err error }

func (f failingAuthorizer) Authorize(context.Context, string) (ulid.ULID, error) {
	return ulid.ULID{}, f.err
}

func TestRequireAuth(t *testing.T) {
	id := ulid.Make()
	var seen ulid.ULID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.AccountIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	ok := httpapi.RequireAuth(stubAuthority{id: id}, quietLogger())(next)
	rec := do(t, ok, http.MethodGet, "/", "", "Bearer T")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, id, seen)

	denied := httpapi.RequireAuth(failingAuthorizer{err: auth.ErrUnauthorized}, nil)(next)
	assert.Equal(t, http.StatusUnauthorized, do(t, denied, http.MethodGet, "/", "").Code)

	broken := httpapi.RequireAuth(failingAuthorizer{err: errors.New("db down")}, quietLogger())(next)
	assert.Equal(t, http.StatusInternalServerError, do(t, broken, http.MethodGet, "/", "").Code)
}

func TestServer_Lifecycle(t *testing.T) {
	srv := httpapi.NewServer("127.0.0.1:0", newMemoryAuthority(t), httpapi.WithLogger(quietLogger()))
	assert.Empty(t, srv.Addr())

	errCh, err := srv.Start()
	require.NoError(t, err)

	_, err = srv.Start()
	errutil.AssertErrorCode(t, err, "HTTP_ALREADY_RUNNING")

	resp, err := http.Post("http://"+srv.Addr()+"/api/user/register", "application/json", //nolint:noctx // local listener
		strings.NewReader(`{"email":"a@x.com","password":"pw1"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, srv.Stop(ctx))

	select {
	case err, open := <-errCh:
		if open {
			assert.NoError(t, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error channel not closed")
	}
}
