// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/keyward/keyward/internal/auth"

// Observer receives the outcome of every Authority operation.
type Observer interface {
	ObserveRegister(status Status)
	ObserveLogin(status Status)
	ObserveAuthorize(status Status)
}

type nopObserver struct{}

func (nopObserver) ObserveRegister(Status)  {}
func (nopObserver) ObserveLogin(Status)     {}
func (nopObserver) ObserveAuthorize(Status) {}

// AuthorityOption configures an Authority.
type AuthorityOption func(*Authority)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) AuthorityOption {
	return func(a *Authority) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithObserver sets the outcome observer, typically a metrics collector.
func WithObserver(observer Observer) AuthorityOption {
	return func(a *Authority) {
		if observer != nil {
			a.observer = observer
		}
	}
}

// Authority is the entry point used by transports: it registers accounts,
// logs them in and authorizes bearer tokens.
type Authority struct {
	credentials *CredentialService
	tokens      *TokenService
	gate        *Gate
	logger      *slog.Logger
	observer    Observer
	tracer      trace.Tracer
}

// NewAuthority composes the credential and token services.
func NewAuthority(credentials *CredentialService, tokens *TokenService, opts ...AuthorityOption) (*Authority, error) {
	if credentials == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("credential service is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("token service is required")
	}
	a := &Authority{
		credentials: credentials,
		tokens:      tokens,
		gate:        NewGate(tokens),
		logger:      slog.Default(),
		observer:    nopObserver{},
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Register creates an account.
func (a *Authority) Register(ctx context.Context, email, password string) (Result[*Account], error) {
	ctx, span := a.tracer.Start(ctx, "auth.Register")
	defer span.End()

	res, err := a.credentials.Register(ctx, email, password)
	a.observer.ObserveRegister(res.Status())
	finishSpan(span, res.Status(), err)
	if err != nil {
		return res, err
	}

	if account, ok := res.Value(); ok {
		a.logger.InfoContext(ctx, "account registered", "account_id", account.ID.String())
	} else {
		a.logger.InfoContext(ctx, "registration rejected", "result", res.Status().String())
	}
	return res, nil
}

// Login verifies credentials and returns the owner's live token, minting one
// if none exists. Wrong credentials yield an Unauthorized result.
func (a *Authority) Login(ctx context.Context, email, password string) (Result[*AccessToken], error) {
	ctx, span := a.tracer.Start(ctx, "auth.Login")
	defer span.End()

	res, err := a.login(ctx, email, password)
	a.observer.ObserveLogin(res.Status())
	finishSpan(span, res.Status(), err)
	return res, err
}

func (a *Authority) login(ctx context.Context, email, password string) (Result[*AccessToken], error) {
	cred, err := a.credentials.ValidateCredential(ctx, email, password)
	if err != nil {
		return UnknownFailure[*AccessToken]("login failed"), err
	}
	account, ok := cred.Value()
	if !ok {
		a.logger.InfoContext(ctx, "login rejected", "result", cred.Status().String())
		return Unauthorized[*AccessToken](cred.Message()), nil
	}

	token, err := a.tokens.IssueOrReuse(ctx, account.ID)
	if err != nil {
		return UnknownFailure[*AccessToken]("login failed"), oops.Code("AUTH_LOGIN_FAILED").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	a.logger.InfoContext(ctx, "login succeeded",
		"account_id", account.ID.String(),
		"token_prefix", TokenPrefix(token.Value))
	return Success(token), nil
}

// Authorize resolves the account behind an Authorization header value.
func (a *Authority) Authorize(ctx context.Context, header string) (ulid.ULID, error) {
	ctx, span := a.tracer.Start(ctx, "auth.Authorize")
	defer span.End()

	id, err := a.gate.Authorize(ctx, header)
	status := StatusSuccess
	switch {
	case errors.Is(err, ErrUnauthorized):
		status = StatusUnauthorized
		finishSpan(span, status, nil)
	case err != nil:
		status = StatusUnknownFailure
		finishSpan(span, status, err)
	default:
		span.SetAttributes(attribute.String("account_id", id.String()))
		finishSpan(span, status, nil)
	}
	a.observer.ObserveAuthorize(status)
	return id, err
}

// Account looks up an account by id.
func (a *Authority) Account(ctx context.Context, id ulid.ULID) (Result[*Account], error) {
	return a.credentials.Account(ctx, id)
}

func finishSpan(span trace.Span, status Status, err error) {
	span.SetAttributes(attribute.String("auth.result", status.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal failure")
	}
}
