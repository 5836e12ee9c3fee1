// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package grpc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/pkg/errutil"
)

// authorizationKey is the metadata key carrying "Bearer <token>".
const authorizationKey = "authorization"

// DefaultPublicMethods leaves the standard health service open.
var DefaultPublicMethods = []string{"/grpc.health.v1.Health/*"}

// Authorizer resolves an authorization header value to an account id.
type Authorizer interface {
	Authorize(ctx context.Context, header string) (ulid.ULID, error)
}

// Gate enforces bearer authorization on every RPC except the public ones.
type Gate struct {
	authz  Authorizer
	public []glob.Glob
	logger *slog.Logger
}

// NewGate compiles the public method patterns. Patterns match full method
// names such as "/pkg.Service/Method"; '*' does not cross '/'.
func NewGate(authz Authorizer, publicMethods []string, logger *slog.Logger) (*Gate, error) {
	if authz == nil {
		return nil, oops.Code("GRPC_INVALID_CONFIG").Errorf("authorizer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{authz: authz, logger: logger}
	for _, pattern := range publicMethods {
		compiled, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, oops.Code("GRPC_INVALID_PUBLIC_METHOD").With("pattern", pattern).Wrap(err)
		}
		g.public = append(g.public, compiled)
	}
	return g, nil
}

// IsPublic reports whether fullMethod skips authorization.
func (g *Gate) IsPublic(fullMethod string) bool {
	for _, p := range g.public {
		if p.Match(fullMethod) {
			return true
		}
	}
	return false
}

func (g *Gate) authorize(ctx context.Context, fullMethod string) (context.Context, error) {
	if g.IsPublic(fullMethod) {
		return ctx, nil
	}

	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(authorizationKey); len(values) > 0 {
			header = values[0]
		}
	}

	id, err := g.authz.Authorize(ctx, header)
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return nil, status.Error(codes.Unauthenticated, "Unauthorized!")
	case err != nil:
		errutil.LogErrorContext(ctx, g.logger, "authorization failed", err)
		return nil, status.Error(codes.Internal, "internal error")
	}
	return auth.WithAccountID(ctx, id), nil
}

// UnaryInterceptor authorizes unary calls.
func (g *Gate) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := g.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor authorizes streaming calls.
func (g *Gate) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := g.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authorizedStream{ServerStream: ss, ctx: ctx})
	}
}

type authorizedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authorizedStream) Context() context.Context { return s.ctx }
