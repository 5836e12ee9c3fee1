// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package errutil

import (
	"fmt"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Outcome is satisfied by auth.Result values.
type Outcome interface {
	OK() bool
	Message() string
}

func requireOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	return oopsErr
}

// AssertErrorCode asserts that err is an oops error whose innermost code is
// code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	assert.Equal(t, code, requireOops(t, err).Code())
}

// AssertErrorContext asserts that err carries key=value in its oops context,
// merged across every wrapping layer.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	ctx := requireOops(t, err).Context()
	if assert.Contains(t, ctx, key) {
		assert.Equal(t, value, ctx[key])
	}
}

// AssertInternalFailure asserts that an operation returning a result and an
// error failed internally: the result is not OK, err has the given code, and
// none of leaked appears in the result message a caller would see.
func AssertInternalFailure(t *testing.T, res Outcome, err error, code string, leaked ...string) {
	t.Helper()
	assert.False(t, res.OK(), "internal failure must not produce a successful result")
	AssertErrorCode(t, err, code)
	for _, s := range leaked {
		assert.NotContains(t, res.Message(), s)
	}
}

// AssertNoSecrets asserts that neither the message nor the oops context of
// err contains any of secrets. Passwords and full token values must never
// travel in errors, since errors end up in logs.
func AssertNoSecrets(t *testing.T, err error, secrets ...string) {
	t.Helper()
	ctx := requireOops(t, err).Context()
	rendered := err.Error() + fmt.Sprint(ctx)
	for _, s := range secrets {
		assert.NotContains(t, rendered, s)
	}
}
