// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package auth provides the credential and access-token engine for Keyward.
//
// # Domain Types
//
//   - Account - a registered identity; ID is assigned by the AccountRepository
//   - AccessToken - an opaque bearer token bound to an account
//   - Result - the outcome of a business operation (success, conflict, ...)
//
// # Services
//
//   - CredentialService - registration and password verification
//   - TokenService - issue-or-reuse and token-to-identity resolution
//   - Gate - extracts a bearer token from an Authorization header and
//     resolves it to an account id
//   - Authority - the facade used by transports (register, login, authorize)
//   - Sweeper - periodically deletes expired tokens from stores that lack
//     native expiry
//
// Expected business outcomes (duplicate email, wrong password, unknown token)
// are reported as Result values. Only storage or primitive failures are
// returned as errors.
package auth
