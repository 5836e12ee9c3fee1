// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MaxPasswordLength is the bcrypt input limit in bytes.
const MaxPasswordLength = 72

// InvalidCredentialsMessage is returned for both an unknown email and a wrong
// password so callers cannot tell the two apart.
const InvalidCredentialsMessage = "Email or password is incorrect"

// dummyPassword is hashed once per service to produce a digest in the
// configured algorithm. Verifying against it for unknown emails keeps the
// response time close to that of a real verification.
//
//nolint:gosec // G101: not a credential.
const dummyPassword = "keyward-dummy-password"

// ValidatePassword checks that a password can be hashed by every supported
// algorithm.
func ValidatePassword(password string) error {
	if password == "" {
		return oops.Code("AUTH_INVALID_PASSWORD").Errorf("password cannot be empty")
	}
	if len(password) > MaxPasswordLength {
		return oops.Code("AUTH_INVALID_PASSWORD").
			With("max", MaxPasswordLength).
			Errorf("password must be at most %d bytes", MaxPasswordLength)
	}
	return nil
}

// ConflictMessage renders the message of a duplicate-email registration.
func ConflictMessage(email string) string {
	return fmt.Sprintf("User email %s already exists!", email)
}

// CredentialService registers accounts and verifies login credentials.
type CredentialService struct {
	accounts AccountRepository
	hasher   PasswordHasher
	now      func() time.Time

	dummyOnce   sync.Once
	dummyDigest string
}

// NewCredentialService creates a CredentialService.
func NewCredentialService(accounts AccountRepository, hasher PasswordHasher, opts ...ServiceOption) (*CredentialService, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("account repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}
	o := applyServiceOptions(opts)
	return &CredentialService{
		accounts: accounts,
		hasher:   hasher,
		now:      o.now,
	}, nil
}

// Register creates an account. Business rejections come back as a Result;
// only storage or hashing failures are returned as an error.
func (s *CredentialService) Register(ctx context.Context, email, password string) (Result[*Account], error) {
	if err := ValidateEmail(email); err != nil {
		return Invalid[*Account](err.Error()), nil
	}
	if err := ValidatePassword(password); err != nil {
		return Invalid[*Account](err.Error()), nil
	}

	// Optimistic pre-check. The unique constraint in the repository is the
	// real guard against concurrent registrations.
	_, err := s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return Conflict[*Account](ConflictMessage(email)), nil
	case !errors.Is(err, ErrNotFound):
		return UnknownFailure[*Account]("registration failed"), oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return UnknownFailure[*Account]("registration failed"), oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	account := &Account{
		Email:        email,
		PasswordHash: digest,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			return Conflict[*Account](ConflictMessage(email)), nil
		}
		return UnknownFailure[*Account]("registration failed"), oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create account").
			Wrap(err)
	}

	return Success(account), nil
}

// ValidateCredential checks an email/password pair. An unknown email and a
// wrong password produce the same NotFound result.
func (s *CredentialService) ValidateCredential(ctx context.Context, email, password string) (Result[*Account], error) {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return UnknownFailure[*Account]("credential check failed"), oops.Code("AUTH_VALIDATE_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	target := s.dummy()
	if account != nil {
		target = account.PasswordHash
	}

	// Always verify so both failure paths cost a hash computation.
	valid := s.hasher.Verify(password, target)
	if account == nil || !valid {
		return NotFound[*Account](InvalidCredentialsMessage), nil
	}
	return Success(account), nil
}

// Account looks up an account by id.
func (s *CredentialService) Account(ctx context.Context, id ulid.ULID) (Result[*Account], error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NotFound[*Account](fmt.Sprintf("Account %s not found", id)), nil
		}
		return UnknownFailure[*Account]("account lookup failed"), oops.Code("AUTH_ACCOUNT_LOOKUP_FAILED").
			With("account_id", id.String()).
			Wrap(err)
	}
	return Success(account), nil
}

func (s *CredentialService) dummy() string {
	s.dummyOnce.Do(func() {
		// On failure the digest stays empty and Verify rejects it outright.
		s.dummyDigest, _ = s.hasher.Hash(dummyPassword) //nolint:errcheck // best effort
	})
	return s.dummyDigest
}
