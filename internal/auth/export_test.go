// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"time"

	"github.com/google/uuid"
)

// NewSHA512TokenGeneratorForTest builds a generator with fixed entropy sources.
func NewSHA512TokenGeneratorForTest(now func() time.Time, newUUID func() (uuid.UUID, error)) *SHA512TokenGenerator {
	return &SHA512TokenGenerator{now: now, newUUID: newUUID}
}

// VerifyRecovering exposes the panic guard shared by the hashers.
func VerifyRecovering(compare func() bool) bool {
	return verifyRecovering(compare)
}
