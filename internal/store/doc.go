// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package store owns the PostgreSQL connection pool and the embedded schema
// migrations used by the SQL repositories.
package store
