// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package memory provides in-process implementations of the auth
// repositories for development and tests. State is lost on restart.
package memory
