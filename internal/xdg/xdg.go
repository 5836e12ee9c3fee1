// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package xdg resolves Keyward's XDG Base Directory paths.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "keyward"

// configFileName is the file looked up when --config is not given.
const configFileName = "config.yaml"

// ConfigDir returns $XDG_CONFIG_HOME/keyward, falling back to
// $HOME/.config/keyward. A nil getenv uses os.Getenv.
func ConfigDir(getenv func(string) string) (string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if base := getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, appName), nil
	}
	home := getenv("HOME")
	if home == "" {
		return "", oops.Code("XDG_NO_HOME").Errorf("neither XDG_CONFIG_HOME nor HOME is set")
	}
	return filepath.Join(home, ".config", appName), nil
}

// DefaultConfigFile returns the path of config.yaml in ConfigDir if that file
// exists.
func DefaultConfigFile(getenv func(string) string) (string, bool) {
	dir, err := ConfigDir(getenv)
	if err != nil {
		return "", false
	}
	path := filepath.Join(dir, configFileName)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}
