// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the bridge
// host.
//
// Configuration is loaded from a single file specified by either the
// PIPEBRIDGE_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks and no automatic file
// search. Without a file the host runs on [Default] values, adjusted
// by command-line flags.
//
// ${VAR} and ${VAR:-default} patterns are expanded in
// transport.socket_directory after loading. No other environment
// variables override config values.
//
// This package depends on no other pipebridge packages.
package config
