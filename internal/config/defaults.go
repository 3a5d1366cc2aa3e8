// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined
// here. This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// SERVER
// =============================================================================

// DefaultServerHost binds to loopback only; the stats and admin surfaces are
// operational endpoints, not a public API.
const DefaultServerHost = "127.0.0.1"

// DefaultServerPort is the default listen port for the stats/admin server.
const DefaultServerPort = 18090

// DefaultServerReadTimeout for the HTTP server.
const DefaultServerReadTimeout = Duration(30 * time.Second)

// DefaultServerWriteTimeout for the HTTP server. Generous because the
// websocket stats feed holds its connection open.
const DefaultServerWriteTimeout = Duration(10 * time.Minute)

// =============================================================================
// LOGGING
// =============================================================================

// DefaultLogLevel is the default zerolog level.
const DefaultLogLevel = "info"

// =============================================================================
// STATS FEED
// =============================================================================

// DefaultStatsPushInterval is how often the websocket feed pushes a snapshot.
const DefaultStatsPushInterval = 5 * time.Second
