// ABOUTME: Centralized configuration defaults for feedsync
// ABOUTME: Contains the values viper falls back to plus display constants

package config

import "time"

// HTTP settings
const (
	DefaultHTTPTimeout = 30 * time.Second
)

// Poll settings
const (
	DefaultPollIdleDelay = 60 * time.Second
	MinPollIdleDelay     = 5 * time.Second
)

// Remote settings
const (
	BackendCharm = "charm"
	BackendRedis = "redis"
	BackendNone  = "none"

	DefaultBackend     = BackendCharm
	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisPrefix = "feedsync"
	DefaultCharmWatch  = 30 * time.Second
)

// Logging settings
const (
	DefaultLogLevel      = "info"
	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 3
	DefaultLogMaxAgeDays = 28
)

// Display settings
const (
	DefaultListLimit = 20
	DisplayIDLength  = 8
	SeparatorWidth   = 60
	DateFormatShort  = "02 Jan 06 15:04 MST"
	DateFormatLong   = "Mon, 02 Jan 2006 15:04 MST"
	DefaultGlamStyle = "dark"
)

// Storage settings
const (
	MinPrefixLength = 6
	DefaultDirPerms = 0755
)

// EnvPrefix prefixes every environment override, e.g. FEEDSYNC_REMOTE_BACKEND.
const EnvPrefix = "FEEDSYNC"
