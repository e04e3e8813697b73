package config

import "errors"

// ErrNotConfigured marks a missing mandatory credential or endpoint. Callers
// check it with errors.Is to map the failure onto their own surface (HTTP 500
// with a fixed message, or a fatal log for the agent entrypoint).
var ErrNotConfigured = errors.New("credentials not configured")
