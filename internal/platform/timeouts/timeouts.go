// Package timeouts defines shared timeout constants used across the server.
// Centralizing these values keeps the durations discoverable and prevents
// drift between the HTTP layer and the app lifecycle.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 10 * time.Second
