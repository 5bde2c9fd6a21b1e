package config

import "time"

// DefaultAddr is the default listen address for the WebSocket listener.
const DefaultAddr = "127.0.0.1:7171"

// DefaultHeartbeatInterval is the WebSocket ping period.
const DefaultHeartbeatInterval = 30 * time.Second

// Default plot device geometry, in pixels and dots per inch.
const (
	DefaultPlotWidth      float64 = 640
	DefaultPlotHeight     float64 = 480
	DefaultPlotResolution float64 = 96
)

// DefaultProtocolConstraint accepts any 1.x client.
const DefaultProtocolConstraint = "^1.0.0"
