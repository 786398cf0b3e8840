package influxdb

import "errors"

// Sentinel errors for InfluxDB operations. Check with errors.Is.
var (
	ErrNotConnected = errors.New("influxdb: not connected")

	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrUnhealthy is returned when the server answers a ping but reports itself unhealthy.
	ErrUnhealthy = errors.New("influxdb: server not healthy")

	// ErrWriteFailed is returned by HealthCheck when run or engine points were rejected.
	ErrWriteFailed = errors.New("influxdb: metric writes failed")

	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
