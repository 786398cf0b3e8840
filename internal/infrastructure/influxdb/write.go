package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementRuns   = "dmx_runs"
	MeasurementEngine = "dmx_engine"
)

// RunMetric summarises one finished script run.
type RunMetric struct {
	Script     string
	Trigger    string // "api", "mqtt", "autostart"
	Status     string // "completed", "failed", "stopped"
	Statements uint64
	Frames     uint64
	Retries    uint64
	Duration   time.Duration
	FinishedAt time.Time
}

// WriteRunMetric records a finished run in the dmx_runs measurement.
//
// Script, trigger and status are tags; the counters and duration are
// fields. A zero FinishedAt is stamped with the current time.
func (c *Client) WriteRunMetric(m RunMetric) {
	if !c.IsConnected() {
		return
	}

	at := m.FinishedAt
	if at.IsZero() {
		at = time.Now()
	}

	point := write.NewPoint(
		MeasurementRuns,
		map[string]string{
			"script":  m.Script,
			"trigger": m.Trigger,
			"status":  m.Status,
		},
		map[string]interface{}{
			"statements":  int64(m.Statements), //nolint:gosec // run counters stay far below MaxInt64
			"frames":      int64(m.Frames),     //nolint:gosec
			"retries":     int64(m.Retries),    //nolint:gosec
			"duration_ms": m.Duration.Milliseconds(),
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}

// WriteEngineState records an engine start or stop.
func (c *Client) WriteEngineState(script string, running bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementEngine,
		map[string]string{"script": script},
		map[string]interface{}{"running": running},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes an arbitrary point stamped with the current time.
//
// Example:
//
//	client.WritePoint("dmx_driver",
//	    map[string]string{"driver": "emulator"},
//	    map[string]interface{}{"reconnects": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
