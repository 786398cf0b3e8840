// Package influxdb records DMX engine metrics in InfluxDB.
//
// Two measurements are written:
//   - dmx_runs: one point per finished script run (statements, frames,
//     retries, duration), tagged by script, trigger and status
//   - dmx_engine: one point per engine start or stop
//
// Every point carries service=graylogic-dmx. Org and bucket default to
// "graylogic" and "dmx".
//
// Writes are non-blocking and batched (influxdb.batch_size,
// influxdb.flush_interval). Asynchronous write failures are delivered to
// the callback set with SetOnError and make the next HealthCheck fail.
// Every write is a no-op on a closed client, so callers never need to
// guard on IsConnected.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without metrics
//	}
//	defer client.Close()
//
//	client.WriteRunMetric(influxdb.RunMetric{Script: "evening.dmx", Status: "completed"})
package influxdb
