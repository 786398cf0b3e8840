// Package engine runs DMX scripts for the service.
//
// It is the control surface over the script package: it resolves script
// names against the configured script directory, compiles them, and runs
// at most one script at a time on a worker goroutine.
//
// Each run is:
//  1. recorded as "running" in the script_runs table
//  2. executed by a fresh script.CPU against the configured driver
//  3. recorded with its outcome (completed, stopped or failed) and counters
//  4. announced on the WebSocket hub, MQTT and InfluxDB when configured
//
// Start always stops the previous worker (waiting for its blackout frame)
// before compiling the next script.
//
// # Usage
//
//	eng := engine.NewEngine(engine.Config{ScriptDir: "./scripts"}, drv, repo, log)
//	eng.SetHub(hub)
//	if err := eng.Start(ctx, "evening.dmx", engine.Trigger{Type: engine.TriggerAPI}); err != nil {
//	    var cerr *script.CompileError
//	    if errors.As(err, &cerr) { ... }
//	}
//	defer eng.Close()
package engine
