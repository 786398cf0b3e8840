package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-dmx/internal/script"
)

// Driver is the part of a DMX output the engine needs.
// Satisfied by every driver.Driver.
type Driver interface {
	Open(ctx context.Context) error
	Close() error
	script.FrameSender
}

// MQTTClient publishes engine status and run records.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// WSHub broadcasts engine events to WebSocket subscribers.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// Metrics records run telemetry. Satisfied by *influxdb.Client.
type Metrics interface {
	WriteRunMetric(m influxdb.RunMetric)
	WriteEngineState(script string, running bool)
}

// Logger is the logging surface the engine uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// WebSocket channels.
const (
	ChannelStatus = "engine.status"
	ChannelRun    = "engine.run"
)

const defaultStopTimeout = 10 * time.Second

// Config holds engine settings taken from the engine section of config.yaml.
type Config struct {
	ScriptDir      string
	Autostart      string
	StopTimeout    time.Duration
	MaxImportDepth int
	DriverName     string
}

// Engine owns the script lifecycle: compile, run one worker at a time,
// stop, and record each run.
//
// Every Start compiles a fresh VM and hands it to a new CPU, so no
// interpreter state survives from one run to the next.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	cfg    Config
	driver Driver
	repo   Repository
	logger Logger

	mqtt    MQTTClient
	hub     WSHub
	metrics Metrics

	// ctrlMu serialises Compile/Start/Stop.
	ctrlMu   sync.Mutex
	compiled *compiledScript
	worker   *worker

	// mu guards the status fields, which the worker also updates.
	mu      sync.RWMutex
	current *Run
	cpu     *script.CPU
	lastRun *Run
}

type compiledScript struct {
	name string
	vm   *script.VM
}

type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates an engine.
//
// Parameters:
//   - cfg: Engine settings
//   - drv: DMX output, opened for each run and closed after it
//   - repo: Run history store (may be nil to skip persistence)
//   - logger: Logger instance (may be nil)
func NewEngine(cfg Config, drv Driver, repo Repository, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &Engine{
		cfg:    cfg,
		driver: drv,
		repo:   repo,
		logger: logger,
	}
}

// SetMQTT sets the client used for status and run publications.
func (e *Engine) SetMQTT(client MQTTClient) {
	e.mu.Lock()
	e.mqtt = client
	e.mu.Unlock()
}

// SetHub sets the WebSocket hub for engine events.
func (e *Engine) SetHub(hub WSHub) {
	e.mu.Lock()
	e.hub = hub
	e.mu.Unlock()
}

// SetMetrics sets the telemetry sink.
func (e *Engine) SetMetrics(m Metrics) {
	e.mu.Lock()
	e.metrics = m
	e.mu.Unlock()
}

// Compile compiles the named script and keeps it for Execute.
// A failed compile leaves any previously compiled script in place.
func (e *Engine) Compile(name string) error {
	vm, err := e.compile(name)
	if err != nil {
		return err
	}

	e.ctrlMu.Lock()
	e.compiled = &compiledScript{name: name, vm: vm}
	e.ctrlMu.Unlock()
	return nil
}

// Check compiles the named script without keeping it and returns the
// number of statements.
func (e *Engine) Check(name string) (int, error) {
	vm, err := e.compile(name)
	if err != nil {
		return 0, err
	}
	return len(vm.Program), nil
}

func (e *Engine) compile(name string) (*script.VM, error) {
	path, err := e.ScriptPath(name)
	if err != nil {
		return nil, err
	}

	c := script.NewCompiler()
	c.SetLogger(e.logger)
	c.SetMaxImportDepth(e.cfg.MaxImportDepth)
	return c.Compile(path)
}

// Execute runs the compiled script on the calling goroutine until it ends,
// ctx is cancelled, or Stop is called. A running worker is stopped first,
// so the driver never carries two programs. The compiled script is
// consumed: a VM is never run twice.
//
// Returns:
//   - error: ErrNotCompiled, ErrStopTimeout, a driver error, or the run error from the CPU
func (e *Engine) Execute(ctx context.Context, trigger Trigger) error {
	e.ctrlMu.Lock()
	compiled := e.compiled
	if compiled == nil {
		e.ctrlMu.Unlock()
		return ErrNotCompiled
	}
	if err := e.stopLocked(); err != nil {
		e.ctrlMu.Unlock()
		return err
	}
	e.compiled = nil

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := &worker{cancel: cancel, done: make(chan struct{})}
	e.worker = w
	e.ctrlMu.Unlock()

	err := e.execute(runCtx, compiled, trigger)
	close(w.done)

	e.ctrlMu.Lock()
	if e.worker == w {
		e.worker = nil
	}
	e.ctrlMu.Unlock()
	return err
}

// Start stops any running script, compiles name and runs it on a new
// worker goroutine. The previous worker is stopped before compiling, so a
// script that fails to compile leaves the engine idle.
//
// The worker outlives ctx's cancellation; only Stop or Close end it.
func (e *Engine) Start(ctx context.Context, name string, trigger Trigger) error {
	e.ctrlMu.Lock()
	defer e.ctrlMu.Unlock()

	if err := e.stopLocked(); err != nil {
		return err
	}

	vm, err := e.compile(name)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &worker{cancel: cancel, done: make(chan struct{})}
	e.worker = w

	go func() {
		defer close(w.done)
		defer cancel()
		if err := e.execute(runCtx, &compiledScript{name: name, vm: vm}, trigger); err != nil {
			e.logger.Warn("script run ended with error", "script", name, "error", err)
		}
	}()
	return nil
}

// Stop cancels the running worker and waits for it to exit, including
// its blackout frame. Stop with nothing running is a no-op.
func (e *Engine) Stop() error {
	e.ctrlMu.Lock()
	defer e.ctrlMu.Unlock()
	return e.stopLocked()
}

// stopLocked stops the worker. Caller holds ctrlMu.
func (e *Engine) stopLocked() error {
	w := e.worker
	if w == nil {
		return nil
	}

	w.cancel()
	select {
	case <-w.done:
		e.worker = nil
		return nil
	case <-time.After(e.cfg.StopTimeout):
		return fmt.Errorf("%w after %v", ErrStopTimeout, e.cfg.StopTimeout)
	}
}

// Autostart starts the configured autostart script, if any.
func (e *Engine) Autostart(ctx context.Context) error {
	if e.cfg.Autostart == "" {
		return nil
	}
	e.logger.Info("autostarting script", "script", e.cfg.Autostart)
	return e.Start(ctx, e.cfg.Autostart, Trigger{Type: TriggerAutostart})
}

// Close stops the running worker.
func (e *Engine) Close() error {
	return e.Stop()
}

// IsRunning reports whether a script is executing.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current != nil
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Status{Driver: e.cfg.DriverName}
	if e.current != nil {
		started := e.current.StartedAt
		st.Running = true
		st.Script = e.current.Script
		st.RunID = e.current.ID
		st.StartedAt = &started
		if e.cpu != nil {
			stats := e.cpu.Stats()
			st.Stats = &stats
		}
	}
	if e.lastRun != nil {
		last := *e.lastRun
		st.LastRun = &last
	}
	return st
}

// GetRun returns a recorded run.
func (e *Engine) GetRun(ctx context.Context, id string) (*Run, error) {
	if e.repo == nil {
		return nil, ErrRunNotFound
	}
	return e.repo.GetRun(ctx, id)
}

// ListRuns returns recent runs, newest first.
func (e *Engine) ListRuns(ctx context.Context, script string, limit int) ([]Run, error) {
	if e.repo == nil {
		return []Run{}, nil
	}
	return e.repo.ListRuns(ctx, script, limit)
}

// execute performs one run: record, open the driver, run the CPU, close
// the driver, record the outcome and announce it.
func (e *Engine) execute(ctx context.Context, compiled *compiledScript, trigger Trigger) error {
	run := &Run{
		ID:          GenerateID(),
		Script:      compiled.name,
		TriggerType: trigger.Type,
		Status:      StatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	if trigger.Source != "" {
		source := trigger.Source
		run.TriggerSource = &source
	}

	if e.repo != nil {
		if err := e.repo.CreateRun(ctx, run); err != nil {
			// The run matters more than its history row.
			e.logger.Error("failed to create run record", "run_id", run.ID, "error", err)
		}
	}

	cpu := script.NewCPU(compiled.vm, e.driver)
	cpu.SetLogger(e.logger)

	e.mu.Lock()
	e.current = run
	e.cpu = cpu
	e.mu.Unlock()

	e.logger.Info("script run started",
		"script", run.Script,
		"run_id", run.ID,
		"trigger", run.TriggerType,
		"statements", len(compiled.vm.Program),
	)
	e.announceState(run.Script, true)

	runErr := e.runCPU(ctx, cpu)
	e.finish(ctx, run, cpu.Stats(), runErr)
	return runErr
}

func (e *Engine) runCPU(ctx context.Context, cpu *script.CPU) error {
	if err := e.driver.Open(ctx); err != nil {
		return fmt.Errorf("opening driver: %w", err)
	}
	runErr := cpu.Run(ctx)
	if err := e.driver.Close(); err != nil {
		e.logger.Warn("closing driver failed", "error", err)
	}
	return runErr
}

func (e *Engine) finish(ctx context.Context, run *Run, stats script.Stats, runErr error) {
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.Statements = int64(stats.Statements) //nolint:gosec // counters stay far below MaxInt64
	run.Frames = int64(stats.Frames)         //nolint:gosec
	run.Retries = int64(stats.Retries)       //nolint:gosec

	switch {
	case runErr == nil && ctx.Err() != nil:
		run.Status = StatusStopped
	case runErr == nil:
		run.Status = StatusCompleted
	case errors.Is(runErr, script.ErrNoProgress):
		run.Status = StatusStopped
	default:
		run.Status = StatusFailed
	}
	if runErr != nil {
		msg := runErr.Error()
		run.ErrorMessage = &msg
	}

	if e.repo != nil {
		// The run context may already be cancelled; the record must still land.
		if err := e.repo.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
			e.logger.Error("failed to update run record", "run_id", run.ID, "error", err)
		}
	}

	e.mu.Lock()
	e.current = nil
	e.cpu = nil
	last := *run
	e.lastRun = &last
	e.mu.Unlock()

	e.logger.Info("script run finished",
		"script", run.Script,
		"run_id", run.ID,
		"status", run.Status,
		"statements", run.Statements,
		"frames", run.Frames,
		"retries", run.Retries,
		"duration_ms", run.Duration().Milliseconds(),
	)

	e.announceRun(run)
	e.announceState(run.Script, false)
}

// announceState publishes the running flag on every configured channel.
func (e *Engine) announceState(scriptName string, running bool) {
	e.mu.RLock()
	client, hub, metrics := e.mqtt, e.hub, e.metrics
	e.mu.RUnlock()

	status := e.Status()
	if hub != nil {
		hub.Broadcast(ChannelStatus, status)
	}
	if client != nil {
		if payload, err := json.Marshal(status); err == nil {
			if err := client.Publish(mqtt.Topics{}.EngineStatus(), payload, 1, true); err != nil {
				e.logger.Warn("publishing engine status failed", "error", err)
			}
		}
	}
	if metrics != nil {
		metrics.WriteEngineState(scriptName, running)
	}
}

// announceRun publishes a finished run record.
func (e *Engine) announceRun(run *Run) {
	e.mu.RLock()
	client, hub, metrics := e.mqtt, e.hub, e.metrics
	e.mu.RUnlock()

	if hub != nil {
		hub.Broadcast(ChannelRun, *run)
	}
	if client != nil {
		if payload, err := json.Marshal(run); err == nil {
			if err := client.Publish(mqtt.Topics{}.EngineRun(), payload, 1, false); err != nil {
				e.logger.Warn("publishing run record failed", "run_id", run.ID, "error", err)
			}
		}
	}
	if metrics != nil {
		metrics.WriteRunMetric(influxdb.RunMetric{
			Script:     run.Script,
			Trigger:    run.TriggerType,
			Status:     string(run.Status),
			Statements: uint64(run.Statements), //nolint:gosec // non-negative
			Frames:     uint64(run.Frames),     //nolint:gosec
			Retries:    uint64(run.Retries),    //nolint:gosec
			Duration:   run.Duration(),
			FinishedAt: *run.CompletedAt,
		})
	}
}
