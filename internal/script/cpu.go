package script

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

const (
	// maxSendAttempts is the number of times a frame is offered to the
	// sender before the run is aborted (one try plus five retries).
	maxSendAttempts = 6

	// DefaultPollInterval caps a single wait in pause and do-at, so a
	// cancelled run stops within one interval.
	DefaultPollInterval = time.Second

	// tickEpsilon absorbs float error when converting seconds to tick counts.
	tickEpsilon = 1e-9
)

// FrameSender is the part of a DMX driver the CPU needs.
// start is the 1-based channel of values[0].
type FrameSender interface {
	SendMultiValue(start int, values []byte) (int, error)
}

// Stats is a snapshot of CPU counters. Safe to read while Run is in progress.
type Stats struct {
	Statements uint64 `json:"statements"` // statements completed
	Frames     uint64 `json:"frames"`     // frames accepted by the sender
	Retries    uint64 `json:"retries"`    // failed send attempts
	PC         int    `json:"pc"`         // program counter at the time of the snapshot
}

// transition is what a statement handler tells the run loop to do next.
type transition struct {
	kind   transitionKind
	target int
	err    error
}

type transitionKind int

const (
	transitionAdvance transitionKind = iota
	transitionJump
	transitionHalt
)

func advance() transition         { return transition{kind: transitionAdvance} }
func jumpTo(index int) transition { return transition{kind: transitionJump, target: index} }
func halt(err error) transition   { return transition{kind: transitionHalt, err: err} }

// CPU interprets a VM's program, driving its registers and emitting frames.
//
// A CPU owns its VM for the duration of Run. Run is not reentrant.
type CPU struct {
	vm     *VM
	out    FrameSender
	logger Logger
	now    func() time.Time
	poll   time.Duration

	pc         int
	dispatched bool

	// Block state. Each timed block kind can be open only once at a time.
	stepFade float64
	stepTime float64

	doForActive bool
	doForStart  time.Time
	doForLength time.Duration
	doForIndex  int

	doAtActive bool
	doAtIndex  int
	doAtFired  time.Time

	doUntilActive bool
	doUntilAt     time.Time
	doUntilIndex  int

	foreverIndex int

	statements atomic.Uint64
	frames     atomic.Uint64
	retries    atomic.Uint64
	lastPC     atomic.Int64
}

// NewCPU creates a CPU that runs vm and transmits frames through out.
func NewCPU(vm *VM, out FrameSender) *CPU {
	return &CPU{
		vm:           vm,
		out:          out,
		logger:       noopLogger{},
		now:          time.Now,
		poll:         DefaultPollInterval,
		foreverIndex: -1,
	}
}

// SetLogger sets the logger for run-time events.
func (c *CPU) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// SetClock replaces the wall clock used by do-for, do-at and do-until.
func (c *CPU) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// SetPollInterval sets the longest single wait for pause and do-at.
func (c *CPU) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.poll = d
	}
}

// Stats returns a snapshot of the run counters.
func (c *CPU) Stats() Stats {
	return Stats{
		Statements: c.statements.Load(),
		Frames:     c.frames.Load(),
		Retries:    c.retries.Load(),
		PC:         int(c.lastPC.Load()),
	}
}

// Run executes the program on the calling goroutine until it runs off the
// end, a statement fails, or ctx is cancelled.
//
// Whatever the outcome, both registers are zeroed and a 512-channel blackout
// frame is sent before Run returns.
//
// Returns:
//   - nil at end of program, or on cancellation once a statement has started
//   - an error wrapping ErrNoProgress if cancelled before the first statement started
//   - an error wrapping ErrStatement or ErrTransmit on a fatal failure
func (c *CPU) Run(ctx context.Context) (err error) {
	defer func() {
		c.vm.Reset()
		if berr := c.blackout(); berr != nil {
			c.logger.Error("blackout frame failed", "error", berr)
			if err == nil {
				err = berr
			}
		}
	}()

	program := c.vm.Program
	c.logger.Debug("script run starting", "statements", len(program))

	for c.pc < len(program) {
		if ctx.Err() != nil {
			return c.cancelled(ctx)
		}

		stmt := &program[c.pc]
		c.lastPC.Store(int64(c.pc))
		c.dispatched = true

		tr := c.execute(ctx, stmt)
		if tr.kind == transitionHalt {
			c.logger.Error("script statement failed",
				"file", stmt.Pos.File,
				"line", stmt.Pos.Line,
				"statement", stmt.String(),
				"error", tr.err,
			)
			return fmt.Errorf("%s: %s: %w", stmt.Pos, stmt, tr.err)
		}

		// A statement interrupted by cancellation does not count as completed.
		if ctx.Err() != nil {
			return c.cancelled(ctx)
		}
		c.statements.Add(1)

		switch tr.kind {
		case transitionJump:
			if tr.target < 0 || tr.target > len(program) {
				jerr := fmt.Errorf("%w: jump target %d out of range", ErrStatement, tr.target)
				return fmt.Errorf("%s: %s: %w", stmt.Pos, stmt, jerr)
			}
			c.pc = tr.target
		default:
			c.pc++
		}
	}

	c.lastPC.Store(int64(c.pc))
	c.logger.Debug("script run finished", "statements", c.statements.Load(), "frames", c.frames.Load())
	return nil
}

// cancelled converts a context cancellation into Run's return value.
// Cancellation is a clean stop once any statement has started.
func (c *CPU) cancelled(ctx context.Context) error {
	if !c.dispatched {
		return fmt.Errorf("%w: %w", ErrNoProgress, ctx.Err())
	}
	c.logger.Debug("script run cancelled", "pc", c.pc, "statements", c.statements.Load())
	return nil
}

// execute dispatches one statement.
func (c *CPU) execute(ctx context.Context, stmt *Statement) transition {
	switch stmt.Verb {
	case VerbSet:
		for i, v := range stmt.Values {
			c.vm.SetCurrentValue(stmt.Channel-1+i, v)
			c.vm.SetTargetValue(stmt.Channel-1+i, v)
		}
		return advance()

	case VerbFade:
		for i, v := range stmt.Values {
			c.vm.SetTargetValue(stmt.Channel-1+i, v)
		}
		return advance()

	case VerbSend:
		if err := c.transmit(c.vm.Frame()); err != nil {
			return halt(err)
		}
		return advance()

	case VerbStep:
		c.stepFade = stmt.FadeTime
		c.stepTime = stmt.StepTime
		return advance()

	case VerbStepEnd:
		return c.stepEnd(ctx)

	case VerbStepPeriod:
		c.vm.StepPeriod = stmt.Period
		return advance()

	case VerbDoFor:
		if !c.doForActive {
			c.doForActive = true
			c.doForStart = c.now()
			c.doForLength = stmt.Clock.Duration()
			c.doForIndex = c.pc
		}
		return advance()

	case VerbDoForEnd:
		if !c.doForActive {
			return advance()
		}
		if c.now().Sub(c.doForStart) >= c.doForLength {
			c.doForActive = false
			return advance()
		}
		return jumpTo(c.doForIndex + 1)

	case VerbDoAt:
		return c.doAt(ctx, stmt)

	case VerbDoAtEnd:
		if !c.doAtActive {
			return halt(fmt.Errorf("%w: no matching Do-At is open", ErrStatement))
		}
		c.doAtActive = false
		c.vm.Reset()
		if err := c.blackout(); err != nil {
			return halt(err)
		}
		return jumpTo(c.doAtIndex)

	case VerbDoUntil:
		if !c.doUntilActive {
			c.doUntilActive = true
			c.doUntilAt = stmt.Clock.Next(c.now())
			c.doUntilIndex = c.pc
		}
		return advance()

	case VerbDoUntilEnd:
		if !c.doUntilActive {
			return halt(fmt.Errorf("%w: no matching Do-Until is open", ErrStatement))
		}
		if !c.now().Before(c.doUntilAt) {
			c.doUntilActive = false
			return advance()
		}
		return jumpTo(c.doUntilIndex + 1)

	case VerbDoForever:
		c.foreverIndex = c.pc
		return advance()

	case VerbDoForeverEnd:
		if c.foreverIndex < 0 {
			return halt(fmt.Errorf("%w: no matching Do-Forever is open", ErrStatement))
		}
		return jumpTo(c.foreverIndex + 1)

	case VerbMain:
		return advance()

	case VerbMainEnd:
		if c.vm.MainIndex < 0 {
			return halt(fmt.Errorf("%w: no main statement", ErrStatement))
		}
		return jumpTo(c.vm.MainIndex + 1)

	case VerbPause:
		c.wait(ctx, stmt.Clock.Duration())
		return advance()

	case VerbReset:
		c.vm.Reset()
		if err := c.blackout(); err != nil {
			return halt(err)
		}
		return advance()

	default:
		return advance()
	}
}

// stepEnd runs the fade configured by the enclosing step statement.
//
// The current frame is sent first. Then, every step period, each channel
// moves from its starting value toward its target by a fixed increment,
// and a frame is sent whenever any value changed. Ticking stops when the
// step time has elapsed; a fade longer than the step time stops short.
func (c *CPU) stepEnd(ctx context.Context) transition {
	vm := c.vm
	if err := c.transmit(vm.Frame()); err != nil {
		return halt(err)
	}

	period := vm.StepPeriod
	if period <= 0 {
		period = DefaultStepPeriod
	}

	n := max(vm.CurrentLen, vm.TargetLen)

	if c.stepFade <= 0 {
		changed := false
		for i := 0; i < n; i++ {
			if vm.Current[i] != vm.Target[i] {
				vm.SetCurrentValue(i, vm.Target[i])
				changed = true
			}
		}
		if changed {
			if err := c.transmit(vm.Frame()); err != nil {
				return halt(err)
			}
		}
		c.wait(ctx, secondsToDuration(c.stepTime))
		return advance()
	}

	increments := c.stepFade / period
	stepTicks := int(math.Floor(c.stepTime/period + tickEpsilon))

	base := make([]float64, n)
	delta := make([]float64, n)
	for i := 0; i < n; i++ {
		base[i] = float64(vm.Current[i])
		delta[i] = (float64(vm.Target[i]) - base[i]) / increments
	}

	interval := secondsToDuration(period)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for tick := 1; tick <= stepTicks; tick++ {
		select {
		case <-ctx.Done():
			return advance()
		case <-ticker.C:
		}

		reached := float64(tick) >= increments-tickEpsilon
		changed := false
		for i := 0; i < n; i++ {
			var v byte
			if reached {
				v = vm.Target[i]
			} else {
				v = clampValue(base[i] + math.Floor(delta[i]*float64(tick)+tickEpsilon))
			}
			if v != vm.Current[i] {
				vm.SetCurrentValue(i, v)
				changed = true
			}
		}
		if changed {
			if err := c.transmit(vm.Frame()); err != nil {
				return halt(err)
			}
		}
	}
	return advance()
}

// doAt blocks until the next occurrence of the statement's time of day.
func (c *CPU) doAt(ctx context.Context, stmt *Statement) transition {
	now := c.now()
	at := stmt.Clock.Next(now)
	// The body of a do-at block can finish within the same second it fired.
	if !c.doAtFired.IsZero() && !at.After(c.doAtFired) {
		at = at.AddDate(0, 0, 1)
	}

	c.logger.Debug("waiting for time of day", "at", at.Format(time.RFC3339))
	for {
		remaining := at.Sub(c.now())
		if remaining <= 0 {
			break
		}
		if !c.wait(ctx, min(remaining, c.poll)) {
			return advance()
		}
	}

	c.doAtActive = true
	c.doAtIndex = c.pc
	c.doAtFired = at
	return advance()
}

// wait sleeps for d in chunks of at most one poll interval.
// Returns false if ctx was cancelled first.
func (c *CPU) wait(ctx context.Context, d time.Duration) bool {
	for d > 0 {
		chunk := min(d, c.poll)
		timer := time.NewTimer(chunk)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		d -= chunk
	}
	return ctx.Err() == nil
}

// transmit sends a frame starting at channel 1, retrying on failure.
// Empty frames are skipped.
func (c *CPU) transmit(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		if _, err := c.out.SendMultiValue(1, frame); err != nil {
			lastErr = err
			c.retries.Add(1)
			c.logger.Warn("frame send failed",
				"attempt", attempt,
				"channels", len(frame),
				"error", err,
			)
			continue
		}
		c.frames.Add(1)
		return nil
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrTransmit, maxSendAttempts, lastErr)
}

// blackout sends all 512 channels at zero.
func (c *CPU) blackout() error {
	return c.transmit(make([]byte, Channels))
}

func clampValue(v float64) byte {
	switch {
	case v < 0:
		return 0
	case v > MaxValue:
		return MaxValue
	default:
		return byte(v)
	}
}
