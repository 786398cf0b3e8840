package script

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultMaxImportDepth bounds import nesting, counting the top-level file.
const DefaultMaxImportDepth = 16

// Logger is the logging interface used by the compiler and CPU.
// Compatible with logging.Logger and slog.Logger.
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

// Compiler turns script files into a VM.
//
// A Compiler may be reused, but not concurrently: each Compile call builds a
// brand new VM and resets all per-compile state.
type Compiler struct {
	logger   Logger
	maxDepth int

	// Per-compile state.
	vm    *VM
	files []string          // absolute paths of the files being compiled, outermost first
	open  map[Verb]Position // open blocks keyed by opening verb
}

// NewCompiler creates a compiler with default limits and no logging.
func NewCompiler() *Compiler {
	return &Compiler{
		logger:   noopLogger{},
		maxDepth: DefaultMaxImportDepth,
	}
}

// SetLogger sets the logger used to report compile results and errors.
func (c *Compiler) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// SetMaxImportDepth sets the maximum import nesting. Values below 1 are ignored.
func (c *Compiler) SetMaxImportDepth(depth int) {
	if depth >= 1 {
		c.maxDepth = depth
	}
}

// Compile compiles the script at path, following imports.
//
// Compilation stops at the first invalid statement. On failure the returned
// error is a *CompileError and no VM is returned.
func (c *Compiler) Compile(path string) (*VM, error) {
	c.vm = NewVM()
	c.files = c.files[:0]
	c.open = make(map[Verb]Position)

	err := c.compileFile(path)
	if err == nil {
		err = c.checkClosed()
	}
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			c.logger.Error("script compile failed",
				"file", ce.File,
				"line", ce.Line,
				"source", ce.Source,
				"error", ce.Message,
			)
		}
		return nil, err
	}

	vm := c.vm
	c.vm = nil
	c.logger.Info("script compiled", "file", path, "statements", len(vm.Program))
	return vm, nil
}

// Compile is a convenience wrapper around NewCompiler().Compile(path).
func Compile(path string) (*VM, error) {
	return NewCompiler().Compile(path)
}

// compileFile compiles one file into the current VM.
func (c *Compiler) compileFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}

	f, err := os.Open(abs)
	if err != nil {
		return &CompileError{File: path, Message: err.Error(), Err: ErrScriptRead}
	}
	defer f.Close()

	c.files = append(c.files, abs)
	defer func() { c.files = c.files[:len(c.files)-1] }()

	c.logger.Debug("compiling script file", "file", abs, "depth", len(c.files))

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		pos := Position{File: path, Line: line, Text: strings.TrimRight(scanner.Text(), "\r")}
		if err := c.compileLine(pos); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return &CompileError{File: path, Line: line, Message: err.Error(), Err: ErrScriptRead}
	}
	return nil
}

// compileLine compiles a single source line.
func (c *Compiler) compileLine(pos Position) error {
	tokens := strings.Fields(strings.ToLower(pos.Text))
	if len(tokens) == 0 || strings.HasPrefix(tokens[0], "#") {
		return nil
	}

	switch tokens[0] {
	case "channel":
		return c.channelStmt(pos, tokens)
	case "value":
		return c.valueStmt(pos, tokens)
	case "define":
		return c.defineStmt(pos, tokens)
	case "import":
		return c.importStmt(pos)
	}

	verb, ok := lookupVerb(tokens[0])
	if !ok {
		return errAt(pos, ErrUnknownVerb, "unknown statement %q", tokens[0])
	}

	stmt := Statement{Verb: verb, Pos: pos}
	var err error

	switch verb {
	case VerbSet, VerbFade:
		err = c.channelValues(&stmt, tokens)
	case VerbStep:
		err = c.stepOperands(&stmt, tokens)
	case VerbStepPeriod:
		err = c.stepPeriodOperand(&stmt, tokens)
	case VerbDoFor, VerbDoAt, VerbDoUntil, VerbPause:
		err = clockOperand(&stmt, tokens)
	case VerbMain:
		c.vm.MainIndex = len(c.vm.Program)
	}
	if err != nil {
		return err
	}

	if err := c.trackBlock(stmt); err != nil {
		return err
	}

	c.vm.Program = append(c.vm.Program, stmt)
	return nil
}

// channel name 1-512
func (c *Compiler) channelStmt(pos Position, tokens []string) error {
	if len(tokens) < 3 {
		return errAt(pos, ErrSyntax, "not enough tokens: expected channel <name> <1-512>")
	}
	ch, err := parseChannel(tokens[2])
	if err != nil {
		return errAt(pos, err, "channel numbers must be 1-512")
	}
	c.vm.ChannelAliases[tokens[1]] = ch
	return nil
}

// value name v1...vn
func (c *Compiler) valueStmt(pos Position, tokens []string) error {
	if len(tokens) < 3 {
		return errAt(pos, ErrSyntax, "not enough tokens: expected value <name> <0-255>...")
	}
	values := make([]byte, 0, len(tokens)-2)
	for _, tok := range tokens[2:] {
		v, err := parseValue(tok)
		if err != nil {
			return errAt(pos, err, "value(s) must be 0-255")
		}
		values = append(values, v)
	}
	c.vm.ValueAliases[tokens[1]] = values
	return nil
}

// define name float
func (c *Compiler) defineStmt(pos Position, tokens []string) error {
	if len(tokens) < 3 {
		return errAt(pos, ErrSyntax, "not enough tokens: expected define <name> <number>")
	}
	f, err := strconv.ParseFloat(tokens[2], 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return errAt(pos, ErrSyntax, "define %q: %q is not a number", tokens[1], tokens[2])
	}
	c.vm.Defines[tokens[1]] = f
	return nil
}

// import path
//
// The path keeps its original case and is resolved against the directory of
// the importing file unless it is absolute.
func (c *Compiler) importStmt(pos Position) error {
	fields := strings.Fields(pos.Text)
	if len(fields) < 2 {
		return errAt(pos, ErrSyntax, "not enough tokens: expected import <file>")
	}

	target := fields[1]
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(c.files[len(c.files)-1]), target)
	}
	target = filepath.Clean(target)

	for _, f := range c.files {
		if f == target {
			return errAt(pos, ErrImportCycle, "import cycle: %s is already being compiled", fields[1])
		}
	}
	if len(c.files) >= c.maxDepth {
		return errAt(pos, ErrImportDepth, "imports nested deeper than %d files", c.maxDepth)
	}

	err := c.compileFile(target)
	var ce *CompileError
	if errors.As(err, &ce) && ce.Line == 0 {
		// The imported file could not be opened: report it against the import line.
		return errAt(pos, ce.Err, "cannot import %s: %s", fields[1], ce.Message)
	}
	return err
}

// channelValues resolves the operands of set and fade.
func (c *Compiler) channelValues(stmt *Statement, tokens []string) error {
	pos := stmt.Pos
	if len(tokens) < 3 {
		return errAt(pos, ErrSyntax, "not enough tokens: expected %s <channel> <value>...", tokens[0])
	}

	ch, ok := c.vm.ChannelAliases[tokens[1]]
	if !ok {
		var err error
		if ch, err = parseChannel(tokens[1]); err != nil {
			return errAt(pos, err, "invalid channel %q: must be 1-512 or a channel alias", tokens[1])
		}
	}

	var values []byte
	for _, tok := range tokens[2:] {
		if alias, ok := c.vm.ValueAliases[tok]; ok {
			values = append(values, alias...)
			continue
		}
		v, err := parseValue(tok)
		if err != nil {
			return errAt(pos, err, "invalid value %q: must be 0-255 or a value alias", tok)
		}
		values = append(values, v)
	}

	if ch+len(values)-1 > Channels {
		return errAt(pos, ErrRange, "%d value(s) starting at channel %d run past channel %d", len(values), ch, Channels)
	}

	stmt.Channel = ch
	stmt.Values = values
	return nil
}

// step fade-time step-time
func (c *Compiler) stepOperands(stmt *Statement, tokens []string) error {
	if len(tokens) < 3 {
		return errAt(stmt.Pos, ErrSyntax, "not enough tokens: expected step <fade-time> <step-time>")
	}
	fade, err := c.seconds(tokens[1])
	if err != nil {
		return errAt(stmt.Pos, err, "invalid fade time %q", tokens[1])
	}
	step, err := c.seconds(tokens[2])
	if err != nil {
		return errAt(stmt.Pos, err, "invalid step time %q", tokens[2])
	}
	stmt.FadeTime = fade
	stmt.StepTime = step
	return nil
}

// step-period seconds
func (c *Compiler) stepPeriodOperand(stmt *Statement, tokens []string) error {
	if len(tokens) < 2 {
		return errAt(stmt.Pos, ErrSyntax, "not enough tokens: expected step-period <seconds>")
	}
	p, err := c.seconds(tokens[1])
	if err != nil {
		return errAt(stmt.Pos, err, "invalid step period %q", tokens[1])
	}
	if p <= 0 {
		return errAt(stmt.Pos, ErrRange, "step period must be greater than zero")
	}
	stmt.Period = p
	return nil
}

// clockOperand parses the HH:MM:SS operand of timed statements.
func clockOperand(stmt *Statement, tokens []string) error {
	if len(tokens) < 2 {
		return errAt(stmt.Pos, ErrSyntax, "not enough tokens: expected %s HH:MM:SS", tokens[0])
	}
	clk, err := ParseClock(tokens[1])
	if err != nil {
		return errAt(stmt.Pos, err, "invalid time %q: expected HH:MM:SS", tokens[1])
	}
	stmt.Clock = clk
	return nil
}

// seconds resolves a define or a literal number of seconds (>= 0).
func (c *Compiler) seconds(tok string) (float64, error) {
	if v, ok := c.vm.Defines[tok]; ok {
		if v < 0 {
			return 0, ErrRange
		}
		return v, nil
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrSyntax
	}
	if f < 0 {
		return 0, ErrRange
	}
	return f, nil
}

// trackBlock enforces block pairing. Blocks of different kinds may nest;
// a block may not be reopened while one of the same kind is open.
func (c *Compiler) trackBlock(stmt Statement) error {
	if isBlockOpener(stmt.Verb) {
		if prev, open := c.open[stmt.Verb]; open {
			return errAt(stmt.Pos, ErrNestedBlock, "a %s is already open (line %d of %s)",
				blockNames[stmt.Verb], prev.Line, prev.File)
		}
		c.open[stmt.Verb] = stmt.Pos
		return nil
	}

	opener, isCloser := blockOpeners[stmt.Verb]
	if !isCloser {
		return nil
	}
	if _, open := c.open[opener]; !open {
		return errAt(stmt.Pos, ErrUnmatchedBlock, "no matching %s is open", blockNames[opener])
	}
	delete(c.open, opener)
	return nil
}

// checkClosed reports the first block left open at the end of the script.
func (c *Compiler) checkClosed() error {
	var first *Position
	var kind Verb
	for v, pos := range c.open {
		if first == nil || pos.File < first.File || (pos.File == first.File && pos.Line < first.Line) {
			p := pos
			first, kind = &p, v
		}
	}
	if first == nil {
		return nil
	}
	return errAt(*first, ErrUnclosedBlock, "%s is never closed", blockNames[kind])
}

// parseChannel parses a literal channel number 1-512.
func parseChannel(tok string) (int, error) {
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, ErrSyntax
	}
	if n < 1 || n > Channels {
		return 0, ErrRange
	}
	return n, nil
}

// parseValue parses a literal channel value 0-255.
func parseValue(tok string) (byte, error) {
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, ErrSyntax
	}
	if n < 0 || n > MaxValue {
		return 0, ErrRange
	}
	return byte(n), nil
}

// errAt builds a CompileError for the statement at pos.
func errAt(pos Position, kind error, format string, args ...any) *CompileError {
	return &CompileError{
		File:    pos.File,
		Line:    pos.Line,
		Source:  pos.Text,
		Message: fmt.Sprintf(format, args...),
		Err:     kind,
	}
}
