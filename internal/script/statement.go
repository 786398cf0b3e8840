package script

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Verb identifies the kind of a compiled statement.
//
// Declarative keywords (channel, value, define, import) never reach the
// program; they only populate the compiler's symbol tables.
type Verb int

const (
	VerbSet Verb = iota
	VerbFade
	VerbSend
	VerbStep
	VerbStepEnd
	VerbStepPeriod
	VerbDoFor
	VerbDoForEnd
	VerbDoAt
	VerbDoAtEnd
	VerbDoUntil
	VerbDoUntilEnd
	VerbDoForever
	VerbDoForeverEnd
	VerbMain
	VerbMainEnd
	VerbPause
	VerbReset
)

var verbNames = map[Verb]string{
	VerbSet:          "set",
	VerbFade:         "fade",
	VerbSend:         "send",
	VerbStep:         "step",
	VerbStepEnd:      "step-end",
	VerbStepPeriod:   "step-period",
	VerbDoFor:        "do-for",
	VerbDoForEnd:     "do-for-end",
	VerbDoAt:         "do-at",
	VerbDoAtEnd:      "do-at-end",
	VerbDoUntil:      "do-until",
	VerbDoUntilEnd:   "do-until-end",
	VerbDoForever:    "do-forever",
	VerbDoForeverEnd: "do-forever-end",
	VerbMain:         "main",
	VerbMainEnd:      "main-end",
	VerbPause:        "pause",
	VerbReset:        "reset",
}

// verbsByName is the reverse of verbNames, built once.
var verbsByName = func() map[string]Verb {
	m := make(map[string]Verb, len(verbNames))
	for v, name := range verbNames {
		m[name] = v
	}
	return m
}()

// String returns the script keyword for the verb.
func (v Verb) String() string {
	if name, ok := verbNames[v]; ok {
		return name
	}
	return fmt.Sprintf("verb(%d)", int(v))
}

// lookupVerb maps a lowercased keyword to its Verb.
func lookupVerb(keyword string) (Verb, bool) {
	v, ok := verbsByName[keyword]
	return v, ok
}

// Block pairing. Every block closer maps to the opener it ends.
var blockOpeners = map[Verb]Verb{
	VerbStepEnd:      VerbStep,
	VerbDoForEnd:     VerbDoFor,
	VerbDoAtEnd:      VerbDoAt,
	VerbDoUntilEnd:   VerbDoUntil,
	VerbDoForeverEnd: VerbDoForever,
	VerbMainEnd:      VerbMain,
}

// blockNames are the operator-facing names used in block errors.
var blockNames = map[Verb]string{
	VerbStep:      "Step",
	VerbDoFor:     "Do-For",
	VerbDoAt:      "Do-At",
	VerbDoUntil:   "Do-Until",
	VerbDoForever: "Do-Forever",
	VerbMain:      "Main",
}

// isBlockOpener reports whether v starts a block that must be closed.
func isBlockOpener(v Verb) bool {
	_, ok := blockNames[v]
	return ok
}

// Clock is an HH:MM:SS value. Depending on the statement it is either a
// duration (do-for, pause) or a time of day (do-at, do-until).
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// ParseClock parses "HH:MM:SS" with hours 0-23 and minutes/seconds 0-59.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Clock{}, fmt.Errorf("%w: time %q must be HH:MM:SS", ErrSyntax, s)
	}

	var fields [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || p == "" || strings.HasPrefix(p, "+") || strings.HasPrefix(p, "-") {
			return Clock{}, fmt.Errorf("%w: time %q must be HH:MM:SS", ErrSyntax, s)
		}
		fields[i] = n
	}

	c := Clock{Hour: fields[0], Minute: fields[1], Second: fields[2]}
	if c.Hour > 23 || c.Minute > 59 || c.Second > 59 {
		return Clock{}, fmt.Errorf("%w: time %q is not a valid HH:MM:SS", ErrRange, s)
	}
	return c, nil
}

// Duration returns the clock interpreted as an elapsed time.
func (c Clock) Duration() time.Duration {
	return time.Duration(c.Hour)*time.Hour +
		time.Duration(c.Minute)*time.Minute +
		time.Duration(c.Second)*time.Second
}

// Next returns the first instant at or after now whose local time of day
// equals the clock. A time of day already passed today resolves to tomorrow.
func (c Clock) Next(now time.Time) time.Time {
	at := time.Date(now.Year(), now.Month(), now.Day(), c.Hour, c.Minute, c.Second, 0, now.Location())
	if at.Before(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// Position locates a statement in its source file.
type Position struct {
	File string
	Line int
	Text string
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d", p.File, p.Line)
}

// Statement is one compiled instruction. All aliases and defines are resolved
// at compile time, so operands are always literal.
type Statement struct {
	Verb Verb

	// Channel is the 1-based start channel for set and fade.
	Channel int

	// Values are the channel values for set and fade, applied from Channel upward.
	Values []byte

	// FadeTime and StepTime are the step operands in seconds.
	FadeTime float64
	StepTime float64

	// Period is the step-period operand in seconds.
	Period float64

	// Clock is the operand of do-for, do-at, do-until and pause.
	Clock Clock

	Pos Position
}

func (s Statement) String() string {
	switch s.Verb {
	case VerbSet, VerbFade:
		parts := make([]string, 0, len(s.Values)+2)
		parts = append(parts, s.Verb.String(), strconv.Itoa(s.Channel))
		for _, v := range s.Values {
			parts = append(parts, strconv.Itoa(int(v)))
		}
		return strings.Join(parts, " ")
	case VerbStep:
		return fmt.Sprintf("step %g %g", s.FadeTime, s.StepTime)
	case VerbStepPeriod:
		return fmt.Sprintf("step-period %g", s.Period)
	case VerbDoFor, VerbDoAt, VerbDoUntil, VerbPause:
		return s.Verb.String() + " " + s.Clock.String()
	default:
		return s.Verb.String()
	}
}
