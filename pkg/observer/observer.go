// Package observer implements the strategy-object pipeline that consumes
// the stdout/stderr streams of one command invocation, per spec.md §4.2.
// Every Backend.ExecCommand implementation calls Begin once, Progress zero
// or more times, and End exactly once, handing the observer the flux
// adapters from pkg/flux.
package observer

import (
	"fmt"
	"io"
	"strings"

	"github.com/combust-labs/execfabric/pkg/flux"
	"github.com/hashicorp/go-hclog"
)

// ExitStatusSource is implemented by stdout streams that expose the real
// exit status of the channel they're attached to (the SSH case). When a
// Backend's stdout flux doesn't implement this, End reports 0 and the
// Backend is expected to have determined the real status out-of-band
// (spec.md §4.2, Exit-status source).
type ExitStatusSource interface {
	ExitStatus() int
}

// Observer is the three-method strategy object described in spec.md §3.
type Observer interface {
	// Begin captures the command, cwd, and the three stream flux adapters.
	// stdin may be nil; stdout/stderr are always non-nil except for the
	// script-capture backend, which passes nil for all three (spec.md §4.1).
	Begin(cmd, cwd string, stdin io.Writer, stdout, stderr flux.Flux)
	// Progress is called for every stdout/stderr line observed. Either
	// argument may be empty; empty-string entries are suppressed from the
	// accumulated lines (spec.md §6).
	Progress(stdoutLine, stderrLine string)
	// End drains any remaining stream content and returns the accumulated
	// output plus an exit status. It must be idempotent-safe to call only
	// once; a second call is a caller bug.
	End() (stdoutLines, stderrLines []string, exitStatus int)
}

// drainAndReport implements the Scrapper policy from spec.md §4.2: drain
// stdout to completion first, invoking progress(line, ""), then drain
// stderr, invoking progress("", line). This is the reliable choice when
// stdout and stderr share a single channel (SSH exec without a PTY);
// interleaving is left as documented future work (spec.md §9 Open Questions).
func drainAndReport(stdout, stderr flux.Flux, progress func(stdoutLine, stderrLine string)) {
	if stdout != nil {
		for {
			line, ok := stdout.Next()
			if !ok {
				break
			}
			progress(line, "")
		}
	}
	if stderr != nil {
		for {
			line, ok := stderr.Next()
			if !ok {
				break
			}
			progress("", line)
		}
	}
}

func exitStatusOf(stdout flux.Flux) int {
	if src, ok := stdout.(ExitStatusSource); ok {
		return src.ExitStatus()
	}
	return 0
}

// --- Store -------------------------------------------------------------

// Store accumulates stdout and stderr lines into two ordered lists,
// preserving line order, and reports exit status 0 for backends with no
// real channel exit-status source. It's the base every other variant
// extends (spec.md §4.2).
type Store struct {
	cmd, cwd string
	stdout   flux.Flux
	stderr   flux.Flux

	stdoutLines []string
	stderrLines []string
}

// NewStore returns a new Store observer.
func NewStore() *Store {
	return &Store{}
}

// Begin implements Observer.
func (s *Store) Begin(cmd, cwd string, stdin io.Writer, stdout, stderr flux.Flux) {
	s.cmd, s.cwd = cmd, cwd
	s.stdout, s.stderr = stdout, stderr
}

// Progress implements Observer. Subclasses call this to get the
// accumulate-and-suppress-empty behavior, then add their own side effects.
func (s *Store) Progress(stdoutLine, stderrLine string) {
	if stdoutLine != "" {
		s.stdoutLines = append(s.stdoutLines, stdoutLine)
	}
	if stderrLine != "" {
		s.stderrLines = append(s.stderrLines, stderrLine)
	}
}

// End implements Observer. Draining happens before the exit status is read,
// since an ExitStatusSource (the SSH case) only knows the real code once its
// channel has been fully consumed.
func (s *Store) End() ([]string, []string, int) {
	drainAndReport(s.stdout, s.stderr, s.Progress)
	status := 0
	if s.stdout != nil {
		status = exitStatusOf(s.stdout)
	}
	return s.stdoutLines, s.stderrLines, status
}

// --- PrettyPrint ---------------------------------------------------------

// PrettyPrint extends Store with a styled header printed on Begin and
// indented line echoing on Progress. Error lines are buffered and only
// flushed in error style during End, once the real exit status is known —
// many tools write non-fatal warnings to stderr mid-run, so printing them
// in red as they arrive would mislabel successful commands (spec.md §4.2).
type PrettyPrint struct {
	Store
	Logger hclog.Logger
	// Caller identifies who's issuing the command, printed in the header
	// (e.g. "user@host" for an SSH backend, "local" otherwise).
	Caller string

	pendingStderr []string
}

// NewPrettyPrint returns a PrettyPrint observer that logs through logger,
// attributing output to caller in its header line.
func NewPrettyPrint(logger hclog.Logger, caller string) *PrettyPrint {
	return &PrettyPrint{Logger: logger, Caller: caller}
}

// Begin implements Observer.
func (p *PrettyPrint) Begin(cmd, cwd string, stdin io.Writer, stdout, stderr flux.Flux) {
	p.Store.Begin(cmd, cwd, stdin, stdout, stderr)
	p.Logger.Info("executing command", "caller", p.Caller, "cwd", cwd, "command", cmd)
}

// Progress implements Observer.
func (p *PrettyPrint) Progress(stdoutLine, stderrLine string) {
	p.Store.Progress(stdoutLine, stderrLine)
	if stdoutLine != "" {
		p.Logger.Info(fmt.Sprintf("  %s", stdoutLine))
	}
	if stderrLine != "" {
		p.pendingStderr = append(p.pendingStderr, stderrLine)
	}
}

// End implements Observer.
func (p *PrettyPrint) End() ([]string, []string, int) {
	out, err, status := p.Store.End()
	if status != 0 {
		for _, line := range p.pendingStderr {
			p.Logger.Error(fmt.Sprintf("  %s", line))
		}
	} else {
		for _, line := range p.pendingStderr {
			p.Logger.Warn(fmt.Sprintf("  %s", line))
		}
	}
	return out, err, status
}

// --- ErrorRaise ----------------------------------------------------------

// ErrorRaise extends Store; End returns a non-nil error when stderr is
// non-empty, via the Err field populated after End runs. It's intended for
// silent internal probes where any stderr output indicates trouble
// (spec.md §4.2, §7).
type ErrorRaise struct {
	Store
	Cmd string
	Err error
}

// NewErrorRaise returns an ErrorRaise observer.
func NewErrorRaise() *ErrorRaise {
	return &ErrorRaise{}
}

// Begin implements Observer.
func (e *ErrorRaise) Begin(cmd, cwd string, stdin io.Writer, stdout, stderr flux.Flux) {
	e.Cmd = cmd
	e.Store.Begin(cmd, cwd, stdin, stdout, stderr)
}

// End implements Observer, additionally populating Err when stderr is
// non-empty.
func (e *ErrorRaise) End() ([]string, []string, int) {
	out, errLines, status := e.Store.End()
	if len(errLines) > 0 {
		e.Err = fmt.Errorf("command %q produced stderr: %s", e.Cmd, strings.Join(errLines, "; "))
	}
	return out, errLines, status
}
