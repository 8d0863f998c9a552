// Package diag accumulates relaxation diagnostics: range-check failures,
// malformed composite relocation sequences, and unknown relocation kinds,
// the errors a link should report without necessarily aborting mid-pass.
package diag

import (
	"fmt"
	"log/slog"
)

// Severity classifies a diagnostic the way an assembler/linker error
// stream typically does.
type Severity uint8

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Entry is one recorded diagnostic.
type Entry struct {
	Severity Severity
	Section  string
	Offset   int64
	Err      error
}

// Sink accumulates diagnostics across a link and reports whether any
// error-severity entry was recorded, the condition a driver checks before
// deciding whether to emit the relaxed output.
type Sink struct {
	log     *slog.Logger
	entries []Entry
}

// NewSink builds a diagnostics sink that also logs each entry through the
// given structured logger as it is recorded.
func NewSink(log *slog.Logger) *Sink {
	return &Sink{log: log}
}

// Report records one diagnostic and logs it at a level matching its
// severity.
func (s *Sink) Report(sev Severity, section string, offset int64, err error) {
	e := Entry{Severity: sev, Section: section, Offset: offset, Err: err}
	s.entries = append(s.entries, e)
	if s.log == nil {
		return
	}
	attrs := []any{slog.String("section", section), slog.Int64("offset", offset)}
	if sev == SeverityError {
		s.log.Error(err.Error(), attrs...)
	} else {
		s.log.Warn(err.Error(), attrs...)
	}
}

// Errorf is a convenience wrapper around Report for error-severity
// diagnostics.
func (s *Sink) Errorf(section string, offset int64, format string, args ...any) {
	s.Report(SeverityError, section, offset, fmt.Errorf(format, args...))
}

// Fatal reports whether any error-severity diagnostic was recorded.
func (s *Sink) Fatal() bool {
	for _, e := range s.entries {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Entries returns every diagnostic recorded so far, in recording order.
func (s *Sink) Entries() []Entry {
	return s.entries
}
