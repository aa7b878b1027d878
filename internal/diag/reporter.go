package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Pos identifies a location in a design description.
type Pos struct {
	File   string
	Line   int
	Column int
}

// NoPos is the zero position.
var NoPos Pos

// IsValid reports whether the position carries a line number.
func (p Pos) IsValid() bool {
	return p.Line > 0
}

func (p Pos) String() string {
	if !p.IsValid() {
		if p.File != "" {
			return p.File
		}
		return "-"
	}
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Reporter collects diagnostics and writes them as they arrive, either as
// plain text or as one JSON object per line.
type Reporter struct {
	mu       sync.Mutex
	w        io.Writer
	format   string
	errors   int
	warnings int
}

type jsonDiagnostic struct {
	Severity string `json:"severity"`
	Pos      string `json:"pos,omitempty"`
	Message  string `json:"message"`
}

// NewReporter returns a reporter writing to w. format is "text" or "json";
// anything else falls back to text.
func NewReporter(w io.Writer, format string) *Reporter {
	if w == nil {
		w = io.Discard
	}
	if format != "json" {
		format = "text"
	}
	return &Reporter{w: w, format: format}
}

// Error records an error at pos.
func (r *Reporter) Error(pos Pos, msg string) {
	r.emit(SeverityError, pos, msg)
}

// Errorf records an error without a position.
func (r *Reporter) Errorf(format string, args ...any) {
	r.emit(SeverityError, NoPos, fmt.Sprintf(format, args...))
}

// Warning records a warning at pos.
func (r *Reporter) Warning(pos Pos, msg string) {
	r.emit(SeverityWarning, pos, msg)
}

// ErrorCount returns the number of recorded errors.
func (r *Reporter) ErrorCount() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors
}

func (r *Reporter) emit(sev Severity, pos Pos, msg string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sev == SeverityError {
		r.errors++
	} else {
		r.warnings++
	}
	if r.format == "json" {
		d := jsonDiagnostic{Severity: sev.String(), Message: msg}
		if pos.IsValid() || pos.File != "" {
			d.Pos = pos.String()
		}
		data, err := json.Marshal(d)
		if err != nil {
			fmt.Fprintf(r.w, "%s: %s\n", sev, msg)
			return
		}
		fmt.Fprintf(r.w, "%s\n", data)
		return
	}
	if pos.IsValid() || pos.File != "" {
		fmt.Fprintf(r.w, "%s: %s: %s\n", pos, sev, msg)
		return
	}
	fmt.Fprintf(r.w, "%s: %s\n", sev, msg)
}
