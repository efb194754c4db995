// ABOUTME: Exit codes and text/JSON output helpers for gatekeeper commands
// ABOUTME: JSON goes to stdout untouched; text output is colorized

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Denied or failed operation
	ExitCommandError = 2 // Bad configuration or arguments
)

// ExitError carries the exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// outputFormatter handles JSON vs text output.
type outputFormatter struct {
	format string
	w      io.Writer
}

func (o *outputFormatter) isJSON() bool { return o.format == "json" }

func (o *outputFormatter) json(v any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// field prints one "label: value" line with a green marker.
func (o *outputFormatter) field(label string, value any) {
	color.New(color.FgGreen).Fprint(o.w, "▶ ")
	fmt.Fprintf(o.w, "%-16s %v\n", label+":", value)
}

func (o *outputFormatter) ok(format string, args ...any) {
	color.New(color.FgGreen).Fprint(o.w, "✓ ")
	fmt.Fprintf(o.w, format+"\n", args...)
}

func (o *outputFormatter) warn(format string, args ...any) {
	color.New(color.FgYellow).Fprint(o.w, "! ")
	fmt.Fprintf(o.w, format+"\n", args...)
}
