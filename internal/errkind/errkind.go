// Package errkind implements the five-way error classification from spec
// §7: every fault is classified into exactly one of network, system,
// configuration, application, unknown.
package errkind

import (
	"errors"
	"os/exec"
	"strings"
)

// Kind is one of the five classified error categories.
type Kind string

const (
	Network       Kind = "network"
	System        Kind = "system"
	Configuration Kind = "configuration"
	Application   Kind = "application"
	Unknown       Kind = "unknown"
)

// Retryable reports whether errors of this kind should be retried. network
// and system are retryable; configuration and application are not; unknown
// is treated as non-retryable.
func (k Kind) Retryable() bool {
	return k == Network || k == System
}

// ClassifiedError is a typed error produced at the point of failure by an
// executor that already knows what went wrong, per Design Note 9 ("prefer
// typed errors at the source").
type ClassifiedError struct {
	Kind Kind
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// New wraps err with an explicit classification.
func New(kind Kind, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Err: err}
}

// Classify determines the Kind of an arbitrary error: typed
// *ClassifiedError values pass through unchanged; subprocess exit codes
// are bucketed per spec §7 (255 -> network, 126-127 -> system, 1 ->
// application); remaining errors fall back to message-pattern matching,
// used only when the error's origin didn't already classify itself.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		switch code := exitErr.ExitCode(); {
		case code == 255:
			return Network
		case code == 126 || code == 127:
			return System
		case code == 1:
			return Application
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "connection refused", "connection reset", "no route to host",
		"timeout", "timed out", "broken pipe", "network is unreachable", "name or service not known"):
		return Network
	case containsAny(msg, "permission denied", "no such file or directory", "disk full",
		"device not configured", "too many open files"):
		return System
	case containsAny(msg, "invalid configuration", "missing required", "unparseable", "parse error",
		"not configured"):
		return Configuration
	}
	return Unknown
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
