// Package diag centralizes the three error taxonomies the core reports
// through: programming errors, configuration errors, and resource/runtime
// graphics errors. Errors are plain wrapped values surfaced through
// log.Printf at the call sites that recover from them, rather than through
// a structured logging dependency.
package diag

import (
	"errors"
	"fmt"
	"log"
)

// Kind identifies which error taxonomy a reported problem falls into.
type Kind int

const (
	// Programming marks violated preconditions: unknown AOV name, duplicate
	// task token, null lighting context passed to LightingManager. Reported
	// and, where the operation is void, suppressed after reporting.
	Programming Kind = iota

	// Configuration marks unsupported backend, unknown colorspace token, or
	// unsupported AOV format. Reported once; the affected subsystem
	// self-disables.
	Configuration

	// Resource marks texture/pipeline creation failure. Reported; the owning
	// task returns early for the current frame and retries next frame.
	Resource

	// RuntimeGraphics marks shader compile failure. Reported with compile
	// logs; the affected program is destroyed and not recreated until
	// parameters change.
	RuntimeGraphics
)

func (k Kind) String() string {
	switch k {
	case Programming:
		return "programming"
	case Configuration:
		return "configuration"
	case Resource:
		return "resource"
	case RuntimeGraphics:
		return "runtime-graphics"
	default:
		return "unknown"
	}
}

// Report logs a diagnostic for pass (a FramePass path, or "" when not
// pass-scoped) through the standard log package, tagged with its kind.
func Report(kind Kind, pass, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if pass != "" {
		log.Printf("[%s] %s: %s", kind, pass, msg)
		return
	}
	log.Printf("[%s] %s", kind, msg)
}

// ErrRetryNextFrame marks a Resource-class error: the task should return
// early for this frame and rebuild its resources before the next one.
var ErrRetryNextFrame = errors.New("resource unavailable, retry next frame")

// ErrShaderDestroyed marks a RuntimeGraphics-class error: the shader
// program failed to compile and was destroyed; it will not be recreated
// until its parameters change.
var ErrShaderDestroyed = errors.New("shader program destroyed after compile failure")

// ErrUnsupportedAov marks a Configuration-class error: the render delegate
// rejected an AOV name (GetDefaultAovDescriptor returned FormatInvalid).
var ErrUnsupportedAov = errors.New("aov format unsupported by render delegate")

// ErrAlreadyExists marks a Programming-class error: AddTask was called with
// a token already registered on the TaskManager.
var ErrAlreadyExists = errors.New("already exists")

// ErrNilLightingContext marks a Programming-class error: SetLighting was
// called with a nil lighting context; the reconciliation aborts.
var ErrNilLightingContext = errors.New("nil lighting context")
