// Package kernel runs Python code against a long-lived interpreter and
// reports what it printed and plotted.
//
// An Interpreter owns exactly one interpreter process at a time. The process
// keeps a single namespace for its whole life, so names bound by one
// execution are visible to the next. Executions are serialized through a
// one-slot gate; the namespace has a single writer at any moment.
//
// The process itself comes from a Launcher. ProcessLauncher starts a local
// python3; the docker subpackage starts one inside a container. Both run the
// same driver program and speak the same line-delimited JSON protocol.
package kernel

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrKernelDied is returned when the interpreter exits or its protocol
	// stream breaks mid-execution. The next execution starts a fresh one.
	ErrKernelDied = errors.New("kernel: interpreter died")

	// ErrClosed is returned by Execute after Close.
	ErrClosed = errors.New("kernel: interpreter closed")
)

// Output types and stream names as they appear on the wire.
const (
	OutputStream  = "stream"
	OutputDisplay = "display_data"

	StreamStdout = "stdout"
	StreamStderr = "stderr"

	MediaPNG = "image/png"
)

// Output is one unit of captured output: either text written to a stream
// or a rendered display payload keyed by media type.
type Output struct {
	OutputType string            `json:"output_type"`
	Name       string            `json:"name,omitempty"`
	Text       string            `json:"text,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

// StreamOutput builds a stream output item.
func StreamOutput(name, text string) Output {
	return Output{OutputType: OutputStream, Name: name, Text: text}
}

// DisplayOutput builds a display output item holding a single payload.
func DisplayOutput(mediaType, payload string) Output {
	return Output{OutputType: OutputDisplay, Data: map[string]string{mediaType: payload}}
}

// ErrorInfo describes an exception raised by executed code.
type ErrorInfo struct {
	Name      string   `json:"name"`
	Message   string   `json:"message"`
	Traceback []string `json:"traceback"`
}

// Result is the outcome of one execution. Exactly one of the two shapes is
// populated: Success with Outputs, or !Success with Error and no outputs.
type Result struct {
	Success bool       `json:"success"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Outputs []Output   `json:"outputs"`
}

// Succeeded returns a success result. A nil outputs slice is normalized to
// an empty one so it encodes as [].
func Succeeded(outputs []Output) *Result {
	if outputs == nil {
		outputs = []Output{}
	}
	return &Result{Success: true, Outputs: outputs}
}

// Failed returns a failure result carrying the error descriptor.
func Failed(info ErrorInfo) *Result {
	if info.Traceback == nil {
		info.Traceback = []string{}
	}
	return &Result{Success: false, Error: &info, Outputs: []Output{}}
}

// Executor runs code against a persistent namespace.
type Executor interface {
	Execute(ctx context.Context, code string) (*Result, error)
}

// Conn is the byte stream to a running driver: writes go to its request
// channel, reads come from its reply channel. Close terminates the
// interpreter and releases whatever backs it.
type Conn interface {
	io.ReadWriteCloser
}

// Launcher starts a fresh interpreter running the driver program.
type Launcher interface {
	// Name identifies the backend, e.g. "process" or "docker".
	Name() string
	Launch(ctx context.Context) (Conn, error)
}
