package kernel

import (
	"bufio"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
)

// DriverSource is the Python program every launcher runs. It is passed to
// the interpreter with `python -u -c`.
//
//go:embed driver.py
var DriverSource string

// DriverEnv is the environment the driver expects on top of the host's.
// Agg keeps matplotlib off any display server.
var DriverEnv = []string{
	"MPLBACKEND=Agg",
	"PYTHONUNBUFFERED=1",
	"PYTHONIOENCODING=utf-8",
}

// hello is the first line the driver writes once it is ready.
type hello struct {
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	PID     int    `json:"pid"`
}

type request struct {
	ID   uint64 `json:"id"`
	Code string `json:"code"`
}

type reply struct {
	ID uint64 `json:"id"`
	Result
}

// session frames requests and replies over a driver connection. It is not
// safe for concurrent use; the Interpreter gate serializes callers.
type session struct {
	w   io.Writer
	r   *bufio.Reader
	seq uint64
}

func newSession(rw io.ReadWriter) *session {
	return &session{w: rw, r: bufio.NewReader(rw)}
}

// handshake reads the driver's ready line.
func (s *session) handshake() (hello, error) {
	var h hello
	line, err := s.r.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("reading driver hello: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decoding driver hello %q: %w", line, err)
	}
	if !h.Ready {
		return h, fmt.Errorf("driver reported not ready")
	}
	return h, nil
}

// roundTrip sends code and blocks until the matching reply arrives.
// Replies are read with ReadBytes rather than a Scanner because display
// payloads easily exceed any fixed line limit.
func (s *session) roundTrip(code string) (*Result, error) {
	s.seq++
	line, err := json.Marshal(request{ID: s.seq, Code: code})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	raw, err := s.r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading reply: %w", err)
	}
	var rep reply
	if err := json.Unmarshal(raw, &rep); err != nil {
		return nil, fmt.Errorf("decoding reply: %w", err)
	}
	if rep.ID != s.seq {
		return nil, fmt.Errorf("reply id %d does not match request %d", rep.ID, s.seq)
	}

	res := rep.Result
	if res.Success {
		return Succeeded(res.Outputs), nil
	}
	if res.Error == nil {
		return nil, fmt.Errorf("failure reply without error descriptor")
	}
	return Failed(*res.Error), nil
}
