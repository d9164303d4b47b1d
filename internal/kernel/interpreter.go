package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/execserver/internal/observability"
)

// DefaultStartTimeout bounds how long a launch may take before the driver
// reports ready.
const DefaultStartTimeout = 30 * time.Second

// Info is a snapshot of the interpreter's state.
type Info struct {
	Backend    string     `json:"backend"`
	Running    bool       `json:"running"`
	Version    string     `json:"version,omitempty"`
	PID        int        `json:"pid,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	Executions int64      `json:"executions"`
	Restarts   int64      `json:"restarts"`
}

// Interpreter holds the one live interpreter and with it the execution
// namespace. It is safe for concurrent use; executions run one at a time.
type Interpreter struct {
	launcher     Launcher
	logger       *slog.Logger
	startTimeout time.Duration

	// gate is a one-slot semaphore held for the whole of an execution.
	gate chan struct{}

	mu       sync.Mutex
	conn     Conn
	sess     *session
	closed   bool
	launches int
	info     Info
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithStartTimeout overrides DefaultStartTimeout.
func WithStartTimeout(d time.Duration) Option {
	return func(in *Interpreter) {
		if d > 0 {
			in.startTimeout = d
		}
	}
}

// New returns an Interpreter that launches through l. Nothing is started
// until Start or the first Execute.
func New(l Launcher, logger *slog.Logger, opts ...Option) *Interpreter {
	in := &Interpreter{
		launcher:     l,
		logger:       logger,
		startTimeout: DefaultStartTimeout,
		gate:         make(chan struct{}, 1),
		info:         Info{Backend: l.Name()},
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

var _ Executor = (*Interpreter)(nil)

// Start launches the interpreter if it is not already running.
func (in *Interpreter) Start(ctx context.Context) error {
	if err := in.acquire(ctx); err != nil {
		return err
	}
	defer in.release()

	_, err := in.running(ctx)
	return err
}

// Execute runs code in the shared namespace and returns its result.
//
// A returned error means no result could be produced: the caller's context
// ended while waiting for the gate, the interpreter could not be launched,
// or it died mid-execution (ErrKernelDied). Exceptions raised by the code
// itself are reported in the Result, not as an error.
func (in *Interpreter) Execute(ctx context.Context, code string) (*Result, error) {
	if err := in.acquire(ctx); err != nil {
		return nil, err
	}
	defer in.release()

	sess, err := in.running(ctx)
	if err != nil {
		observability.ExecutionsTotal.WithLabelValues(observability.OutcomeFault).Inc()
		return nil, err
	}

	start := time.Now()
	res, err := sess.roundTrip(code)
	observability.ExecutionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		observability.ExecutionsTotal.WithLabelValues(observability.OutcomeFault).Inc()
		if in.isClosed() {
			return nil, ErrClosed
		}
		in.logger.Error("interpreter stream failed, discarding interpreter",
			slog.String("backend", in.launcher.Name()),
			slog.String("error", err.Error()),
		)
		in.teardown(sess)
		return nil, fmt.Errorf("%w: %v", ErrKernelDied, err)
	}

	in.mu.Lock()
	in.info.Executions++
	in.mu.Unlock()

	if res.Success {
		observability.ExecutionsTotal.WithLabelValues(observability.OutcomeOK).Inc()
	} else {
		observability.ExecutionsTotal.WithLabelValues(observability.OutcomeError).Inc()
	}
	return res, nil
}

// Info returns a snapshot of the interpreter's state.
func (in *Interpreter) Info() Info {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.info
}

// Close terminates the interpreter. An execution in flight fails with
// ErrClosed; later calls to Execute fail the same way.
func (in *Interpreter) Close() error {
	in.mu.Lock()
	in.closed = true
	conn := in.conn
	in.conn, in.sess = nil, nil
	in.info.Running = false
	in.mu.Unlock()

	observability.KernelUp.Set(0)
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (in *Interpreter) acquire(ctx context.Context) error {
	select {
	case in.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (in *Interpreter) release() {
	<-in.gate
}

func (in *Interpreter) isClosed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// running returns the live session, launching an interpreter first if
// there is none. Callers hold the gate.
func (in *Interpreter) running(ctx context.Context) (*session, error) {
	in.mu.Lock()
	closed, sess := in.closed, in.sess
	in.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}
	if sess != nil {
		return sess, nil
	}

	ctx, cancel := context.WithTimeout(ctx, in.startTimeout)
	defer cancel()

	conn, err := in.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("kernel: launching %s interpreter: %w", in.launcher.Name(), err)
	}

	sess = newSession(conn)
	type handshakeResult struct {
		h   hello
		err error
	}
	ready := make(chan handshakeResult, 1)
	go func() {
		h, err := sess.handshake()
		ready <- handshakeResult{h, err}
	}()

	var h hello
	select {
	case r := <-ready:
		if r.err != nil {
			conn.Close()
			return nil, fmt.Errorf("kernel: starting %s interpreter: %w", in.launcher.Name(), r.err)
		}
		h = r.h
	case <-ctx.Done():
		conn.Close()
		return nil, fmt.Errorf("kernel: waiting for %s interpreter: %w", in.launcher.Name(), ctx.Err())
	}

	now := time.Now()
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		conn.Close()
		return nil, ErrClosed
	}
	in.conn, in.sess = conn, sess
	in.launches++
	restarted := in.launches > 1
	if restarted {
		in.info.Restarts++
	}
	in.info.Running = true
	in.info.Version = h.Version
	in.info.PID = h.PID
	in.info.StartedAt = &now
	in.mu.Unlock()

	observability.KernelUp.Set(1)
	if restarted {
		observability.KernelRestartsTotal.WithLabelValues(in.launcher.Name()).Inc()
	}
	in.logger.Info("interpreter started",
		slog.String("backend", in.launcher.Name()),
		slog.String("python", h.Version),
		slog.Int("pid", h.PID),
		slog.Bool("restart", restarted),
	)
	return sess, nil
}

// teardown drops sess if it is still current and closes its connection.
func (in *Interpreter) teardown(sess *session) {
	in.mu.Lock()
	if in.sess != sess {
		in.mu.Unlock()
		return
	}
	conn := in.conn
	in.conn, in.sess = nil, nil
	in.info.Running = false
	in.mu.Unlock()

	observability.KernelUp.Set(0)
	if err := conn.Close(); err != nil {
		in.logger.Warn("closing interpreter", slog.String("error", err.Error()))
	}
}
