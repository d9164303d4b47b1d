package kernel_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/sakif/execserver/internal/kernel"
)

// fakeReply is what a scripted driver answers. A nil reply makes the
// driver exit without answering, as a crashed interpreter would.
type fakeReply = map[string]any

// fakeLauncher launches in-process drivers that speak the real protocol
// and answer with script.
type fakeLauncher struct {
	script func(launch int, code string) fakeReply

	mu       sync.Mutex
	launches int
	conns    []*fakeConn
}

func (l *fakeLauncher) Name() string { return "fake" }

func (l *fakeLauncher) Launch(ctx context.Context) (kernel.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.launches++
	launch := l.launches
	l.mu.Unlock()

	toDriver, fromClient := io.Pipe()
	toClient, fromDriver := io.Pipe()
	c := &fakeConn{r: toClient, w: fromClient, driverIn: toDriver, driverOut: fromDriver}

	l.mu.Lock()
	l.conns = append(l.conns, c)
	l.mu.Unlock()

	go func() {
		defer fromDriver.Close()
		enc := json.NewEncoder(fromDriver)
		if err := enc.Encode(map[string]any{"ready": true, "version": "3.12.1", "pid": 4242 + launch}); err != nil {
			return
		}
		lines := bufio.NewReader(toDriver)
		for {
			line, err := lines.ReadBytes('\n')
			if err != nil {
				return
			}
			var req struct {
				ID   uint64 `json:"id"`
				Code string `json:"code"`
			}
			if err := json.Unmarshal(line, &req); err != nil {
				return
			}
			rep := l.script(launch, req.Code)
			if rep == nil {
				toDriver.Close()
				return
			}
			rep["id"] = req.ID
			if err := enc.Encode(rep); err != nil {
				return
			}
		}
	}()
	return c, nil
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

type fakeConn struct {
	r *io.PipeReader
	w *io.PipeWriter

	driverIn  *io.PipeReader
	driverOut *io.PipeWriter
}

func (c *fakeConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *fakeConn) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *fakeConn) Close() error {
	c.w.Close()
	c.r.Close()
	c.driverIn.Close()
	c.driverOut.Close()
	return nil
}

func stdoutReply(text string) fakeReply {
	return fakeReply{
		"success": true,
		"outputs": []any{map[string]any{"output_type": "stream", "name": "stdout", "text": text}},
	}
}

func errorReply(name, message string) fakeReply {
	return fakeReply{
		"success": false,
		"error": map[string]any{
			"name":      name,
			"message":   message,
			"traceback": []string{"Traceback (most recent call last):", name + ": " + message, ""},
		},
		"outputs": []any{},
	}
}
