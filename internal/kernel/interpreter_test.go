package kernel_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/execserver/internal/kernel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestInterpreter_ReusesOneInterpreter(t *testing.T) {
	calls := 0
	l := &fakeLauncher{script: func(launch int, code string) fakeReply {
		calls++
		return stdoutReply(fmt.Sprintf("launch %d call %d\n", launch, calls))
	}}
	in := kernel.New(l, testLogger())
	defer in.Close()

	for i := 1; i <= 3; i++ {
		res, err := in.Execute(context.Background(), "print()")
		require.NoError(t, err)
		require.True(t, res.Success)
		require.Len(t, res.Outputs, 1)
		assert.Equal(t, fmt.Sprintf("launch 1 call %d\n", i), res.Outputs[0].Text)
	}

	assert.Equal(t, 1, l.launchCount())
	info := in.Info()
	assert.Equal(t, "fake", info.Backend)
	assert.True(t, info.Running)
	assert.Equal(t, "3.12.1", info.Version)
	assert.EqualValues(t, 3, info.Executions)
	assert.EqualValues(t, 0, info.Restarts)
}

func TestInterpreter_FailureEnvelope(t *testing.T) {
	l := &fakeLauncher{script: func(int, string) fakeReply {
		return errorReply("ZeroDivisionError", "division by zero")
	}}
	in := kernel.New(l, testLogger())
	defer in.Close()

	res, err := in.Execute(context.Background(), "1/0")
	require.NoError(t, err)

	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, "ZeroDivisionError", res.Error.Name)
	assert.Equal(t, "division by zero", res.Error.Message)
	assert.NotEmpty(t, res.Error.Traceback)
	assert.NotNil(t, res.Outputs)
	assert.Empty(t, res.Outputs)
}

func TestInterpreter_EmptySuccessEncodesEmptyOutputs(t *testing.T) {
	l := &fakeLauncher{script: func(int, string) fakeReply {
		return fakeReply{"success": true, "outputs": []any{}}
	}}
	in := kernel.New(l, testLogger())
	defer in.Close()

	res, err := in.Execute(context.Background(), "x = 1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotNil(t, res.Outputs)
	assert.Nil(t, res.Error)
}

func TestInterpreter_RelaunchesAfterDeath(t *testing.T) {
	l := &fakeLauncher{script: func(launch int, code string) fakeReply {
		if code == "exit" {
			return nil
		}
		return stdoutReply(fmt.Sprintf("launch %d\n", launch))
	}}
	in := kernel.New(l, testLogger())
	defer in.Close()

	_, err := in.Execute(context.Background(), "print()")
	require.NoError(t, err)

	_, err = in.Execute(context.Background(), "exit")
	require.Error(t, err)
	assert.True(t, errors.Is(err, kernel.ErrKernelDied))
	assert.False(t, in.Info().Running)

	res, err := in.Execute(context.Background(), "print()")
	require.NoError(t, err)
	assert.Equal(t, "launch 2\n", res.Outputs[0].Text)

	assert.Equal(t, 2, l.launchCount())
	assert.EqualValues(t, 1, in.Info().Restarts)
}

func TestInterpreter_SerializesExecutions(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	l := &fakeLauncher{script: func(_ int, code string) fakeReply {
		if code == "block" {
			close(started)
			<-release
		}
		return stdoutReply(code + "\n")
	}}
	in := kernel.New(l, testLogger())
	defer in.Close()

	done := make(chan error, 1)
	go func() {
		_, err := in.Execute(context.Background(), "block")
		done <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := in.Execute(ctx, "print()")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)

	res, err := in.Execute(context.Background(), "after")
	require.NoError(t, err)
	assert.Equal(t, "after\n", res.Outputs[0].Text)
}

func TestInterpreter_Close(t *testing.T) {
	l := &fakeLauncher{script: func(int, string) fakeReply { return stdoutReply("hi\n") }}
	in := kernel.New(l, testLogger())

	require.NoError(t, in.Start(context.Background()))
	assert.True(t, in.Info().Running)

	require.NoError(t, in.Close())
	assert.False(t, in.Info().Running)

	_, err := in.Execute(context.Background(), "print('hi')")
	assert.ErrorIs(t, err, kernel.ErrClosed)
}

func TestInterpreter_LaunchFailure(t *testing.T) {
	in := kernel.New(failingLauncher{}, testLogger())
	defer in.Close()

	_, err := in.Execute(context.Background(), "print('hi')")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no interpreter here")
	assert.False(t, in.Info().Running)
}

type failingLauncher struct{}

func (failingLauncher) Name() string { return "broken" }

func (failingLauncher) Launch(context.Context) (kernel.Conn, error) {
	return nil, errors.New("no interpreter here")
}

func TestResultConstructors(t *testing.T) {
	ok := kernel.Succeeded(nil)
	assert.True(t, ok.Success)
	assert.NotNil(t, ok.Outputs)

	failed := kernel.Failed(kernel.ErrorInfo{Name: "ValueError", Message: "bad"})
	assert.False(t, failed.Success)
	assert.NotNil(t, failed.Error.Traceback)
	assert.Empty(t, failed.Outputs)

	display := kernel.DisplayOutput(kernel.MediaPNG, "iVBORw0KGgo=")
	assert.Equal(t, kernel.OutputDisplay, display.OutputType)
	assert.Equal(t, "iVBORw0KGgo=", display.Data[kernel.MediaPNG])
}

func TestLogWriter_SplitsLines(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	w := kernel.NewLogWriter(logger, slog.String("backend", "test"))

	_, err := w.Write([]byte("first line\nsecond "))
	require.NoError(t, err)
	_, err = w.Write([]byte("half\n\n"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `line="first line"`)
	assert.Contains(t, lines[1], `line="second half"`)
	assert.Contains(t, lines[1], "backend=test")
}
