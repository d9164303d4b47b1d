package kernel_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/execserver/internal/kernel"
)

// newPythonInterpreter starts a real interpreter, skipping when python3 is
// not installed.
func newPythonInterpreter(t *testing.T) *kernel.Interpreter {
	t.Helper()
	l, err := kernel.NewProcessLauncher(kernel.DefaultProcessConfig(), testLogger())
	if err != nil {
		t.Skipf("python3 not available: %v", err)
	}
	in := kernel.New(l, testLogger())
	t.Cleanup(func() { in.Close() })
	require.NoError(t, in.Start(context.Background()))
	return in
}

func execute(t *testing.T, in *kernel.Interpreter, code string) *kernel.Result {
	t.Helper()
	res, err := in.Execute(context.Background(), code)
	require.NoError(t, err)
	return res
}

func TestProcess_PrintCapturesStdout(t *testing.T) {
	in := newPythonInterpreter(t)

	res := execute(t, in, "print('hi')")

	assert.True(t, res.Success)
	assert.Equal(t, []kernel.Output{kernel.StreamOutput(kernel.StreamStdout, "hi\n")}, res.Outputs)
}

func TestProcess_WriteWithoutNewline(t *testing.T) {
	in := newPythonInterpreter(t)

	res := execute(t, in, "import sys\nsys.stdout.write('no newline')")

	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "no newline", res.Outputs[0].Text)
}

func TestProcess_ZeroDivision(t *testing.T) {
	in := newPythonInterpreter(t)

	res := execute(t, in, "1/0")

	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, "ZeroDivisionError", res.Error.Name)
	assert.Equal(t, "division by zero", res.Error.Message)
	assert.NotEmpty(t, res.Error.Traceback)
	assert.Equal(t, "Traceback (most recent call last):", res.Error.Traceback[0])
	assert.Empty(t, res.Outputs)
}

func TestProcess_SyntaxError(t *testing.T) {
	in := newPythonInterpreter(t)

	res := execute(t, in, "print('unterminated'")

	assert.False(t, res.Success)
	assert.Equal(t, "SyntaxError", res.Error.Name)
}

func TestProcess_NamespacePersists(t *testing.T) {
	in := newPythonInterpreter(t)

	execute(t, in, "counter = 41\ndef bump():\n    global counter\n    counter += 1")
	execute(t, in, "bump()")
	res := execute(t, in, "print(counter, __name__)")

	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "42 __main__\n", res.Outputs[0].Text)
}

func TestProcess_StdoutBeforeStderr(t *testing.T) {
	in := newPythonInterpreter(t)

	res := execute(t, in, "import sys\nprint('warn', file=sys.stderr)\nprint('out')")

	assert.True(t, res.Success)
	assert.Equal(t, []kernel.Output{
		kernel.StreamOutput(kernel.StreamStdout, "out\n"),
		kernel.StreamOutput(kernel.StreamStderr, "warn\n"),
	}, res.Outputs)
}

func TestProcess_ProtocolStreamsAreShielded(t *testing.T) {
	in := newPythonInterpreter(t)

	res := execute(t, in, "import os\nos.write(1, b'stray\\n')\ntry:\n    input()\nexcept EOFError:\n    print('eof')")

	assert.True(t, res.Success)
	assert.Equal(t, []kernel.Output{kernel.StreamOutput(kernel.StreamStdout, "eof\n")}, res.Outputs)

	res = execute(t, in, "print('still talking')")
	assert.Equal(t, "still talking\n", res.Outputs[0].Text)
}

func TestProcess_SystemExitIsReported(t *testing.T) {
	in := newPythonInterpreter(t)

	res := execute(t, in, "raise SystemExit(3)")

	assert.False(t, res.Success)
	assert.Equal(t, "SystemExit", res.Error.Name)
	assert.Equal(t, "3", res.Error.Message)
	assert.True(t, in.Info().Running)
}

func TestProcess_UnprintableExceptionKeepsNamespace(t *testing.T) {
	in := newPythonInterpreter(t)

	execute(t, in, "x = 41")
	res := execute(t, in, strings.Join([]string{
		"class Unprintable(Exception):",
		"    def __str__(self):",
		"        raise ValueError('boom')",
		"raise Unprintable()",
	}, "\n"))

	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, "Unprintable", res.Error.Name)
	assert.Equal(t, "<exception str() failed>", res.Error.Message)
	assert.NotEmpty(t, res.Error.Traceback)

	res = execute(t, in, "print(x + 1)")
	assert.True(t, res.Success)
	assert.Equal(t, "42\n", res.Outputs[0].Text)
	assert.EqualValues(t, 0, in.Info().Restarts)
}

func TestProcess_BadStrReturnTypeIsReported(t *testing.T) {
	in := newPythonInterpreter(t)

	res := execute(t, in, "class E(Exception):\n    def __str__(self):\n        return 5\nraise E()")

	assert.False(t, res.Success)
	assert.Equal(t, "E", res.Error.Name)
	assert.Equal(t, "<exception str() failed>", res.Error.Message)
	assert.True(t, in.Info().Running)
}

func TestProcess_HardExitRelaunches(t *testing.T) {
	in := newPythonInterpreter(t)

	execute(t, in, "x = 1")
	_, err := in.Execute(context.Background(), "import os\nos._exit(1)")
	require.ErrorIs(t, err, kernel.ErrKernelDied)

	res := execute(t, in, "print(x)")
	assert.False(t, res.Success)
	assert.Equal(t, "NameError", res.Error.Name)
	assert.EqualValues(t, 1, in.Info().Restarts)
}

func TestProcess_FiguresAreEmittedOnce(t *testing.T) {
	if err := exec.Command("python3", "-c", "import matplotlib").Run(); err != nil {
		t.Skip("matplotlib not available")
	}
	in := newPythonInterpreter(t)

	res := execute(t, in, "import matplotlib.pyplot as plt\nplt.plot([1, 2, 3])")

	require.True(t, res.Success)
	require.Len(t, res.Outputs, 1)
	out := res.Outputs[0]
	assert.Equal(t, kernel.OutputDisplay, out.OutputType)
	png, err := base64.StdEncoding.DecodeString(out.Data[kernel.MediaPNG])
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")))

	res = execute(t, in, "y = 2")
	assert.Empty(t, res.Outputs)
}

func TestProcess_DisplayBeforeStreams(t *testing.T) {
	if err := exec.Command("python3", "-c", "import matplotlib").Run(); err != nil {
		t.Skip("matplotlib not available")
	}
	in := newPythonInterpreter(t)

	res := execute(t, in, strings.Join([]string{
		"import matplotlib.pyplot as plt",
		"print('before')",
		"plt.figure(); plt.plot([1])",
		"plt.figure(); plt.plot([2])",
	}, "\n"))

	require.Len(t, res.Outputs, 3)
	assert.Equal(t, kernel.OutputDisplay, res.Outputs[0].OutputType)
	assert.Equal(t, kernel.OutputDisplay, res.Outputs[1].OutputType)
	assert.Equal(t, kernel.StreamOutput(kernel.StreamStdout, "before\n"), res.Outputs[2])
}

func TestNewProcessLauncher_MissingInterpreter(t *testing.T) {
	_, err := kernel.NewProcessLauncher(kernel.ProcessConfig{Python: "python-does-not-exist-here"}, testLogger())
	assert.Error(t, err)
}
