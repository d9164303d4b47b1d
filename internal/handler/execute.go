package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/sakif/execserver/internal/kernel"
)

// Execute endpoint error bodies are flat: {"error": "..."}.
type executeError struct {
	Error string `json:"error"`
}

// executeRequest leaves Code untyped so that any falsy JSON value (null,
// "", false, 0, [] or {}) reads as "no code" rather than a decode failure.
type executeRequest struct {
	Code any `json:"code"`
}

var (
	errEmptyBody    = errors.New("request body must be a JSON object")
	errTrailingData = errors.New("request body must contain a single JSON object")
)

// ExecuteHandler runs code against the shared interpreter.
type ExecuteHandler struct {
	exec          kernel.Executor
	maxCodeLength int
	logger        *slog.Logger
}

// NewExecuteHandler creates an ExecuteHandler. maxCodeLength caps the code
// in characters; zero means unlimited.
func NewExecuteHandler(exec kernel.Executor, maxCodeLength int, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		exec:          exec,
		maxCodeLength: maxCodeLength,
		logger:        logger,
	}
}

// HandleExecute handles POST /api/execute.
//
//	200  {"success": true, "outputs": [...]}                 code ran
//	200  {"success": false, "error": {...}, "outputs": []}   code raised, or code is not a string
//	400  {"error": "No code provided"}                       missing or empty code
//	500  {"error": "..."}                                    unreadable body or interpreter fault
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	req, err := decodeExecuteRequest(r.Body)
	if err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, executeError{Error: err.Error()})
		return
	}

	code, err := codeOf(req.Code)
	if errors.Is(err, errCodeNotString) {
		// exec() itself would reject it, so answer the way a raised
		// TypeError is answered without touching the interpreter.
		writeJSON(w, http.StatusOK, notStringResult())
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, executeError{Error: err.Error()})
		return
	}
	if h.maxCodeLength > 0 && utf8.RuneCountInString(code) > h.maxCodeLength {
		writeJSON(w, http.StatusBadRequest, executeError{
			Error: fmt.Sprintf("Code too long (max %d characters)", h.maxCodeLength),
		})
		return
	}

	h.logger.Debug("executing code", slog.Int("chars", len(code)))

	result, err := h.exec.Execute(r.Context(), code)
	if err != nil {
		h.logger.Error("code execution failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, executeError{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// decodeExecuteRequest reads exactly one JSON object from body.
func decodeExecuteRequest(body io.Reader) (*executeRequest, error) {
	dec := json.NewDecoder(body)

	var req *executeRequest
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errEmptyBody
		}
		return nil, err
	}
	if req == nil {
		return nil, errEmptyBody
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return req, nil
}

var (
	errNoCode        = errors.New("No code provided")
	errCodeNotString = errors.New("code must be a string")
)

// codeOf extracts the code to run. Falsy values yield errNoCode; any other
// non-string yields errCodeNotString.
func codeOf(v any) (string, error) {
	switch c := v.(type) {
	case nil:
		return "", errNoCode
	case string:
		if c == "" {
			return "", errNoCode
		}
		return c, nil
	case bool:
		if !c {
			return "", errNoCode
		}
	case float64:
		if c == 0 {
			return "", errNoCode
		}
	case []any:
		if len(c) == 0 {
			return "", errNoCode
		}
	case map[string]any:
		if len(c) == 0 {
			return "", errNoCode
		}
	}
	return "", errCodeNotString
}

const notStringMessage = "exec() arg 1 must be a string, bytes or code object"

// notStringResult is the failure envelope for a truthy code value that is
// not a string.
func notStringResult() *kernel.Result {
	return kernel.Failed(kernel.ErrorInfo{
		Name:      "TypeError",
		Message:   notStringMessage,
		Traceback: []string{"TypeError: " + notStringMessage, ""},
	})
}

// HandleHealth handles GET /api/health. It does not touch the interpreter.
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// KernelInspector reports interpreter state.
type KernelInspector interface {
	Info() kernel.Info
}

// HandleKernelInfo returns a handler for GET /api/kernel.
func HandleKernelInfo(k KernelInspector) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, k.Info())
	}
}
