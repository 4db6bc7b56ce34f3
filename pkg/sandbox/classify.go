package sandbox

import "strings"

// ErrorType classifies a failed execution.
type ErrorType string

const (
	ErrorNone             ErrorType = ""
	ErrorSyntax           ErrorType = "SYNTAX_ERROR"
	ErrorRuntime          ErrorType = "RUNTIME_ERROR"
	ErrorTimeout          ErrorType = "TIMEOUT"
	ErrorMemory           ErrorType = "MEMORY_ERROR"
	ErrorFunctionNotFound ErrorType = "FUNCTION_NOT_FOUND"
	ErrorImport           ErrorType = "IMPORT_ERROR"
	ErrorUnknown          ErrorType = "UNKNOWN_ERROR"
)

// ErrorTypes lists the classifications in reporting order.
var ErrorTypes = []ErrorType{
	ErrorSyntax,
	ErrorImport,
	ErrorFunctionNotFound,
	ErrorRuntime,
	ErrorTimeout,
	ErrorMemory,
	ErrorUnknown,
}

// Label is the lowercase human wording used in feedback text.
func (t ErrorType) Label() string {
	switch t {
	case ErrorSyntax:
		return "syntax error"
	case ErrorRuntime:
		return "runtime error"
	case ErrorTimeout:
		return "timeout"
	case ErrorMemory:
		return "memory error"
	case ErrorFunctionNotFound:
		return "function not found"
	case ErrorImport:
		return "import error"
	case ErrorNone:
		return "no error"
	default:
		return "unknown error"
	}
}

// FunctionNotFoundMarker is written to stderr by the execution harnesses
// when the entry function is missing.
const FunctionNotFoundMarker = "FunctionNotFound"

type pattern struct {
	kind   ErrorType
	needle string
}

// Checked in order; the first match wins.
var stderrPatterns = []pattern{
	{ErrorSyntax, "SyntaxError"},
	{ErrorSyntax, "IndentationError"},
	{ErrorSyntax, "TabError"},
	{ErrorImport, "ModuleNotFoundError"},
	{ErrorImport, "ImportError"},
	{ErrorImport, "Cannot find module"},
	{ErrorFunctionNotFound, FunctionNotFoundMarker},
	{ErrorMemory, "MemoryError"},
	{ErrorMemory, "heap out of memory"},
	{ErrorMemory, "out of memory"},
	{ErrorTimeout, "TimeoutError"},
	{ErrorTimeout, "timed out"},
	{ErrorRuntime, "Traceback"},
	{ErrorRuntime, "Error"},
	{ErrorRuntime, "Exception"},
}

// exitKilled is the exit status of a process killed by SIGKILL, which on a
// memory-limited sandbox is almost always the OOM killer.
const exitKilled = 137

// GetErrorType classifies an outcome. It inspects TimedOut first, then the
// infrastructure error text, then stderr. A successful outcome yields ErrorNone.
func GetErrorType(o Outcome) ErrorType {
	if o.IsSuccessful {
		return ErrorNone
	}
	if o.TimedOut {
		return ErrorTimeout
	}

	if o.Error != "" {
		e := strings.ToLower(o.Error)
		switch {
		case strings.Contains(e, "timeout") || strings.Contains(e, "timed out") || strings.Contains(e, "deadline"):
			return ErrorTimeout
		case strings.Contains(e, "memory"):
			return ErrorMemory
		}
	}

	for _, p := range stderrPatterns {
		if strings.Contains(o.Stderr, p.needle) {
			return p.kind
		}
	}

	if o.ExitCode == exitKilled {
		return ErrorMemory
	}
	if strings.TrimSpace(o.Stderr) != "" {
		return ErrorRuntime
	}
	return ErrorUnknown
}
