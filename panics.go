package dapi

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

type PanicLogger func(funcName string, err any, stack []byte, fields ...map[string]any)

// MakePanicHandler returns a function meant to be deferred directly; it
// recovers a panic and reports it to logger.
func MakePanicHandler(logger PanicLogger) func(funcName string, fields ...map[string]any) {
	return func(funcName string, fields ...map[string]any) {
		if err := recover(); err != nil {
			logger(funcName, err, PanicStack(), fields...)
		}
	}
}

// PanicStack returns the current goroutine stack with the runtime panic
// frames removed.
func PanicStack() []byte {
	fullStack := make([]byte, 8096)
	n := runtime.Stack(fullStack, false)
	return cleanStackTrace(fullStack[:n])
}

// LoggerPanicLogger reports panics through a Logger at error level.
func LoggerPanicLogger(logger Logger) PanicLogger {
	logger = NormalizeLogger(logger)
	return func(funcName string, err any, stack []byte, fields ...map[string]any) {
		logger.Error(FormatPanic(funcName, err, stack, fields...))
	}
}

// FormatPanic renders a recovered panic for logs.
func FormatPanic(funcName string, err any, stack []byte, fields ...map[string]any) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("recovered from panic in %s\n", funcName))
	sb.WriteString(fmt.Sprintf("Error: %v\n", err))
	sb.WriteString(fmt.Sprintf("Error Type: %T\n", err))

	if len(fields) > 0 && fields[0] != nil {
		sb.WriteString("Context:\n")

		// sort keys for consistent output
		keys := make([]string, 0, len(fields[0]))
		for k := range fields[0] {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, fields[0][k]))
		}
	}

	sb.WriteString("Stack Trace:\n")
	sb.Write(stack)
	return sb.String()
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	// we find the index after the panic line
	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}

	// then remove everything before it
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		// remove the panic() call line & file reference line
		lines = lines[panicLineIndex+2:]
	}

	return []byte(strings.Join(lines, "\n"))
}
