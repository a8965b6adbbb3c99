package compact

import (
	"fmt"
	"strings"
)

// ToolError reports a failed external tool invocation
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s %s failed (exit code %d): %v", e.Tool, strings.Join(e.Args, " "), e.ExitCode, e.Err)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}
