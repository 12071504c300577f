package tool

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ErrorCodeValidation is returned when arguments are malformed or missing.
	ErrorCodeValidation = "VALIDATION_ERROR"
	// ErrorCodeUnknownTool is returned when the requested name is not registered.
	ErrorCodeUnknownTool = "UNKNOWN_TOOL"
	// ErrorCodeHandlerFault is returned when a tool's own logic fails or panics.
	ErrorCodeHandlerFault = "HANDLER_FAULT"
	// ErrorCodeTransportFault marks a dropped connection. It is never sent to
	// the caller and only shows up in observations and logs.
	ErrorCodeTransportFault = "TRANSPORT_FAULT"
)

// ToolError is a structured dispatch error. Every failure below the transport
// boundary is converted into one of these before it becomes an envelope or a
// stream error event.
type ToolError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	msg := strings.TrimSpace(e.Message)
	switch {
	case code == "" && msg == "":
		return ErrorCodeHandlerFault
	case code == "":
		return msg
	case msg == "":
		return code
	default:
		return fmt.Sprintf("%s: %s", code, msg)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newToolError(code, message string, cause error) *ToolError {
	cleanCode := strings.TrimSpace(code)
	if cleanCode == "" {
		cleanCode = ErrorCodeHandlerFault
	}
	cleanMsg := strings.TrimSpace(message)
	if cleanMsg == "" && cause != nil {
		cleanMsg = cause.Error()
	}
	return &ToolError{
		Code:    cleanCode,
		Message: cleanMsg,
		Cause:   cause,
	}
}

func withToolErrorDetails(err *ToolError, details map[string]any) *ToolError {
	if err == nil {
		return nil
	}
	if len(details) == 0 {
		return err
	}
	if err.Details == nil {
		err.Details = make(map[string]any, len(details))
	}
	for key, value := range details {
		err.Details[key] = value
	}
	return err
}

// UnknownToolError reports a name absent from the catalog together with the
// names that are currently valid.
func UnknownToolError(name string, known []string) *ToolError {
	available := "none"
	if len(known) > 0 {
		available = strings.Join(known, ", ")
	}
	err := newToolError(
		ErrorCodeUnknownTool,
		fmt.Sprintf("unknown tool %q; available tools: %s", name, available),
		nil,
	)
	return withToolErrorDetails(err, map[string]any{
		"tool":           name,
		"availableTools": known,
	})
}

// ValidationError reports arguments that do not satisfy a tool's schema.
func ValidationError(toolName string, cause error) *ToolError {
	err := newToolError(
		ErrorCodeValidation,
		fmt.Sprintf("invalid arguments for tool %q: %v", toolName, cause),
		cause,
	)
	return withToolErrorDetails(err, map[string]any{"tool": toolName})
}

// HandlerFault wraps a failure raised by a tool's handler.
func HandlerFault(toolName string, cause error) *ToolError {
	err := newToolError(ErrorCodeHandlerFault, "", cause)
	return withToolErrorDetails(err, map[string]any{"tool": toolName})
}

// AsToolError returns err as a *ToolError when it is one or wraps one.
func AsToolError(err error) (*ToolError, bool) {
	if err == nil {
		return nil, false
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) && toolErr != nil {
		return toolErr, true
	}
	return nil, false
}

// ErrorCode returns the dispatch error code carried by err, or "" if none.
func ErrorCode(err error) string {
	if toolErr, ok := AsToolError(err); ok {
		return toolErr.Code
	}
	return ""
}

// ErrorMessage returns the caller-facing message for err.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if toolErr, ok := AsToolError(err); ok && strings.TrimSpace(toolErr.Message) != "" {
		return toolErr.Message
	}
	return err.Error()
}
