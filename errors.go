package dapi

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeUnknownOperation = "UNKNOWN_OPERATION"
	ErrCodeInvalidArguments = "INVALID_ARGUMENTS"
	ErrCodeNodeUnreachable  = "NODE_UNREACHABLE"
	ErrCodeNodeExecution    = "NODE_EXECUTION_ERROR"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeLocalExecution   = "LOCAL_EXECUTION_ERROR"
	ErrCodeNoMaster         = "NO_MASTER"
	ErrCodeDispatchPanic    = "DISPATCH_PANIC"
	ErrCodeMerge            = "MERGE_ERROR"
	ErrCodeMembership       = "MEMBERSHIP_UNAVAILABLE"
)

var (
	ErrConfiguration = errors.New("invalid dispatch configuration", errors.CategoryBadInput).
				WithTextCode(ErrCodeConfiguration)
	ErrUnknownOperation = errors.New("unknown operation", errors.CategoryNotFound).
				WithTextCode(ErrCodeUnknownOperation)
	ErrInvalidArguments = errors.New("invalid operation arguments", errors.CategoryValidation).
				WithTextCode(ErrCodeInvalidArguments)
	ErrNodeUnreachable = errors.New("node unreachable", errors.CategoryExternal).
				WithTextCode(ErrCodeNodeUnreachable)
	ErrNodeExecution = errors.New("node execution failed", errors.CategoryExternal).
				WithTextCode(ErrCodeNodeExecution)
	ErrTimeout = errors.New("operation timed out", errors.CategoryOperation).
			WithTextCode(ErrCodeTimeout)
	ErrLocalExecution = errors.New("local execution failed", errors.CategoryHandler).
				WithTextCode(ErrCodeLocalExecution)
	ErrNoMaster = errors.New("cluster master not available", errors.CategoryExternal).
			WithTextCode(ErrCodeNoMaster)
	ErrDispatchPanic = errors.New("dispatch panicked", errors.CategoryInternal).
				WithTextCode(ErrCodeDispatchPanic)
	ErrMerge = errors.New("could not merge node results", errors.CategoryInternal).
			WithTextCode(ErrCodeMerge)
	ErrMembership = errors.New("cluster membership unavailable", errors.CategoryExternal).
			WithTextCode(ErrCodeMembership)
)

// NewError clones base, replacing its message and attaching source and
// metadata. A nil base falls back to ErrLocalExecution.
func NewError(base *errors.Error, message string, source error, metadata map[string]any) *errors.Error {
	if base == nil {
		base = ErrLocalExecution
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code carried by err, or "" when err is not
// a go-errors error.
func ErrorCode(err error) string {
	var ge *errors.Error
	if errors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// HasCode reports whether err carries the given text code.
func HasCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// ErrorDetail is the transport-friendly error shape used in envelopes and
// node results.
type ErrorDetail struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Category string         `json:"category,omitempty"`
	Node     string         `json:"node,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (d *ErrorDetail) Error() string {
	if d == nil {
		return ""
	}
	if d.Node != "" {
		return fmt.Sprintf("%s: %s (node %s)", d.Code, d.Message, d.Node)
	}
	return fmt.Sprintf("%s: %s", d.Code, d.Message)
}

// DetailFromError converts err into an ErrorDetail. Errors without a
// text code are reported with fallbackCode.
func DetailFromError(err error, fallbackCode string) *ErrorDetail {
	if err == nil {
		return nil
	}

	var ge *errors.Error
	if errors.As(err, &ge) {
		code := ge.TextCode
		if code == "" {
			code = fallbackCode
		}
		msg := ge.Message
		if ge.Source != nil {
			msg = fmt.Sprintf("%s: %v", msg, ge.Source)
		}
		return &ErrorDetail{
			Code:     code,
			Message:  msg,
			Category: ge.Category.String(),
			Metadata: cloneMap(ge.Metadata),
		}
	}

	var detail *ErrorDetail
	if errors.As(err, &detail) && detail != nil {
		cp := *detail
		return &cp
	}

	return &ErrorDetail{
		Code:    fallbackCode,
		Message: err.Error(),
	}
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
