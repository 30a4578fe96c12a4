// Package tradeerr classifies failures of a single user action.
//
// Every error is terminal for the action that produced it, never for the
// whole flow: callers render it as a dismissible notice and let the user
// retry or cancel.
package tradeerr

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindPreconditionFailed
	KindRemote
	KindParse
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("conflicting state")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrRemote             = errors.New("remote call failed")

	// ErrFlowClosed 流程已销毁，进行中的请求被放弃，迟到的结果直接丢弃。
	ErrFlowClosed = errors.New("flow closed")
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindPreconditionFailed:
		return "precondition_failed"
	case KindRemote:
		return "remote"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error 绑定到某个动作（pause、sell-AAPL、confirm ...）的失败。
type Error struct {
	Kind    Kind
	Action  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Action == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Action, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels. Parse errors propagate as remote errors.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrPreconditionFailed:
		return e.Kind == KindPreconditionFailed
	case ErrRemote:
		return e.Kind == KindRemote || e.Kind == KindParse
	}
	return false
}

func Validation(action, msg string) error {
	return &Error{Kind: KindValidation, Action: action, Message: msg}
}

func Conflict(action, msg string) error {
	return &Error{Kind: KindConflict, Action: action, Message: msg}
}

func PreconditionFailed(action, msg string) error {
	return &Error{Kind: KindPreconditionFailed, Action: action, Message: msg}
}

// Remote wraps a transport or non-2xx failure. An existing *Error keeps its
// kind and only gains the action name.
func Remote(action string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return &Error{Kind: te.Kind, Action: action, Message: te.Message, Err: te.Err}
	}
	return &Error{Kind: KindRemote, Action: action, Err: err}
}

// Parse marks a malformed response body.
func Parse(action string, err error) error {
	return &Error{Kind: KindParse, Action: action, Message: "malformed response", Err: err}
}

// KindOf returns the kind of err, or 0 when err is not classified.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// ActionOf returns the action err is tied to.
func ActionOf(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Action
	}
	return ""
}
