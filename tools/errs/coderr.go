package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Codes of the messaging core. Network-class failures are retryable, contract and
// validation failures are not.
const (
	CodeAuthMissing          = 1001
	CodeSendFailed           = 1002
	CodeFetchFailed          = 1003
	CodeAlreadyOpenElsewhere = 1004
	CodeEmptyMessage         = 1005
	CodeNotOpen              = 1006
	CodeNotConnected         = 1007
	CodeDeleteFailed         = 1008
	CodeReadFailed           = 1009
	CodeInvalidArgument      = 1010
	CodeRequestFailed        = 1011
)

var (
	ErrAuthMissing          = NewCodeError(CodeAuthMissing, "auth token missing")
	ErrSendFailed           = NewCodeError(CodeSendFailed, "send failed")
	ErrFetchFailed          = NewCodeError(CodeFetchFailed, "fetch failed")
	ErrAlreadyOpenElsewhere = NewCodeError(CodeAlreadyOpenElsewhere, "another room session is open")
	ErrEmptyMessage         = NewCodeError(CodeEmptyMessage, "message text is empty")
	ErrNotOpen              = NewCodeError(CodeNotOpen, "room session is not open")
	ErrNotConnected         = NewCodeError(CodeNotConnected, "socket not connected")
	ErrDeleteFailed         = NewCodeError(CodeDeleteFailed, "delete failed")
	ErrReadFailed           = NewCodeError(CodeReadFailed, "mark read failed")
	ErrInvalidArgument      = NewCodeError(CodeInvalidArgument, "invalid argument")
	ErrRequestFailed        = NewCodeError(CodeRequestFailed, "request failed")
)

var retryable = map[int]bool{
	CodeSendFailed:    true,
	CodeFetchFailed:   true,
	CodeRequestFailed: true,
	CodeDeleteFailed:  true,
	CodeReadFailed:    true,
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: e.Detail}
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	ret := e.clone()
	if ret.Detail == "" {
		ret.Detail = detail
	} else {
		ret.Detail += ", " + detail
	}
	return ret
}

// Wrap returns a copy of e carrying a stack trace.
func (e *CodeError) Wrap() error {
	return pkgerrors.WithStack(e.clone())
}

func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	ret := e.clone()
	if msg != "" || len(kv) > 0 {
		ret = ret.WithDetail(toString(msg, kv))
	}
	return pkgerrors.WithStack(ret)
}

// Because attaches cause to a copy of e; errors.Is matches both e's code and cause.
func (e *CodeError) Because(cause error, msg string, kv ...any) error {
	ret := e.clone()
	if msg != "" || len(kv) > 0 {
		ret = ret.WithDetail(toString(msg, kv))
	}
	if cause == nil {
		return pkgerrors.WithStack(ret)
	}
	return pkgerrors.WithStack(&causeError{code: ret, cause: cause})
}

// Is matches any CodeError with the same code.
func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

const initialCapacity = 3

func (e *CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

type causeError struct {
	code  *CodeError
	cause error
}

func (c *causeError) Error() string   { return c.code.Error() + ": " + c.cause.Error() }
func (c *causeError) Unwrap() []error { return []error{c.code, c.cause} }

// Code extracts the CodeError code from err, or 0.
func Code(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

// Retryable reports whether err is a network-class failure worth a retry affordance.
func Retryable(err error) bool {
	return retryable[Code(err)]
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprint(kv[i]))
		b.WriteByte('=')
		if i+1 < len(kv) {
			b.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			b.WriteString("MISSING")
		}
	}
	return b.String()
}
