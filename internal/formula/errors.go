package formula

import (
	"errors"
	"fmt"
)

var (
	ErrSyntax          = errors.New("syntax error")
	ErrUnknownVariable = errors.New("unknown variable")
	ErrUnknownFunction = errors.New("unknown function")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrNotFinite       = errors.New("result is not finite")
)

// EvaluationError wraps a formula failure with the offending expression.
// Kind is one of the sentinel errors above.
type EvaluationError struct {
	Kind error
	Expr string
	Pos  int // byte offset into Expr, -1 when not tied to a position
	Msg  string
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Pos >= 0 {
		return fmt.Sprintf("%s (at %d in %q)", msg, e.Pos, e.Expr)
	}
	return fmt.Sprintf("%s (in %q)", msg, e.Expr)
}

func (e *EvaluationError) Unwrap() error { return e.Kind }

func syntaxf(expr string, pos int, format string, args ...any) error {
	return &EvaluationError{Kind: ErrSyntax, Expr: expr, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// evalError is raised while walking the tree, before the expression text is
// known; Evaluate fills Expr in.
func evalError(kind error, format string, args ...any) error {
	return &EvaluationError{Kind: kind, Pos: -1, Msg: fmt.Sprintf(format, args...)}
}
