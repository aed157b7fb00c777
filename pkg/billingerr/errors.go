// Package billingerr classifies engine failures into a small set of kinds so
// batch passes and alerting can report them without string matching.
package billingerr

import (
	"errors"
)

type Kind string

const (
	KindValidation              Kind = "validation"
	KindOverlappingSubscription Kind = "overlapping_subscription"
	KindNoData                  Kind = "no_data"
	KindInvalidQuantity         Kind = "invalid_quantity"
	KindCollection              Kind = "collection"
	KindDurableWrite            Kind = "durable_write"
	KindInternal                Kind = "internal"
)

// Error is a classified failure. Two errors match under errors.Is when they
// share a kind and code, so wrapped instances still match their sentinel.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

// Wrap attaches a kind and code to err. A nil err yields nil.
func Wrap(kind Kind, code string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Code: code, Err: err}
}

// With returns a copy of the sentinel carrying cause.
func (e *Error) With(cause error) error {
	if e == nil {
		return cause
	}
	return &Error{Kind: e.Kind, Code: e.Code, Err: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// KindOf returns the kind of the outermost classified error in the chain, or
// KindInternal when none is present.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func Validation(code string) *Error { return New(KindValidation, code) }
