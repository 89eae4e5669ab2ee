package cmd

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
)

// PanicError is returned by Recover when the wrapped handler panicked.
type PanicError struct {
	Value    any
	Location string
	Stack    []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic in handler at %s: %v", p.Location, p.Value)
}

// Recover turns a panic in the wrapped handler into a *PanicError so one
// failing handler never takes the dispatcher down.
func Recover(location string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Value: r, Location: location, Stack: debug.Stack()}
				}
			}()
			return next(ctx, inv)
		}
	}
}

// Location returns "file:line (func)" of the function fn points to, or
// "unknown" when fn is not a function.
func Location(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return "unknown"
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "unknown"
	}
	file, line := f.FileLine(f.Entry())
	return fmt.Sprintf("%s:%d (%s)", file, line, f.Name())
}
