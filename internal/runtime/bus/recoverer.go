package bus

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	errspkg "github.com/drblury/asyncflow/internal/runtime/errors"
)

// Recoverer turns a panic further down the chain into a severe error that
// records where the panic was raised.
func Recoverer() Middleware {
	return MiddlewareFunc(func(ctx context.Context, msg any, stack Stack) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &errspkg.SevereError{Cause: panicCause(r), Origin: panicOrigin()}
			}
		}()
		return stack.Next().Handle(ctx, msg)
	})
}

func panicCause(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

// panicOrigin must be called from the deferred recover function.
func panicOrigin() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	panicking := false
	for {
		frame, more := frames.Next()
		switch {
		case frame.Function == "runtime.gopanic":
			panicking = true
		case panicking && !strings.HasPrefix(frame.Function, "runtime."):
			return fmt.Sprintf("%s:%d", frame.File, frame.Line)
		}
		if !more {
			return ""
		}
	}
}
