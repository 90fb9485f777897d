package utils

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
)

// RecoverFn is a function that handles a recovered panic
type RecoverFn func(r interface{}, stack []byte)

// SafeGo executes the given function in a goroutine with panic recovery
func SafeGo(fn func(), onPanic RecoverFn) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				if onPanic != nil {
					onPanic(r, stack)
					return
				}
				if logger.Log != nil {
					logger.Log.Error("[panic] Recovered from panic in goroutine",
						zap.Any("panic", r),
						zap.ByteString("stack", stack),
					)
					return
				}
				fmt.Fprintf(os.Stderr, "[PANIC] Recovered from panic in goroutine: %v\n%s\n", r, stack)
			}
		}()
		fn()
	}()
}

// SafeGoTracked is SafeGo for a goroutine counted in wg. wg.Done runs once
// whether fn returns or panics; onPanic must not call it.
func SafeGoTracked(wg *sync.WaitGroup, fn func(), onPanic RecoverFn) {
	wg.Add(1)
	SafeGo(func() {
		defer wg.Done()
		fn()
	}, onPanic)
}

// RecoverWithLog recovers a panic and logs it against the named operation.
// Must be called directly via defer.
func RecoverWithLog(ctx context.Context, operation string) {
	if r := recover(); r != nil {
		logPanic(ctx, operation, r)
	}
}

// WrapWithContextRecovery wraps a function that takes a context with panic
// recovery, converting a panic into an error.
func WrapWithContextRecovery(operation string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic(ctx, operation, r)
				err = fmt.Errorf("panic recovered in %s: %v", operation, r)
			}
		}()
		return fn(ctx)
	}
}

func logPanic(ctx context.Context, operation string, r interface{}) {
	stack := debug.Stack()
	if log := logger.FromContext(ctx); log != nil {
		log.Error("[panic] Recovered from panic",
			zap.String("operation", operation),
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		return
	}
	fmt.Fprintf(os.Stderr, "[PANIC] Recovered from panic during %s: %v\n%s\n", operation, r, stack)
}
