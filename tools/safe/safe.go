package safe

import (
	"fmt"
	"reflect"

	"DMProject/logger"
	"DMProject/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required constructor arguments.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Call runs f and turns a panic into a logged error instead of crashing the caller.
func Call(log *zap.Logger, name string, f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
			if log == nil {
				log = logger.Log
			}
			log.Error("panic recovered", zap.String("where", name), zap.Error(err))
		}
	}()
	f()
	return nil
}

// Go starts f in a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func Go(log *zap.Logger, name string, f func()) {
	go func() {
		_ = Call(log, name, f)
	}()
}
