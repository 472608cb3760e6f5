package docsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang/glog"
)

// PanicError is a panic raised by collaborator code (a hook, a callback, a script engine)
// after it was recovered.
type PanicError struct {
	Value any
	Stack []string
}

func newPanicError(r any, stack []byte) *PanicError {
	stackLines := []string{}
	for _, line := range strings.Split(string(stack), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			stackLines = append(stackLines, line)
		}
	}
	return &PanicError{
		Value: r,
		Stack: stackLines,
	}
}

func (self *PanicError) Error() string {
	return fmt.Sprintf("Panic %v.", self.Value)
}

func (self *PanicError) Unwrap() error {
	err, _ := self.Value.(error)
	return err
}

func (self *PanicError) Json() string {
	panicJson, _ := json.Marshal(map[string]any{
		"panic": fmt.Sprintf("%T=%v", self.Value, self.Value),
		"stack": self.Stack,
	})
	return string(panicJson)
}

// HandleError runs `do` and recovers a panic from collaborator code.
// Handlers are `func()` or `func(error)` and run after the panic is logged.
// The handler error is a `*PanicError`.
func HandleError(do func(), handlers ...any) (r any) {
	defer func() {
		if r = recover(); r != nil {
			panicErr := newPanicError(r, debug.Stack())
			if errors.Is(panicErr, context.Canceled) {
				// a canceled collaborator raised its context error
				glog.V(2).Infof("[h]canceled: %s\n", panicErr)
			} else {
				glog.Warningf("[h]recovered: %s\n", panicErr.Json())
			}
			for _, handler := range handlers {
				switch v := handler.(type) {
				case func():
					v()
				case func(error):
					v(panicErr)
				}
			}
		}
	}()
	do()
	return
}

func Trace(tag string, do func()) {
	trace(tag, func() string {
		do()
		return ""
	})
}

func TraceWithReturnError[R any](tag string, do func() (R, error)) (result R, returnErr error) {
	trace(tag, func() string {
		result, returnErr = do()
		if returnErr != nil {
			return fmt.Sprintf(" err = %s", returnErr)
		}
		return ""
	})
	return
}

// verbose level 2
func trace(tag string, do func() string) {
	if !glog.V(2) {
		do()
		return
	}
	start := time.Now()
	doTag := do()
	millis := float64(time.Since(start)) / float64(time.Millisecond)
	glog.Infof("%s (%.2fms)%s\n", tag, millis, doTag)
}
