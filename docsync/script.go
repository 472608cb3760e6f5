package docsync

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
	"google.golang.org/protobuf/types/known/structpb"
)

// the authority is trusted to send script. the runtime does not embed an interpreter;
// a host that wants script supplies a `ScriptEngine`.

type ScriptEngine interface {
	// Exec runs a script body in the document context.
	Exec(script string) error
	// Call runs a function body with an optional argument object bound as its parameter.
	Call(functionBody string, arg *structpb.Struct) error
}

var ErrNoScriptEngine = errors.New("No script engine.")

type ScriptExecutionError struct {
	Script string
	Err    error
}

func (self *ScriptExecutionError) Error() string {
	script := self.Script
	if 64 < len(script) {
		script = script[:64] + "..."
	}
	return fmt.Sprintf("Script failed (%q): %s", script, self.Err)
}

func (self *ScriptExecutionError) Unwrap() error {
	return self.Err
}

// NoScriptEngine rejects every script.
type NoScriptEngine struct{}

func (self *NoScriptEngine) Exec(script string) error {
	glog.V(1).Infof("[js]no engine, drop exec (%d bytes)\n", len(script))
	return ErrNoScriptEngine
}

func (self *NoScriptEngine) Call(functionBody string, arg *structpb.Struct) error {
	glog.V(1).Infof("[js]no engine, drop call (%d bytes)\n", len(functionBody))
	return ErrNoScriptEngine
}

// runScript isolates one script invocation. Errors and panics are logged and never unwind the caller.
func runScript(script string, run func() error) (returnErr error) {
	HandleError(func() {
		if err := run(); err != nil {
			returnErr = &ScriptExecutionError{
				Script: script,
				Err:    err,
			}
		}
	}, func(err error) {
		returnErr = &ScriptExecutionError{
			Script: script,
			Err:    err,
		}
	})
	if returnErr != nil && !errors.Is(returnErr, ErrNoScriptEngine) {
		glog.Infof("[js]%s\n", returnErr)
	}
	return
}

type Reloader interface {
	Reload(fromCache bool)
}

type noReloader struct{}

func (self *noReloader) Reload(fromCache bool) {
	glog.Infof("[p]reload requested (from cache %t) but no reloader is configured\n", fromCache)
}
