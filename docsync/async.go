package docsync

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/golang/glog"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bringyour/docsync/docsync/dom"
)

// AsyncCalls sends local calls to the authority.
// A call with a callback is kept pending until the authority answers with its callback id.
type AsyncCalls struct {
	symbols    *Symbols
	taskValues *TaskValues
	registry   *Registry
	send       func(message []byte) error

	stateLock sync.Mutex
	lastId    uint64
	callbacks map[string]func(result *structpb.Struct)
}

func NewAsyncCalls(
	symbols *Symbols,
	taskValues *TaskValues,
	registry *Registry,
	send func(message []byte) error,
) *AsyncCalls {
	return &AsyncCalls{
		symbols:    symbols,
		taskValues: taskValues,
		registry:   registry,
		send:       send,
		callbacks:  map[string]func(result *structpb.Struct){},
	}
}

// ids count up from "1" for the life of the session
func (self *AsyncCalls) pend(callback func(result *structpb.Struct)) string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.lastId += 1
	id := strconv.FormatUint(self.lastId, 10)
	self.callbacks[id] = callback
	return id
}

func (self *AsyncCalls) unpend(id string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	delete(self.callbacks, id)
}

func (self *AsyncCalls) Pending() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.callbacks)
}

// sendWithCallback appends the callback record {name: callback id} when a callback is given.
func (self *AsyncCalls) sendWithCallback(code TaskCode, nameValues []*NameValue, callback func(result *structpb.Struct)) error {
	var callbackId string
	if callback != nil {
		callbackId = self.pend(callback)
		nameValues = append(nameValues, NewNameValue([]byte(callbackId)))
	}
	message := self.taskValues.TaskMessage(code, nameValues...)
	if err := self.send(message); err != nil {
		if callback != nil {
			self.unpend(callbackId)
		}
		return err
	}
	glog.V(2).Infof("[a]%s callback=%q\n", code, callbackId)
	return nil
}

// Invoke calls a named server method: {name: method, values: [argument?]}, {name: callback id}?
func (self *AsyncCalls) Invoke(methodName string, arg *structpb.Struct, callback func(result *structpb.Struct)) error {
	values := [][]byte{}
	if arg != nil {
		argBytes, err := EncodeBMObject(arg)
		if err != nil {
			return err
		}
		values = append(values, argBytes)
	}
	return self.sendWithCallback(
		TaskInvokeCustomServerMethod,
		[]*NameValue{NewNameValue([]byte(methodName), values...)},
		callback,
	)
}

// InvokeEvent reports an event fired on a node: {name: wff id, values: [event attribute, argument?]}
func (self *AsyncCalls) InvokeEvent(node *dom.Node, eventAttr string, arg *structpb.Struct) error {
	if node.Type != dom.ElementNode {
		return fmt.Errorf("Event on a non-element node.")
	}
	id := self.registry.ClientId(node)
	values := [][]byte{self.symbols.EventAttrBytes(eventAttr)}
	if arg != nil {
		argBytes, err := EncodeBMObject(arg)
		if err != nil {
			return err
		}
		values = append(values, argBytes)
	}
	message := self.taskValues.TaskMessage(TaskInvokeAsyncMethod, NewNameValue(id.Bytes(), values...))
	return self.send(message)
}

// ClientPathnameChanged: {name: uri, values: [[initiator]]}, {name: callback id}?
func (self *AsyncCalls) ClientPathnameChanged(uri string, initiator UriEventInitiator, callback func(result *structpb.Struct)) error {
	return self.sendWithCallback(
		TaskClientPathnameChanged,
		[]*NameValue{NewNameValue([]byte(uri), []byte{byte(initiator)})},
		callback,
	)
}

// invokeCallback runs and removes a pending callback. Returns false when no callback is pending for the id.
func (self *AsyncCalls) invokeCallback(id string, result *structpb.Struct) bool {
	self.stateLock.Lock()
	callback, ok := self.callbacks[id]
	delete(self.callbacks, id)
	self.stateLock.Unlock()

	if !ok {
		return false
	}
	HandleError(func() {
		callback(result)
	})
	return true
}
