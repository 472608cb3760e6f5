package docsync

import (
	"context"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bringyour/docsync/docsync/dom"
)

// test collaborators shared by the package tests

type testSender struct {
	stateLock sync.Mutex
	messages  [][]byte
	err       error
}

func (self *testSender) send(message []byte) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.err != nil {
		return self.err
	}
	self.messages = append(self.messages, append([]byte{}, message...))
	return nil
}

func (self *testSender) Messages() [][]byte {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return append([][]byte{}, self.messages...)
}

func (self *testSender) Last() []byte {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if len(self.messages) == 0 {
		return nil
	}
	return self.messages[len(self.messages)-1]
}

type testScriptEngine struct {
	stateLock sync.Mutex
	execs     []string
	calls     []string
	args      []*structpb.Struct
}

func (self *testScriptEngine) Exec(script string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.execs = append(self.execs, script)
	if script == "panic" {
		panic("script panic")
	}
	return nil
}

func (self *testScriptEngine) Call(functionBody string, arg *structpb.Struct) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.calls = append(self.calls, functionBody)
	self.args = append(self.args, arg)
	return nil
}

func (self *testScriptEngine) Execs() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return append([]string{}, self.execs...)
}

type testReloader struct {
	reloads []bool
}

func (self *testReloader) Reload(fromCache bool) {
	self.reloads = append(self.reloads, fromCache)
}

type testConn struct {
	handler *ConnHandler

	stateLock sync.Mutex
	sent      [][]byte
	closed    bool
	sendErr   error
}

func (self *testConn) Send(message []byte) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.closed {
		return ErrChannelClosed
	}
	if self.sendErr != nil {
		return self.sendErr
	}
	self.sent = append(self.sent, append([]byte{}, message...))
	return nil
}

func (self *testConn) Close() error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.closed = true
	return nil
}

func (self *testConn) Sent() [][]byte {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return append([][]byte{}, self.sent...)
}

func (self *testConn) Closed() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.closed
}

// testDialer hands out connections whose events are driven by the test
type testDialer struct {
	stateLock sync.Mutex
	attempts  int
	conns     []*testConn
	dialErr   error
}

func (self *testDialer) Dial(ctx context.Context, url string, handler *ConnHandler) (Conn, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.attempts += 1
	if self.dialErr != nil {
		return nil, self.dialErr
	}
	conn := &testConn{
		handler: handler,
	}
	self.conns = append(self.conns, conn)
	return conn, nil
}

func (self *testDialer) Attempts() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.attempts
}

func (self *testDialer) Conns() []*testConn {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return append([]*testConn{}, self.conns...)
}

func (self *testDialer) Last() *testConn {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if len(self.conns) == 0 {
		return nil
	}
	return self.conns[len(self.conns)-1]
}

func decodeTask(t *testing.T, taskValues *TaskValues, message []byte) (TaskCode, []*NameValue) {
	nameValues, err := DecodeMessage(message)
	assert.Equal(t, err, nil)
	assert.Equal(t, taskValues.is(nameValues[0].Name, TaskSingle), true)
	return taskValues.Code(nameValues[0].Values[0][0]), nameValues[1:]
}

// taskWithArgument builds a task whose argument object rides in the task record
func taskWithArgument(taskValues *TaskValues, code TaskCode, m map[string]any) []byte {
	obj, err := NewBMObject(m)
	if err != nil {
		panic(err)
	}
	b, err := EncodeBMObject(obj)
	if err != nil {
		panic(err)
	}
	return EncodeMessage([]*NameValue{
		NewNameValue(
			[]byte{taskValues.mustValue(TaskSingle)},
			[]byte{taskValues.mustValue(code)},
			b,
		),
	})
}

func parseDocument(t *testing.T, markup string) *dom.Node {
	fragment, err := dom.ParseFragment(markup)
	assert.Equal(t, err, nil)
	document := dom.NewDocument()
	assert.Equal(t, document.AppendChild(fragment), nil)
	return document
}

func childIds(node *dom.Node) []string {
	ids := []string{}
	for _, c := range node.Children() {
		if c.Type == dom.TextNode {
			ids = append(ids, "#"+c.Data)
			continue
		}
		v, _ := c.Attr(WffIdAttr)
		ids = append(ids, v)
	}
	return ids
}
