package docsync

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bringyour/docsync/docsync/dom"
)

func TestInvokeEvent(t *testing.T) {
	e := newTestEngine(t)

	arg, err := NewBMObject(map[string]any{"x": 1.0})
	assert.Equal(t, err, nil)

	// a node the authority named
	assert.Equal(t, e.calls.InvokeEvent(e.node("S2"), "onclick", arg), nil)
	code, records := decodeTask(t, e.taskValues, e.sender.Last())
	assert.Equal(t, code, TaskInvokeAsyncMethod)
	assert.Equal(t, records[0].Name, ServerWffId(2).Bytes())
	assert.Equal(t, records[0].Values[0], e.symbols.EventAttrBytes("onclick"))
	decoded, err := DecodeBMObject(records[0].Values[1])
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded.GetFields()["x"].GetNumberValue(), 1.0)

	// a local node gets a client id
	node := dom.NewElement("button")
	assert.Equal(t, e.node("S4").AppendChild(node), nil)
	assert.Equal(t, e.calls.InvokeEvent(node, "onmystery", nil), nil)
	_, records = decodeTask(t, e.taskValues, e.sender.Last())
	assert.Equal(t, records[0].Name, ClientWffId(0).Bytes())
	assert.Equal(t, records[0].Values, [][]byte{[]byte("onmystery")})
	id, ok := e.registry.IdOf(node)
	assert.Equal(t, ok, true)
	assert.Equal(t, id, ClientWffId(0))

	// the client id is stable
	assert.Equal(t, e.calls.InvokeEvent(node, "onclick", nil), nil)
	_, records = decodeTask(t, e.taskValues, e.sender.Last())
	assert.Equal(t, records[0].Name, ClientWffId(0).Bytes())

	assert.NotEqual(t, e.calls.InvokeEvent(dom.NewText("x"), "onclick", nil), nil)
}

func TestInvokeSendFailure(t *testing.T) {
	e := newTestEngine(t)
	e.sender.err = errors.New("closed")

	err := e.calls.Invoke("save", nil, func(result *structpb.Struct) {})
	assert.NotEqual(t, err, nil)
	assert.Equal(t, e.calls.Pending(), 0)
}

func TestInvokeCallbackPanic(t *testing.T) {
	e := newTestEngine(t)

	assert.Equal(t, e.calls.Invoke("save", nil, func(result *structpb.Struct) {
		panic("callback")
	}), nil)
	// the panic does not unwind the engine
	assert.Equal(t, e.process(TaskInvokeCallbackFunction, NewNameValue([]byte("1"))), nil)
	assert.Equal(t, e.calls.Pending(), 0)
}

func TestInvokeIdsCountUp(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < 3; i++ {
		assert.Equal(t, e.calls.Invoke("m", nil, func(result *structpb.Struct) {}), nil)
		_, records := decodeTask(t, e.taskValues, e.sender.Last())
		assert.Equal(t, string(records[1].Name), []string{"1", "2", "3"}[i])
	}
	assert.Equal(t, e.calls.Pending(), 3)

	// no callback, no id
	assert.Equal(t, e.calls.Invoke("m", nil, nil), nil)
	_, records := decodeTask(t, e.taskValues, e.sender.Last())
	assert.Equal(t, len(records), 1)
}
