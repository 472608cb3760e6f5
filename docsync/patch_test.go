package docsync

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bringyour/docsync/docsync/dom"
)

const testMarkup = `<div data-wff-id="S1"><span data-wff-id="S2">a</span><span data-wff-id="S3">b</span></div>` +
	`<div data-wff-id="S4"></div>` +
	`<input data-wff-id="S5" type="checkbox">` +
	`<div data-wff-id="S6"><p data-wff-id="S7">c</p></div>`

type testEngine struct {
	t            *testing.T
	document     *dom.Node
	symbols      *Symbols
	taskValues   *TaskValues
	registry     *Registry
	engine       *Engine
	sender       *testSender
	calls        *AsyncCalls
	navigator    *Navigator
	scriptEngine *testScriptEngine
	reloader     *testReloader
}

func newTestEngine(t *testing.T) *testEngine {
	document := parseDocument(t, testMarkup)
	symbols := DefaultSymbols()
	taskValues := DefaultTaskValues()
	registry := NewRegistry(document)
	sender := &testSender{}
	calls := NewAsyncCalls(symbols, taskValues, registry, sender.send)
	navigator := NewNavigator(NewMemoryHistory("/"), calls)
	scriptEngine := &testScriptEngine{}
	reloader := &testReloader{}
	engine := NewEngine(symbols, taskValues, registry, &EngineCollaborators{
		Navigator:    navigator,
		Calls:        calls,
		ScriptEngine: scriptEngine,
		Reloader:     reloader,
	})
	return &testEngine{
		t:            t,
		document:     document,
		symbols:      symbols,
		taskValues:   taskValues,
		registry:     registry,
		engine:       engine,
		sender:       sender,
		calls:        calls,
		navigator:    navigator,
		scriptEngine: scriptEngine,
		reloader:     reloader,
	}
}

func (self *testEngine) node(idStr string) *dom.Node {
	id, err := ParseWffId(idStr)
	assert.Equal(self.t, err, nil)
	node, err := self.registry.Lookup("", id)
	if err != nil {
		return nil
	}
	return node
}

func (self *testEngine) idBytes(idStr string) []byte {
	id, err := ParseWffId(idStr)
	assert.Equal(self.t, err, nil)
	return id.Bytes()
}

func (self *testEngine) process(code TaskCode, records ...*NameValue) error {
	return self.engine.Process(self.taskValues.TaskMessage(code, records...))
}

func TestAppendedChildrenSubtree(t *testing.T) {
	e := newTestEngine(t)

	// root, a child of record 0, a grandchild of record 1
	subtree := EncodeMessage([]*NameValue{
		NewNameValue(nil, e.symbols.TagNameBytes("ul"), e.symbols.AttrNameValueBytes(WffIdAttr, "S10")),
		NewNameValue(OptimizedBytesFromInt(0), e.symbols.TagNameBytes("li"), e.symbols.AttrNameValueBytes("class", "item")),
		NewNameValue(OptimizedBytesFromInt(1), e.symbols.TagNameBytes(TextMarker), []byte("x")),
	})
	err := e.process(
		TaskAppendedChildrenTags,
		NewNameValue(e.idBytes("S1"), e.symbols.TagNameBytes("div"), subtree),
	)
	assert.Equal(t, err, nil)

	div := e.node("S1")
	assert.Equal(t, div.ChildCount(), 3)
	ul := div.LastChild()
	assert.Equal(t, ul.Name, "ul")
	assert.Equal(t, ul.ChildCount(), 1)
	li := ul.FirstChild()
	assert.Equal(t, li.Name, "li")
	v, _ := li.Attr("class")
	assert.Equal(t, v, "item")
	assert.Equal(t, li.ChildCount(), 1)
	assert.Equal(t, li.FirstChild().Type, dom.TextNode)
	assert.Equal(t, li.FirstChild().Data, "x")

	// the new root is addressable
	assert.Equal(t, e.node("S10") == ul, true)
}

func TestAppendedChildUnresolvedParentSkipped(t *testing.T) {
	e := newTestEngine(t)

	subtree := EncodeMessage([]*NameValue{
		NewNameValue(nil, e.symbols.TagNameBytes("b")),
	})
	err := e.process(
		TaskAppendedChildTag,
		NewNameValue(e.idBytes("S99"), e.symbols.TagNameBytes("div"), subtree),
		NewNameValue(e.idBytes("S4"), e.symbols.TagNameBytes("div"), subtree),
	)
	assert.Equal(t, err, nil)
	assert.Equal(t, e.node("S4").ChildCount(), 1)
	assert.Equal(t, e.node("S4").FirstChild().Name, "b")
}

func TestRemovedAllChildren(t *testing.T) {
	e := newTestEngine(t)

	// N = 2 and N = 0
	err := e.process(
		TaskRemovedAllChildrenTags,
		NewNameValue(e.idBytes("S1"), e.symbols.TagNameBytes("div")),
		NewNameValue(e.idBytes("S4"), e.symbols.TagNameBytes("div")),
	)
	assert.Equal(t, err, nil)
	assert.Equal(t, e.node("S1").ChildCount(), 0)
	assert.Equal(t, e.node("S4").ChildCount(), 0)

	// removed descendants are no longer addressable
	assert.Equal(t, e.node("S2") == nil, true)
	assert.Equal(t, e.node("S3") == nil, true)

	// N = many
	div := e.node("S4")
	for i := 0; i < 100; i++ {
		div.AppendChild(dom.NewElement("i"))
	}
	err = e.process(
		TaskRemovedAllChildrenTags,
		NewNameValue(e.idBytes("S4"), e.symbols.TagNameBytes("div")),
	)
	assert.Equal(t, err, nil)
	assert.Equal(t, div.ChildCount(), 0)
}

func TestRemovedTagsSkipsUnresolved(t *testing.T) {
	e := newTestEngine(t)

	err := e.process(
		TaskRemovedTags,
		NewNameValue(e.idBytes("S99"), e.symbols.TagNameBytes("span")),
		// wrong tag name for the id
		NewNameValue(e.idBytes("S3"), e.symbols.TagNameBytes("p")),
		NewNameValue(e.idBytes("S2"), e.symbols.TagNameBytes("span")),
	)
	assert.Equal(t, err, nil)
	assert.Equal(t, e.node("S2") == nil, true)
	assert.Equal(t, childIds(e.node("S1")), []string{"S3"})
}

func TestAttributeUpdated(t *testing.T) {
	e := newTestEngine(t)

	err := e.process(
		TaskAttributeUpdated,
		NewNameValue(e.symbols.AttrNameValueBytes("class", "on"), e.idBytes("S2"), e.idBytes("S99"), e.idBytes("S3")),
	)
	assert.Equal(t, err, nil)
	for _, idStr := range []string{"S2", "S3"} {
		node := e.node(idStr)
		v, ok := node.Attr("class")
		assert.Equal(t, ok, true)
		assert.Equal(t, v, "on")
		p, ok := node.Property("class")
		assert.Equal(t, ok, true)
		assert.Equal(t, p, "on")
	}
}

func TestBooleanAttributes(t *testing.T) {
	e := newTestEngine(t)
	manyToOne := []byte{e.taskValues.mustValue(TaskManyToOne)}

	err := e.process(
		TaskAddedAttributes,
		NewNameValue(
			manyToOne,
			e.symbols.TagNameBytes("input"),
			e.idBytes("S5"),
			e.symbols.AttrNameValueBytes("checked", ""),
			e.symbols.AttrNameValueBytes("value", "on"),
		),
	)
	assert.Equal(t, err, nil)
	input := e.node("S5")
	p, _ := input.Property("checked")
	assert.Equal(t, p, true)
	assert.Equal(t, input.HasAttr("checked"), true)
	p, _ = input.Property("value")
	assert.Equal(t, p, "on")

	err = e.process(
		TaskRemovedAttributes,
		NewNameValue(
			manyToOne,
			e.symbols.TagNameBytes("input"),
			e.idBytes("S5"),
			e.symbols.AttrNameBytes("checked"),
			e.symbols.AttrNameBytes("value"),
		),
	)
	assert.Equal(t, err, nil)
	p, _ = input.Property("checked")
	assert.Equal(t, p, false)
	assert.Equal(t, input.HasAttr("checked"), false)
	// plain properties are left alone
	p, _ = input.Property("value")
	assert.Equal(t, p, "on")
}

func TestMovedChildren(t *testing.T) {
	e := newTestEngine(t)

	p := e.node("S7")
	newSubtree := EncodeMessage([]*NameValue{
		NewNameValue(nil, e.symbols.TagNameBytes("b"), e.symbols.AttrNameValueBytes(WffIdAttr, "S20")),
	})
	err := e.process(
		TaskMovedChildrenTags,
		// existing child
		NewNameValue(e.idBytes("S4"), e.symbols.TagNameBytes("div"), e.idBytes("S7"), e.symbols.TagNameBytes("p"), EncodeSubtree(e.symbols, p)),
		// new child
		NewNameValue(e.idBytes("S4"), e.symbols.TagNameBytes("div"), e.idBytes("S20"), []byte{}, newSubtree),
	)
	assert.Equal(t, err, nil)
	assert.Equal(t, childIds(e.node("S4")), []string{"S7", "S20"})
	assert.Equal(t, e.node("S6").ChildCount(), 0)
	assert.Equal(t, e.node("S7") == p, true)
}

func TestTaskOfTasks(t *testing.T) {
	e := newTestEngine(t)

	m1 := e.taskValues.TaskMessage(TaskRemovedTags, NewNameValue(e.idBytes("S2"), e.symbols.TagNameBytes("span")))
	// malformed member
	m2 := []byte{9, 9, 9}
	m3 := e.taskValues.TaskMessage(TaskRemovedTags, NewNameValue(e.idBytes("S3"), e.symbols.TagNameBytes("span")))
	err := e.engine.Process(e.taskValues.TaskOfTasksMessage(m1, m2, m3))
	assert.Equal(t, err, nil)
	assert.Equal(t, e.node("S1").ChildCount(), 0)
}

func TestProcessFormatError(t *testing.T) {
	e := newTestEngine(t)

	var formatErr *FormatError
	err := e.engine.Process([]byte{1})
	assert.Equal(t, errors.As(err, &formatErr), true)

	m := e.taskValues.TaskMessage(TaskRemovedTags, NewNameValue(e.idBytes("S2"), e.symbols.TagNameBytes("span")))
	err = e.engine.Process(m[:len(m)-1])
	assert.Equal(t, errors.As(err, &formatErr), true)
	// nothing applied
	assert.Equal(t, e.node("S1").ChildCount(), 2)
}

func TestCopyInnerTextToValue(t *testing.T) {
	e := newTestEngine(t)

	err := e.process(
		TaskCopyInnerTextToValue,
		NewNameValue(e.symbols.TagNameBytes("div"), e.idBytes("S1")),
	)
	assert.Equal(t, err, nil)
	v, _ := e.node("S1").Property("value")
	assert.Equal(t, v, "ab")
}

func TestObjectOnTag(t *testing.T) {
	e := newTestEngine(t)

	obj, err := NewBMObject(map[string]any{"n": 1.0})
	assert.Equal(t, err, nil)
	objBytes, err := EncodeBMObject(obj)
	assert.Equal(t, err, nil)

	err = e.process(
		TaskSetBMObjOnTag,
		NewNameValue(e.symbols.TagNameBytes("div"), e.idBytes("S4"), []byte("state"), objBytes),
	)
	assert.Equal(t, err, nil)
	v, ok := e.node("S4").Object("state")
	assert.Equal(t, ok, true)
	assert.Equal(t, v.(*structpb.Struct).GetFields()["n"].GetNumberValue(), 1.0)

	err = e.process(
		TaskDelBMObjOrArrFromTag,
		NewNameValue(e.symbols.TagNameBytes("div"), e.idBytes("S4"), []byte("state")),
	)
	assert.Equal(t, err, nil)
	_, ok = e.node("S4").Object("state")
	assert.Equal(t, ok, false)
}

func TestExecAndPostFunction(t *testing.T) {
	e := newTestEngine(t)

	err := e.engine.Process(EncodeMessage([]*NameValue{
		NewNameValue(
			[]byte{e.taskValues.mustValue(TaskSingle)},
			[]byte{e.taskValues.mustValue(TaskExecJs)},
			[]byte("panic"),
		),
	}))
	// a failing script does not fail the message
	assert.Equal(t, err, nil)
	assert.Equal(t, e.scriptEngine.Execs(), []string{"panic"})

	arg, err := NewBMObject(map[string]any{"a": "b"})
	assert.Equal(t, err, nil)
	argBytes, err := EncodeBMObject(arg)
	assert.Equal(t, err, nil)
	err = e.process(TaskInvokePostFunction, NewNameValue([]byte("return a;"), argBytes))
	assert.Equal(t, err, nil)
	assert.Equal(t, e.scriptEngine.calls, []string{"return a;"})
	assert.Equal(t, e.scriptEngine.args[0].GetFields()["a"].GetStringValue(), "b")
}

func TestReload(t *testing.T) {
	e := newTestEngine(t)

	assert.Equal(t, e.process(TaskReloadBrowser), nil)
	assert.Equal(t, e.process(TaskReloadBrowserFromCache), nil)
	assert.Equal(t, e.reloader.reloads, []bool{false, true})
}

func TestInvokeCallbackFunction(t *testing.T) {
	e := newTestEngine(t)

	var results []*structpb.Struct
	err := e.calls.Invoke("save", nil, func(result *structpb.Struct) {
		results = append(results, result)
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, e.calls.Pending(), 1)

	result, err := NewBMObject(map[string]any{"ok": true})
	assert.Equal(t, err, nil)
	resultBytes, err := EncodeBMObject(result)
	assert.Equal(t, err, nil)

	err = e.process(TaskInvokeCallbackFunction, NewNameValue([]byte("1"), resultBytes))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(results), 1)
	assert.Equal(t, results[0].GetFields()["ok"].GetBoolValue(), true)
	assert.Equal(t, e.calls.Pending(), 0)

	// a second answer for the same id finds nothing
	err = e.process(TaskInvokeCallbackFunction, NewNameValue([]byte("1"), resultBytes))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(results), 1)
}

func TestServerSetUri(t *testing.T) {
	e := newTestEngine(t)

	events := []*UriEvent{}
	afterEvents := []*UriEvent{}
	e.navigator.OnSetUri(func(event *UriEvent) {
		events = append(events, event)
	})
	e.navigator.AfterSetUri(func(event *UriEvent) {
		afterEvents = append(afterEvents, event)
	})

	err := e.engine.Process(taskWithArgument(e.taskValues, TaskSetUri, map[string]any{
		"ua": "/b",
		"ub": "/",
		"o":  "S",
		"r":  false,
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, e.navigator.Location(), "/b")
	assert.Equal(t, len(events), 1)
	assert.Equal(t, events[0].Origin, OriginServer)
	assert.Equal(t, events[0].Initiator, InitiatorServerCode)
	assert.Equal(t, events[0].UriBefore, "/")
	// authority changes are not forwarded back
	assert.Equal(t, len(e.sender.Messages()), 0)

	// same uri is a no-op
	err = e.engine.Process(taskWithArgument(e.taskValues, TaskSetUri, map[string]any{
		"ua": "/b",
		"o":  "S",
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(events), 1)

	assert.Equal(t, e.process(TaskAfterSetUri), nil)
	assert.Equal(t, len(afterEvents), 1)
	assert.Equal(t, afterEvents[0].UriAfter, "/b")

	// the queue was drained
	assert.Equal(t, e.process(TaskAfterSetUri), nil)
	assert.Equal(t, len(afterEvents), 1)
}

func TestUnhandledStorageTaskWithoutCollaborator(t *testing.T) {
	e := newTestEngine(t)

	err := e.engine.Process(taskWithArgument(e.taskValues, TaskSetLSItem, map[string]any{
		"k":  "a",
		"v":  "1",
		"wt": "1",
		"id": 1.0,
	}))
	assert.Equal(t, err, nil)
}
