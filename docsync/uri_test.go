package docsync

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestMemoryHistory(t *testing.T) {
	history := NewMemoryHistory("/")
	history.Push("/a")
	history.Push("/b")
	assert.Equal(t, history.Location(), "/b")
	assert.Equal(t, history.Len(), 3)

	uri, ok := history.Back()
	assert.Equal(t, ok, true)
	assert.Equal(t, uri, "/a")

	// push drops forward entries
	history.Push("/c")
	assert.Equal(t, history.Len(), 3)
	history.Replace("/d")
	assert.Equal(t, history.Location(), "/d")

	history.Back()
	history.Back()
	_, ok = history.Back()
	assert.Equal(t, ok, false)
	assert.Equal(t, history.Location(), "/")
}

func TestNavigatorSetUri(t *testing.T) {
	e := newTestEngine(t)

	order := []string{}
	e.navigator.OnSetUri(func(event *UriEvent) {
		order = append(order, "on "+event.UriAfter)
		assert.Equal(t, event.Origin, OriginClient)
		assert.Equal(t, event.Initiator, InitiatorClientCode)
	})
	e.navigator.AfterSetUri(func(event *UriEvent) {
		order = append(order, "after "+event.UriAfter)
	})

	changed, err := e.navigator.SetUri("/a", false, func(event *UriEvent) {
		order = append(order, "onSet "+event.UriAfter)
	}, func(event *UriEvent) {
		order = append(order, "afterSet "+event.UriAfter)
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, changed, true)
	assert.Equal(t, e.navigator.Location(), "/a")
	assert.Equal(t, order, []string{"on /a", "onSet /a"})

	code, records := decodeTask(t, e.taskValues, e.sender.Last())
	assert.Equal(t, code, TaskClientPathnameChanged)
	assert.Equal(t, string(records[0].Name), "/a")
	callbackId := string(records[1].Name)

	// hooks added after the change do not see it
	e.navigator.AfterSetUri(func(event *UriEvent) {
		order = append(order, "late "+event.UriAfter)
	})

	err = e.process(TaskInvokeCallbackFunction, NewNameValue([]byte(callbackId)))
	assert.Equal(t, err, nil)
	assert.Equal(t, order, []string{"on /a", "onSet /a", "afterSet /a", "after /a"})

	changed, err = e.navigator.SetUri("/a", false, nil, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, changed, false)
	assert.Equal(t, len(e.sender.Messages()), 1)
}

func TestNavigatorSetUriWithoutHooks(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.navigator.SetUri("/a", true, nil, nil)
	assert.Equal(t, err, nil)
	_, records := decodeTask(t, e.taskValues, e.sender.Last())
	// no callback record
	assert.Equal(t, len(records), 1)
	assert.Equal(t, e.calls.Pending(), 0)
}

func TestNavigatorBrowserNavigated(t *testing.T) {
	document := parseDocument(t, testMarkup)
	taskValues := DefaultTaskValues()
	sender := &testSender{}
	calls := NewAsyncCalls(DefaultSymbols(), taskValues, NewRegistry(document), sender.send)
	history := NewMemoryHistory("/")
	navigator := NewNavigator(history, calls)

	events := []*UriEvent{}
	navigator.OnSetUri(func(event *UriEvent) {
		events = append(events, event)
	})

	_, err := navigator.SetUri("/a", false, nil, nil)
	assert.Equal(t, err, nil)
	uri, _ := history.Back()
	assert.Equal(t, navigator.BrowserNavigated(uri), nil)
	assert.Equal(t, len(events), 2)
	assert.Equal(t, events[1].Initiator, InitiatorBrowser)
	assert.Equal(t, events[1].UriBefore, "/a")
	assert.Equal(t, events[1].UriAfter, "/")

	code, records := decodeTask(t, taskValues, sender.Last())
	assert.Equal(t, code, TaskClientPathnameChanged)
	assert.Equal(t, records[0].Values, [][]byte{{byte(InitiatorBrowser)}})
}

func TestNavigatorHashChange(t *testing.T) {
	document := parseDocument(t, testMarkup)
	taskValues := DefaultTaskValues()
	sender := &testSender{}
	calls := NewAsyncCalls(DefaultSymbols(), taskValues, NewRegistry(document), sender.send)
	history := NewMemoryHistory("/a")
	navigator := NewNavigator(history, calls)

	events := []*UriEvent{}
	navigator.OnSetUri(func(event *UriEvent) {
		events = append(events, event)
	})

	changed, err := navigator.SetUri("/a#x", false, nil, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, changed, true)
	assert.Equal(t, history.Len(), 2)
	assert.Equal(t, history.Location(), "/a#x")
	assert.Equal(t, len(events), 1)
	assert.Equal(t, events[0].UriBefore, "/a")
	assert.Equal(t, events[0].UriAfter, "/a#x")

	code, records := decodeTask(t, taskValues, sender.Last())
	assert.Equal(t, code, TaskClientPathnameChanged)
	assert.Equal(t, string(records[0].Name), "/a#x")

	// back to the same path without the hash is also a change
	changed, err = navigator.SetUri("/a", true, nil, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, changed, true)
	assert.Equal(t, history.Len(), 2)
	assert.Equal(t, len(sender.Messages()), 2)
}

func TestNavigatorServerHashChange(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.navigator.SetUri("/a", false, nil, nil)
	assert.Equal(t, err, nil)
	sent := len(e.sender.Messages())

	events := []*UriEvent{}
	e.navigator.OnSetUri(func(event *UriEvent) {
		events = append(events, event)
	})

	err = e.engine.Process(taskWithArgument(e.taskValues, TaskSetUri, map[string]any{
		"ua": "/a#x",
		"ub": "/a",
		"o":  "S",
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, e.navigator.Location(), "/a#x")
	assert.Equal(t, len(events), 1)
	assert.Equal(t, events[0].Origin, OriginServer)
	assert.Equal(t, events[0].UriBefore, "/a")
	assert.Equal(t, events[0].UriAfter, "/a#x")
	// changes from the authority are not sent back
	assert.Equal(t, len(e.sender.Messages()), sent)

	// a browser navigation afterwards starts from the hash location
	assert.Equal(t, e.navigator.BrowserNavigated("/a"), nil)
	assert.Equal(t, events[1].UriBefore, "/a#x")
}

func TestNavigatorServerClientOrigin(t *testing.T) {
	e := newTestEngine(t)

	onCount := 0
	afterEvents := []*UriEvent{}
	e.navigator.OnSetUri(func(event *UriEvent) {
		onCount += 1
	})
	e.navigator.AfterSetUri(func(event *UriEvent) {
		afterEvents = append(afterEvents, event)
	})

	// a change the authority made on behalf of client code
	err := e.engine.Process(taskWithArgument(e.taskValues, TaskSetUri, map[string]any{
		"ua": "/c",
		"r":  true,
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, e.navigator.Location(), "/c")
	assert.Equal(t, onCount, 0)

	assert.Equal(t, e.process(TaskAfterSetUri), nil)
	assert.Equal(t, len(afterEvents), 1)
	assert.Equal(t, afterEvents[0].Origin, OriginClient)
	assert.Equal(t, afterEvents[0].UriBefore, "/")
	assert.Equal(t, afterEvents[0].Replace, true)

	// a missing uri is ignored
	err = e.engine.Process(taskWithArgument(e.taskValues, TaskSetUri, map[string]any{}))
	assert.Equal(t, err, nil)
	assert.Equal(t, e.navigator.Location(), "/c")
}

func TestUriEventInitiatorString(t *testing.T) {
	assert.Equal(t, InitiatorBrowser.String(), "browser")
	assert.Equal(t, InitiatorServerCode.String(), "serverCode")
	assert.Equal(t, UriEventInitiator(9).String(), "UriEventInitiator(9)")
}
