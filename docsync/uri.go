package docsync

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
	"google.golang.org/protobuf/types/known/structpb"
)

type UriEventInitiator byte

const (
	InitiatorBrowser UriEventInitiator = iota
	InitiatorClientCode
	InitiatorServerCode
)

func (self UriEventInitiator) String() string {
	switch self {
	case InitiatorBrowser:
		return "browser"
	case InitiatorClientCode:
		return "clientCode"
	case InitiatorServerCode:
		return "serverCode"
	default:
		return fmt.Sprintf("UriEventInitiator(%d)", int(self))
	}
}

type UriEventOrigin string

const (
	OriginClient UriEventOrigin = "client"
	OriginServer UriEventOrigin = "server"
)

type UriEvent struct {
	UriBefore string
	UriAfter  string
	Origin    UriEventOrigin
	Initiator UriEventInitiator
	Replace   bool
}

// History is the session-visible location.
type History interface {
	Location() string
	Push(uri string)
	Replace(uri string)
}

type MemoryHistory struct {
	stateLock sync.Mutex
	entries   []string
	index     int
}

func NewMemoryHistory(uri string) *MemoryHistory {
	return &MemoryHistory{
		entries: []string{uri},
	}
}

func (self *MemoryHistory) Location() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.entries[self.index]
}

func (self *MemoryHistory) Push(uri string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.entries = append(self.entries[:self.index+1], uri)
	self.index += 1
}

func (self *MemoryHistory) Replace(uri string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.entries[self.index] = uri
}

// Back moves to the previous entry and returns its uri.
func (self *MemoryHistory) Back() (string, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.index == 0 {
		return "", false
	}
	self.index -= 1
	return self.entries[self.index], true
}

func (self *MemoryHistory) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.entries)
}

// Navigator owns the location state and the navigation hooks.
// Changes made locally are forwarded to the authority; changes made by the authority are not.
type Navigator struct {
	history History
	calls   *AsyncCalls

	stateLock sync.Mutex
	// the location as of the last change this navigator saw
	location string
	// authority changes waiting for the after set acknowledgement
	uriChangeQueue []*UriEvent

	onSetUriCallbacks    CallbackList[func(event *UriEvent)]
	afterSetUriCallbacks CallbackList[func(event *UriEvent)]
}

func NewNavigator(history History, calls *AsyncCalls) *Navigator {
	return &Navigator{
		history:  history,
		calls:    calls,
		location: history.Location(),
	}
}

// updateLocation records `uri` and returns the previous known location.
func (self *Navigator) updateLocation(uri string) string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	location := self.location
	self.location = uri
	return location
}

func (self *Navigator) Location() string {
	return self.history.Location()
}

// OnSetUri is the global hook called for every location change.
func (self *Navigator) OnSetUri(callback func(event *UriEvent)) func() {
	return self.onSetUriCallbacks.Add(callback)
}

// AfterSetUri is the global hook called once the authority has applied a change.
func (self *Navigator) AfterSetUri(callback func(event *UriEvent)) func() {
	return self.afterSetUriCallbacks.Add(callback)
}

func (self *Navigator) fire(callbacks []func(event *UriEvent), event *UriEvent) {
	for _, callback := range callbacks {
		HandleError(func() {
			callback(event)
		})
	}
}

func (self *Navigator) apply(uri string, replace bool) {
	if replace {
		self.history.Replace(uri)
	} else {
		self.history.Push(uri)
	}
}

// SetUri changes the location from local code. Nothing happens when the uri is the current location.
// `onSet` runs after the global hook. `afterSet` runs once the authority acknowledges, before the global hook.
func (self *Navigator) SetUri(uri string, replace bool, onSet func(event *UriEvent), afterSet func(event *UriEvent)) (bool, error) {
	uriBefore := self.history.Location()
	if uri == uriBefore {
		return false, nil
	}
	self.apply(uri, replace)
	self.updateLocation(uri)
	event := &UriEvent{
		UriBefore: uriBefore,
		UriAfter:  uri,
		Origin:    OriginClient,
		Initiator: InitiatorClientCode,
		Replace:   replace,
	}
	glog.V(2).Infof("[u]%s -> %s\n", uriBefore, uri)

	self.fire(self.onSetUriCallbacks.Get(), event)
	if onSet != nil {
		self.fire([]func(event *UriEvent){onSet}, event)
	}

	// the global hook list is captured now
	afterSetUriCallbacks := self.afterSetUriCallbacks.Get()
	if afterSet != nil {
		afterSetUriCallbacks = append([]func(event *UriEvent){afterSet}, afterSetUriCallbacks...)
	}
	var callback func(result *structpb.Struct)
	if 0 < len(afterSetUriCallbacks) {
		callback = func(result *structpb.Struct) {
			self.fire(afterSetUriCallbacks, event)
		}
	}
	return true, self.calls.ClientPathnameChanged(uri, InitiatorClientCode, callback)
}

// BrowserNavigated reports a location change made by the user agent, e.g. back navigation.
// The history is already at `uri`.
func (self *Navigator) BrowserNavigated(uri string) error {
	event := &UriEvent{
		UriBefore: self.updateLocation(uri),
		UriAfter:  uri,
		Origin:    OriginClient,
		Initiator: InitiatorBrowser,
	}
	self.fire(self.onSetUriCallbacks.Get(), event)

	afterSetUriCallbacks := self.afterSetUriCallbacks.Get()
	var callback func(result *structpb.Struct)
	if 0 < len(afterSetUriCallbacks) {
		callback = func(result *structpb.Struct) {
			self.fire(afterSetUriCallbacks, event)
		}
	}
	return self.calls.ClientPathnameChanged(uri, InitiatorBrowser, callback)
}

// serverSetUri applies `{ua, ub, o, r}` from the authority: uri after, uri before, origin, replace.
func (self *Navigator) serverSetUri(obj *structpb.Struct) {
	uriAfter, _ := bmString(obj, "ua")
	if uriAfter == "" {
		return
	}
	uriBefore, ok := bmString(obj, "ub")
	if !ok {
		uriBefore = self.history.Location()
	}
	if uriAfter == uriBefore || uriAfter == self.history.Location() {
		return
	}
	replace, _ := bmBool(obj, "r")
	origin, _ := bmString(obj, "o")

	event := &UriEvent{
		UriBefore: uriBefore,
		UriAfter:  uriAfter,
		Origin:    OriginClient,
		Initiator: InitiatorClientCode,
		Replace:   replace,
	}
	if origin == "S" {
		event.Origin = OriginServer
		event.Initiator = InitiatorServerCode
	}
	self.apply(uriAfter, replace)
	self.updateLocation(uriAfter)
	glog.V(2).Infof("[u]server %s -> %s\n", uriBefore, uriAfter)

	self.stateLock.Lock()
	self.uriChangeQueue = append(self.uriChangeQueue, event)
	self.stateLock.Unlock()

	if event.Origin == OriginServer {
		self.fire(self.onSetUriCallbacks.Get(), event)
	}
}

func (self *Navigator) serverAfterSetUri() {
	self.stateLock.Lock()
	events := self.uriChangeQueue
	self.uriChangeQueue = nil
	self.stateLock.Unlock()

	callbacks := self.afterSetUriCallbacks.Get()
	for _, event := range events {
		self.fire(callbacks, event)
	}
}
