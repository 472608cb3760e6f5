package docsync

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bringyour/docsync/docsync/dom"
)

// session storage slot holding the instance id of the page last loaded in this tab
const InstanceIdSlot = "WFF_INSTANCE_ID"

type SessionSettings struct {
	// cadence of the channel watchdog
	WatchdogInterval time.Duration
}

func DefaultSessionSettings() *SessionSettings {
	return &SessionSettings{
		WatchdogInterval: 5 * time.Second,
	}
}

// SessionCollaborators are supplied by the host. Nil members get in-memory defaults.
type SessionCollaborators struct {
	Dialer         Dialer
	Storage        Storage
	SessionStorage SessionStorage
	History        History
	ScriptEngine   ScriptEngine
	Reloader       Reloader
	Clock          Clock
}

// Session is the runtime context of one page. It owns the identity registry, the pending calls,
// the outbound queue (through the channel), the storage replication state and the uri queue.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	bootstrap *Bootstrap
	settings  *SessionSettings
	clock     Clock

	symbols        *Symbols
	taskValues     *TaskValues
	document       *dom.Node
	registry       *Registry
	channel        *Channel
	calls          *AsyncCalls
	navigator      *Navigator
	storageSync    *StorageSync
	engine         *Engine
	sessionStorage SessionStorage

	// the tree is touched by the receive path and by `WithTree`
	treeLock sync.Mutex

	stateLock            sync.Mutex
	started              bool
	removedPrevInstance  bool
	watchdogTimer        Timer
	payloadLossCallbacks CallbackList[func()]
	unsubscribeCallbacks []func()
}

func NewSessionWithDefaults(
	ctx context.Context,
	bootstrap *Bootstrap,
	document *dom.Node,
	collaborators *SessionCollaborators,
) (*Session, error) {
	return NewSession(ctx, bootstrap, document, collaborators, DefaultSessionSettings())
}

func NewSession(
	ctx context.Context,
	bootstrap *Bootstrap,
	document *dom.Node,
	collaborators *SessionCollaborators,
	settings *SessionSettings,
) (*Session, error) {
	taskValues, err := bootstrap.TaskValueTable()
	if err != nil {
		return nil, err
	}
	if document == nil {
		document = dom.NewDocument()
	}
	if collaborators == nil {
		collaborators = &SessionCollaborators{}
	}
	if collaborators.Dialer == nil {
		collaborators.Dialer = NewWsDialerWithDefaults()
	}
	if collaborators.Storage == nil {
		collaborators.Storage = NewMemoryStorageProfile().Handle()
	}
	if collaborators.SessionStorage == nil {
		collaborators.SessionStorage = NewMemorySessionStorage()
	}
	if collaborators.History == nil {
		collaborators.History = NewMemoryHistory(bootstrap.Uri)
	}
	if collaborators.ScriptEngine == nil {
		collaborators.ScriptEngine = &NoScriptEngine{}
	}
	if collaborators.Clock == nil {
		collaborators.Clock = SystemClock()
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	session := &Session{
		ctx:            cancelCtx,
		cancel:         cancel,
		bootstrap:      bootstrap,
		settings:       settings,
		clock:          collaborators.Clock,
		symbols:        bootstrap.Symbols(),
		taskValues:     taskValues,
		document:       document,
		sessionStorage: collaborators.SessionStorage,
	}
	session.registry = NewRegistry(document)

	channelSettings := bootstrap.ChannelSettings()
	channelSettings.Clock = collaborators.Clock
	session.channel = NewChannel(cancelCtx, bootstrap.WsUrl, collaborators.Dialer, session.receive, channelSettings)

	session.calls = NewAsyncCalls(session.symbols, taskValues, session.registry, session.channel.Send)
	session.navigator = NewNavigator(collaborators.History, session.calls)
	session.storageSync = NewStorageSync(
		collaborators.Storage,
		taskValues,
		bootstrap.InstanceId,
		bootstrap.NodeId,
		session.channel.Send,
		collaborators.ScriptEngine,
	)
	session.engine = NewEngine(session.symbols, taskValues, session.registry, &EngineCollaborators{
		Navigator:    session.navigator,
		StorageSync:  session.storageSync,
		Calls:        session.calls,
		ScriptEngine: collaborators.ScriptEngine,
		Reloader:     collaborators.Reloader,
	})

	session.unsubscribeCallbacks = append(session.unsubscribeCallbacks,
		session.channel.OnOpen(session.removePrevInstance),
		session.channel.OnReplace(session.announceFreshSession),
		session.channel.OnPayloadLoss(session.payloadLoss),
	)
	return session, nil
}

func (self *Session) Document() *dom.Node {
	return self.document
}

func (self *Session) Registry() *Registry {
	return self.registry
}

func (self *Session) Channel() *Channel {
	return self.channel
}

func (self *Session) Calls() *AsyncCalls {
	return self.calls
}

func (self *Session) Navigator() *Navigator {
	return self.navigator
}

func (self *Session) Symbols() *Symbols {
	return self.symbols
}

func (self *Session) TaskValues() *TaskValues {
	return self.taskValues
}

// OnPayloadLoss is called at most once per session when lossless mode detects a gap.
func (self *Session) OnPayloadLoss(callback func()) func() {
	return self.payloadLossCallbacks.Add(callback)
}

// WithTree runs `do` while no inbound message is being applied.
func (self *Session) WithTree(do func(document *dom.Node)) {
	self.treeLock.Lock()
	defer self.treeLock.Unlock()
	do(self.document)
}

func (self *Session) receive(message []byte) {
	self.treeLock.Lock()
	defer self.treeLock.Unlock()

	var err error
	if glog.V(2) {
		Trace("[p]process", func() {
			err = self.engine.Process(message)
		})
	} else {
		err = self.engine.Process(message)
	}
	if err != nil {
		glog.Infof("[p]message dropped = %s\n", err)
	}
}

// Start queues the initial open message, opens the channel and starts the watchdog.
func (self *Session) Start() error {
	self.stateLock.Lock()
	if self.started {
		self.stateLock.Unlock()
		return nil
	}
	self.started = true
	self.stateLock.Unlock()

	message, err := self.initialOpenMessage()
	if err != nil {
		return err
	}
	if err := self.channel.Send(message); err != nil {
		return err
	}
	self.channel.Open()

	self.stateLock.Lock()
	self.armWatchdogWithLock()
	self.stateLock.Unlock()
	return nil
}

// initial open: {name: [SET_URI], values: [[initiator], uri]}, {name: [SET_LS_TOKEN], values: [tokens]}?
func (self *Session) initialOpenMessage() ([]byte, error) {
	nameValues := []*NameValue{
		NewNameValue(
			[]byte{self.taskValues.mustValue(TaskSetUri)},
			[]byte{byte(InitiatorBrowser)},
			[]byte(self.navigator.Location()),
		),
	}
	tokens, err := self.storageSync.TokenBatch()
	if err != nil {
		return nil, err
	}
	if tokens != nil {
		nameValues = append(nameValues, tokens)
	}
	return self.taskValues.TaskMessage(TaskInitialWsOpen, nameValues...), nil
}

func (self *Session) armWatchdogWithLock() {
	if self.settings.WatchdogInterval <= 0 {
		return
	}
	self.watchdogTimer = self.clock.AfterFunc(self.settings.WatchdogInterval, self.watchdog)
}

func (self *Session) watchdog() {
	select {
	case <-self.ctx.Done():
		return
	default:
	}
	self.channel.CheckLiveness()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	select {
	case <-self.ctx.Done():
		return
	default:
	}
	self.armWatchdogWithLock()
}

func (self *Session) removeBrowserPageMessage(instanceId string) []byte {
	return self.taskValues.TaskMessage(TaskRemoveBrowserPage, NewNameValue([]byte(instanceId)))
}

// on the first open, a different instance recorded for this tab is announced for removal
func (self *Session) removePrevInstance() {
	if !self.bootstrap.RemovePrevInstanceOnInit {
		return
	}
	self.stateLock.Lock()
	if self.removedPrevInstance {
		self.stateLock.Unlock()
		return
	}
	self.removedPrevInstance = true
	self.stateLock.Unlock()

	if prevInstanceId, ok := self.sessionStorage.Get(InstanceIdSlot); ok && prevInstanceId != self.bootstrap.InstanceId {
		glog.V(1).Infof("[c]remove previous instance %s\n", prevInstanceId)
		if err := self.channel.Send(self.removeBrowserPageMessage(prevInstanceId)); err != nil {
			glog.Infof("[c]remove previous instance = %s\n", err)
		}
	}
	self.sessionStorage.Set(InstanceIdSlot, self.bootstrap.InstanceId)
}

func (self *Session) announceFreshSession() {
	if err := self.channel.Announce(self.taskValues.TaskMessage(TaskFreshSessionPing)); err != nil {
		glog.Infof("[c]fresh session ping = %s\n", err)
	}
}

func (self *Session) payloadLoss() {
	for _, callback := range self.payloadLossCallbacks.Get() {
		HandleError(callback)
	}
}

// Invoke calls a named method on the authority.
func (self *Session) Invoke(methodName string, arg *structpb.Struct, callback func(result *structpb.Struct)) error {
	return self.calls.Invoke(methodName, arg, callback)
}

// SetUri changes the location and forwards it to the authority.
func (self *Session) SetUri(uri string, onSet func(event *UriEvent), afterSet func(event *UriEvent)) (bool, error) {
	return self.navigator.SetUri(uri, false, onSet, afterSet)
}

// TagCreated asks the authority to adopt a locally built subtree under `parent`:
// {name: parent wff id, values: [subtree]}. Elements without an id get client ids.
func (self *Session) TagCreated(parent *dom.Node, node *dom.Node) error {
	parentId := self.registry.ClientId(parent)
	dom.Walk(node, func(n *dom.Node) bool {
		if n.Type == dom.ElementNode {
			self.registry.ClientId(n)
		}
		return true
	})
	message := self.taskValues.TaskMessage(
		TaskTagCreated,
		NewNameValue(parentId.Bytes(), EncodeSubtree(self.symbols, node)),
	)
	return self.channel.Send(message)
}

// TagDeleted asks the authority to remove a node: {name: wff id}.
func (self *Session) TagDeleted(node *dom.Node) error {
	id, ok := self.registry.IdOf(node)
	if !ok {
		return &UnresolvedIdentityError{
			TagName: node.Name,
		}
	}
	return self.channel.Send(self.taskValues.TaskMessage(TaskTagDeleted, NewNameValue(id.Bytes())))
}

// AttributeUpdated reports a local attribute change: {name: attribute, values: [wff id]}.
func (self *Session) AttributeUpdated(node *dom.Node, name string, value string) error {
	id := self.registry.ClientId(node)
	message := self.taskValues.TaskMessage(
		TaskAttributeUpdated,
		NewNameValue(self.symbols.AttrNameValueBytes(name, value), id.Bytes()),
	)
	return self.channel.Send(message)
}

// Close optionally announces this instance for removal, then closes the channel.
func (self *Session) Close() {
	if self.bootstrap.RemovePrevInstanceOnClose {
		if instanceId, ok := self.sessionStorage.Get(InstanceIdSlot); ok {
			self.channel.Send(self.removeBrowserPageMessage(instanceId))
		}
	}
	self.cancel()

	self.stateLock.Lock()
	if self.watchdogTimer != nil {
		self.watchdogTimer.Stop()
		self.watchdogTimer = nil
	}
	unsubscribeCallbacks := self.unsubscribeCallbacks
	self.unsubscribeCallbacks = nil
	self.stateLock.Unlock()

	for _, unsubscribe := range unsubscribeCallbacks {
		unsubscribe()
	}
	self.channel.Close()
	self.storageSync.Close()
}
