package docsync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/golang/glog"
)

// the channel keeps one live connection to the authority.
// outbound messages are queued and flushed in order whenever a connection is open.
// a closed connection arms a reconnect tick that opens a new connection each interval until one is open.
//
// in lossless mode every message longer than the sequence header carries a 4 byte sequence prefix.
// a sequence of 0 means "no sequence". a mismatch on the inbound side is advisory:
// the listeners are notified once per channel and the payload is still delivered.

const SequenceHeaderLength = 4

// the shortest valid message is a header and one empty record
const minMessageLength = 4

var ErrChannelClosed = errors.New("Channel closed.")
var ErrSendBufferFull = errors.New("Send buffer full.")

type ChannelState int

const (
	ChannelDisconnected ChannelState = iota
	ChannelConnecting
	ChannelOpen
	ChannelClosing
)

func (self ChannelState) String() string {
	switch self {
	case ChannelDisconnected:
		return "disconnected"
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosing:
		return "closing"
	default:
		return fmt.Sprintf("ChannelState(%d)", int(self))
	}
}

// ConnHandler receives the events of one connection.
type ConnHandler struct {
	OnOpen    func()
	OnMessage func(message []byte)
	OnClose   func(err error)
}

type Conn interface {
	// Send must not block. A zero length message is a heartbeat probe.
	Send(message []byte) error
	Close() error
}

type Dialer interface {
	// Dial starts a connection. Events must be delivered to the handler only after Dial returns.
	// A nil error means the connection eventually calls `OnOpen` or `OnClose`;
	// the channel stays connecting until then. Handshakes must time out on their own.
	Dial(ctx context.Context, url string, handler *ConnHandler) (Conn, error)
}

type ChannelSettings struct {
	ReconnectInterval time.Duration
	// idle time before a heartbeat probe is sent. 0 disables heartbeats and the watchdog
	HeartbeatInterval time.Duration
	// grace after a missed heartbeat before the watchdog replaces the connection
	HeartbeatTimeout time.Duration
	Lossless         bool
	SendQueueSize    int
	Clock            Clock
}

func DefaultChannelSettings() *ChannelSettings {
	return &ChannelSettings{
		ReconnectInterval: 2 * time.Second,
		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
		Lossless:          false,
		SendQueueSize:     1024,
		Clock:             SystemClock(),
	}
}

// payloadSequence counts 1, 2, ... MaxInt32, then -MaxInt32 ... -1, then 1 again. 0 is never produced.
type payloadSequence struct {
	last int32
}

func (self *payloadSequence) next() int32 {
	switch self.last {
	case math.MaxInt32:
		self.last = -math.MaxInt32
	case -1:
		self.last = 1
	default:
		self.last += 1
	}
	return self.last
}

func withSequence(sequence int32, message []byte) []byte {
	out := make([]byte, SequenceHeaderLength+len(message))
	copy(out, BytesFromInt32(sequence))
	copy(out[SequenceHeaderLength:], message)
	return out
}

type channelConn struct {
	conn Conn
	// events of a detached connection are ignored. guarded by the channel `stateLock`
	detached bool
}

type Channel struct {
	ctx    context.Context
	cancel context.CancelFunc

	url      string
	dialer   Dialer
	receive  func(message []byte)
	settings *ChannelSettings

	// serializes inbound delivery. always taken before `stateLock`
	receiveLock sync.Mutex

	stateLock           sync.Mutex
	state               ChannelState
	closed              bool
	conn                *channelConn
	queue               [][]byte
	reconnectTimer      Timer
	reconnectGeneration uint64
	heartbeatTimer      Timer
	heartbeatGeneration uint64
	lastTraffic         time.Time
	serverSequence      payloadSequence
	clientSequence      payloadSequence
	payloadLoss         bool

	openCallbacks        CallbackList[func()]
	payloadLossCallbacks CallbackList[func()]
	replaceCallbacks     CallbackList[func()]
}

func NewChannelWithDefaults(
	ctx context.Context,
	url string,
	dialer Dialer,
	receive func(message []byte),
) *Channel {
	return NewChannel(ctx, url, dialer, receive, DefaultChannelSettings())
}

func NewChannel(
	ctx context.Context,
	url string,
	dialer Dialer,
	receive func(message []byte),
	settings *ChannelSettings,
) *Channel {
	cancelCtx, cancel := context.WithCancel(ctx)
	if settings.Clock == nil {
		settings.Clock = SystemClock()
	}
	return &Channel{
		ctx:         cancelCtx,
		cancel:      cancel,
		url:         url,
		dialer:      dialer,
		receive:     receive,
		settings:    settings,
		state:       ChannelDisconnected,
		lastTraffic: settings.Clock.Now(),
	}
}

func (self *Channel) State() ChannelState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *Channel) QueueLen() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.queue)
}

func (self *Channel) Lossless() bool {
	return self.settings.Lossless
}

// OnOpen is called after each connection opens and the queue is flushed.
func (self *Channel) OnOpen(callback func()) func() {
	return self.openCallbacks.Add(callback)
}

// OnPayloadLoss is called at most once for the life of the channel.
func (self *Channel) OnPayloadLoss(callback func()) func() {
	return self.payloadLossCallbacks.Add(callback)
}

// OnReplace is called when the watchdog discards a silent connection, before the new one opens.
func (self *Channel) OnReplace(callback func()) func() {
	return self.replaceCallbacks.Add(callback)
}

// Open is a no-op while connecting or open.
func (self *Channel) Open() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.openWithLock()
}

func (self *Channel) openWithLock() {
	if self.closed {
		return
	}
	switch self.state {
	case ChannelConnecting, ChannelOpen:
		glog.V(2).Infof("[c]open skipped, already %s\n", self.state)
		return
	}
	self.state = ChannelConnecting
	self.lastTraffic = self.settings.Clock.Now()
	cc := &channelConn{}
	self.conn = cc
	glog.V(1).Infof("[c]connecting %s\n", self.url)
	conn, err := self.dialer.Dial(self.ctx, self.url, self.handler(cc))
	if err != nil {
		glog.Infof("[c]dial error %s = %s\n", self.url, err)
		self.disconnectWithLock(cc)
		return
	}
	cc.conn = conn
}

func (self *Channel) handler(cc *channelConn) *ConnHandler {
	return &ConnHandler{
		OnOpen: func() {
			self.connOpen(cc)
		},
		OnMessage: func(message []byte) {
			self.connMessage(cc, message)
		},
		OnClose: func(err error) {
			self.connClose(cc, err)
		},
	}
}

func (self *Channel) connOpen(cc *channelConn) {
	self.stateLock.Lock()
	if cc.detached || self.closed {
		self.stateLock.Unlock()
		return
	}
	self.state = ChannelOpen
	self.stopReconnectWithLock()
	self.lastTraffic = self.settings.Clock.Now()
	self.flushWithLock()
	self.armHeartbeatWithLock()
	self.stateLock.Unlock()

	glog.V(1).Infof("[c]open %s\n", self.url)
	for _, callback := range self.openCallbacks.Get() {
		HandleError(callback)
	}
}

func (self *Channel) connMessage(cc *channelConn, message []byte) {
	self.receiveLock.Lock()
	defer self.receiveLock.Unlock()

	payloadLoss := false
	self.stateLock.Lock()
	if cc.detached {
		self.stateLock.Unlock()
		glog.V(2).Infof("[cr]drop from detached connection (%d bytes)\n", len(message))
		return
	}
	self.lastTraffic = self.settings.Clock.Now()
	self.armHeartbeatWithLock()
	if len(message) == 0 {
		self.stateLock.Unlock()
		glog.V(2).Infof("[cr]<-ping\n")
		return
	}
	if len(message) < minMessageLength {
		self.stateLock.Unlock()
		glog.Infof("[cr]drop short message (%d bytes)\n", len(message))
		return
	}
	if (self.settings.Lossless || message[0] == 0) && SequenceHeaderLength < len(message) {
		sequence, _ := Int32FromBytes(message[:SequenceHeaderLength])
		if sequence != 0 {
			expected := self.serverSequence.next()
			if sequence != expected {
				glog.Infof("[cr]sequence %d, expected %d\n", sequence, expected)
				if !self.payloadLoss {
					self.payloadLoss = true
					payloadLoss = true
				}
			}
		}
		message = message[SequenceHeaderLength:]
	}
	self.stateLock.Unlock()

	if payloadLoss {
		glog.Infof("[cr]payload loss\n")
		for _, callback := range self.payloadLossCallbacks.Get() {
			HandleError(callback)
		}
	}
	glog.V(2).Infof("[cr]<-%d\n", len(message))
	HandleError(func() {
		self.receive(message)
	})
}

func (self *Channel) connClose(cc *channelConn, err error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if cc.detached {
		return
	}
	if err != nil {
		glog.Infof("[c]closed %s = %s\n", self.url, err)
	} else {
		glog.Infof("[c]closed %s\n", self.url)
	}
	self.disconnectWithLock(cc)
}

func (self *Channel) disconnectWithLock(cc *channelConn) {
	if cc.detached {
		return
	}
	cc.detached = true
	if self.conn != cc {
		return
	}
	self.conn = nil
	if !self.closed {
		self.state = ChannelDisconnected
	}
	self.stopHeartbeatWithLock()
	self.scheduleReconnectWithLock()
}

func (self *Channel) scheduleReconnectWithLock() {
	if self.closed || self.reconnectTimer != nil {
		return
	}
	self.reconnectGeneration += 1
	generation := self.reconnectGeneration
	self.reconnectTimer = self.settings.Clock.AfterFunc(self.settings.ReconnectInterval, func() {
		self.reconnectTick(generation)
	})
}

func (self *Channel) stopReconnectWithLock() {
	if self.reconnectTimer != nil {
		self.reconnectTimer.Stop()
		self.reconnectTimer = nil
	}
	self.reconnectGeneration += 1
}

// one open attempt per tick, while disconnected
func (self *Channel) reconnectTick(generation uint64) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if generation != self.reconnectGeneration {
		return
	}
	self.reconnectTimer = nil
	if self.closed || self.state == ChannelOpen {
		return
	}
	self.scheduleReconnectWithLock()
	if self.state == ChannelDisconnected {
		glog.Infof("[c]reconnect %s\n", self.url)
		self.openWithLock()
	}
}

func (self *Channel) armHeartbeatWithLock() {
	if self.settings.HeartbeatInterval <= 0 {
		return
	}
	if self.heartbeatTimer != nil {
		self.heartbeatTimer.Stop()
	}
	self.heartbeatGeneration += 1
	generation := self.heartbeatGeneration
	self.heartbeatTimer = self.settings.Clock.AfterFunc(self.settings.HeartbeatInterval, func() {
		self.heartbeat(generation)
	})
}

func (self *Channel) stopHeartbeatWithLock() {
	if self.heartbeatTimer != nil {
		self.heartbeatTimer.Stop()
		self.heartbeatTimer = nil
	}
	self.heartbeatGeneration += 1
}

func (self *Channel) heartbeat(generation uint64) {
	self.stateLock.Lock()
	if generation != self.heartbeatGeneration || self.state != ChannelOpen || self.conn == nil {
		self.stateLock.Unlock()
		return
	}
	self.heartbeatTimer = nil
	cc := self.conn
	if err := cc.conn.Send([]byte{}); err != nil {
		glog.Infof("[cs]ping error = %s\n", err)
		self.disconnectWithLock(cc)
		self.stateLock.Unlock()
		cc.conn.Close()
		return
	}
	glog.V(2).Infof("[cs]ping->\n")
	self.armHeartbeatWithLock()
	self.stateLock.Unlock()
}

func (self *Channel) flushWithLock() {
	if self.conn == nil || self.conn.conn == nil {
		return
	}
	for i, message := range self.queue {
		if err := self.conn.conn.Send(message); err != nil {
			glog.Infof("[cs]flush stopped with %d queued = %s\n", len(self.queue)-i, err)
			self.queue = self.queue[i:]
			return
		}
		glog.V(2).Infof("[cs]->%d\n", len(message))
	}
	self.queue = nil
}

func (self *Channel) enqueueWithLock(message []byte, first bool) {
	if first {
		self.queue = append([][]byte{message}, self.queue...)
	} else {
		self.queue = append(self.queue, message)
	}
	if self.state == ChannelOpen {
		self.flushWithLock()
		self.armHeartbeatWithLock()
	}
}

// Send queues a message and flushes the queue when open. It never blocks.
// A zero length message is sent only as a probe on an open connection.
func (self *Channel) Send(message []byte) error {
	if len(message) == 0 {
		return self.probe()
	}
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed {
		return ErrChannelClosed
	}
	if self.settings.SendQueueSize <= len(self.queue) {
		return ErrSendBufferFull
	}
	if self.settings.Lossless && SequenceHeaderLength < len(message) {
		message = withSequence(self.clientSequence.next(), message)
	}
	self.enqueueWithLock(message, false)
	return nil
}

// Announce puts a message at the head of the queue without consuming a sequence number.
func (self *Channel) Announce(message []byte) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed {
		return ErrChannelClosed
	}
	if self.settings.Lossless {
		message = withSequence(0, message)
	}
	self.enqueueWithLock(message, true)
	return nil
}

func (self *Channel) probe() error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed {
		return ErrChannelClosed
	}
	if self.state != ChannelOpen || self.conn == nil {
		return nil
	}
	return self.conn.conn.Send([]byte{})
}

// CheckLiveness is the watchdog. Call it on a fixed cadence.
// A connection silent for longer than heartbeat interval plus timeout is detached, closed and replaced.
// Returns true when a new connection was started.
func (self *Channel) CheckLiveness() bool {
	if self.settings.HeartbeatInterval <= 0 {
		return false
	}

	self.receiveLock.Lock()
	self.stateLock.Lock()
	// a disconnected channel is driven by the reconnect tick
	if self.closed || self.state != ChannelOpen {
		self.stateLock.Unlock()
		self.receiveLock.Unlock()
		return false
	}
	elapsed := self.settings.Clock.Now().Sub(self.lastTraffic)
	if elapsed <= self.settings.HeartbeatInterval+self.settings.HeartbeatTimeout {
		self.stateLock.Unlock()
		self.receiveLock.Unlock()
		return false
	}
	var stale Conn
	if self.conn != nil {
		self.conn.detached = true
		stale = self.conn.conn
		self.conn = nil
	}
	self.state = ChannelDisconnected
	self.stopHeartbeatWithLock()
	self.stateLock.Unlock()
	self.receiveLock.Unlock()

	glog.Infof("[c]no traffic for %s, replacing connection\n", elapsed)
	if stale != nil {
		stale.Close()
		for _, callback := range self.replaceCallbacks.Get() {
			HandleError(callback)
		}
	}
	self.Open()
	return true
}

func (self *Channel) Close() {
	self.cancel()

	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	self.closed = true
	self.state = ChannelClosing
	self.stopReconnectWithLock()
	self.stopHeartbeatWithLock()
	var conn Conn
	if self.conn != nil {
		self.conn.detached = true
		conn = self.conn.conn
		self.conn = nil
	}
	self.stateLock.Unlock()

	if conn != nil {
		conn.Close()
	}

	self.stateLock.Lock()
	self.state = ChannelDisconnected
	self.stateLock.Unlock()
	glog.V(1).Infof("[c]closed %s\n", self.url)
}
