package docsync

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

type WsDialerSettings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// 0 leaves reads without a deadline. liveness is the channel watchdog's job
	ReadTimeout    time.Duration
	SendBufferSize int
	// extra handshake headers, e.g. an authorization bearer
	Header http.Header
}

func DefaultWsDialerSettings() *WsDialerSettings {
	return &WsDialerSettings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      0,
		SendBufferSize:   1024,
	}
}

// WsDialer connects the channel over websocket binary frames.
type WsDialer struct {
	settings *WsDialerSettings
}

func NewWsDialerWithDefaults() *WsDialer {
	return NewWsDialer(DefaultWsDialerSettings())
}

func NewWsDialer(settings *WsDialerSettings) *WsDialer {
	return &WsDialer{
		settings: settings,
	}
}

func (self *WsDialer) Dial(ctx context.Context, url string, handler *ConnHandler) (Conn, error) {
	cancelCtx, cancel := context.WithCancel(ctx)
	conn := &wsConn{
		ctx:      cancelCtx,
		cancel:   cancel,
		url:      url,
		handler:  handler,
		settings: self.settings,
		send:     make(chan []byte, self.settings.SendBufferSize),
	}
	go conn.run()
	return conn, nil
}

type wsConn struct {
	ctx    context.Context
	cancel context.CancelFunc

	url      string
	handler  *ConnHandler
	settings *WsDialerSettings

	send chan []byte

	stateLock sync.Mutex
	ws        *websocket.Conn
	closeOnce sync.Once
}

func (self *wsConn) run() {
	var closeErr error
	defer func() {
		self.cancel()
		self.stateLock.Lock()
		if self.ws != nil {
			self.ws.Close()
		}
		self.stateLock.Unlock()
		self.closeOnce.Do(func() {
			self.handler.OnClose(closeErr)
		})
	}()

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: self.settings.HandshakeTimeout,
	}
	connect := func() (*websocket.Conn, error) {
		ws, _, err := dialer.DialContext(self.ctx, self.url, self.settings.Header)
		return ws, err
	}
	var ws *websocket.Conn
	var err error
	if glog.V(2) {
		ws, err = TraceWithReturnError(fmt.Sprintf("[t]connect %s", self.url), connect)
	} else {
		ws, err = connect()
	}
	if err != nil {
		closeErr = err
		return
	}

	self.stateLock.Lock()
	select {
	case <-self.ctx.Done():
		self.stateLock.Unlock()
		ws.Close()
		return
	default:
	}
	self.ws = ws
	self.stateLock.Unlock()

	self.handler.OnOpen()

	go func() {
		defer self.cancel()

		for {
			select {
			case <-self.ctx.Done():
				return
			case message := <-self.send:
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.BinaryMessage, message); err != nil {
					// note that for websocket a dealine timeout cannot be recovered
					glog.Infof("[ts]%s-> error = %s\n", self.url, err)
					return
				}
				glog.V(2).Infof("[ts]%s->%d\n", self.url, len(message))
			}
		}
	}()

	go func() {
		// unblock the read when the writer or the owner stops
		<-self.ctx.Done()
		ws.Close()
	}()

	for {
		if 0 < self.settings.ReadTimeout {
			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		}
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-self.ctx.Done():
			default:
				glog.Infof("[tr]%s<- error = %s\n", self.url, err)
				closeErr = err
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			self.handler.OnMessage(message)
		default:
			glog.V(2).Infof("[tr]other=%d %s<-\n", messageType, self.url)
		}
	}
}

func (self *wsConn) Send(message []byte) error {
	select {
	case <-self.ctx.Done():
		return ErrChannelClosed
	default:
	}
	select {
	case self.send <- message:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (self *wsConn) Close() error {
	self.cancel()
	return nil
}
