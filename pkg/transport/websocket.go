package transport

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/qiminjie89/sockio/pkg/config"
	"github.com/qiminjie89/sockio/pkg/logger"
	"go.uber.org/zap"
)

// ErrTransportClosed 传输已关闭
var ErrTransportClosed = errors.New("transport closed")

// AuthorizeFunc 升级前的鉴权回调，返回会话主体
type AuthorizeFunc func(r *http.Request) (subject string, err error)

// WebSocketTransport WebSocket 传输层实现
type WebSocketTransport struct {
	cfg       config.WebSocketConfig
	upgrader  websocket.Upgrader
	authorize AuthorizeFunc

	server *http.Server
	ln     net.Listener
	connCh chan *WebSocketConn
	doneCh chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWebSocketTransport 创建 WebSocket 传输层
func NewWebSocketTransport(cfg config.WebSocketConfig, authorize AuthorizeFunc) *WebSocketTransport {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	return &WebSocketTransport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				return true // 生产环境应检查 Origin
			},
		},
		authorize: authorize,
		connCh:    make(chan *WebSocketConn, 128),
		doneCh:    make(chan struct{}),
	}
}

// Listen 监听地址
func (t *WebSocketTransport) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	t.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.Path, t.handleWebSocket)
	t.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: t.cfg.HandshakeTimeout,
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("websocket transport serve error", zap.Error(err))
		}
	}()
	return nil
}

// Addr 返回实际监听地址
func (t *WebSocketTransport) Addr() net.Addr {
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

func (t *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var subject string
	if t.authorize != nil {
		s, err := t.authorize(r)
		if err != nil {
			logger.Warn("websocket authorization failed",
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		subject = s
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	wsConn := &WebSocketConn{
		conn:       conn,
		remoteAddr: r.RemoteAddr,
		Subject:    subject,
	}

	select {
	case t.connCh <- wsConn:
	case <-t.doneCh:
		conn.Close()
	}
}

// Accept 接受新连接
func (t *WebSocketTransport) Accept() (*WebSocketConn, error) {
	select {
	case conn := <-t.connCh:
		return conn, nil
	case <-t.doneCh:
		return nil, ErrTransportClosed
	}
}

// Close 关闭传输层
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.doneCh)
		if t.server != nil {
			err = t.server.Close()
		}
		t.wg.Wait()
		// 已升级但未被 Accept 的连接
		for {
			select {
			case c := <-t.connCh:
				c.Close()
				continue
			default:
			}
			break
		}
	})
	return err
}

// WebSocketConn WebSocket 连接实现
type WebSocketConn struct {
	conn       *websocket.Conn
	remoteAddr string
	writeMu    sync.Mutex

	// Subject 鉴权得到的会话主体
	Subject string
}

// NewWebSocketConn 包装已建立的 websocket 连接（客户端侧使用）
func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{conn: conn, remoteAddr: conn.RemoteAddr().String()}
}

// ReadMessage 读取一条二进制消息
func (c *WebSocketConn) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WriteMessage 写入一条二进制消息，支持并发调用
func (c *WebSocketConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close 关闭连接
func (c *WebSocketConn) Close() error {
	return c.conn.Close()
}

// CloseWithReason 发送 close 帧后关闭连接
func (c *WebSocketConn) CloseWithReason(code int, reason string) error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// RemoteAddr 返回远程地址
func (c *WebSocketConn) RemoteAddr() string {
	return c.remoteAddr
}

// SetReadDeadline 设置读超时
func (c *WebSocketConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline 设置写超时
func (c *WebSocketConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}
