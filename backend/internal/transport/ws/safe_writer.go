package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWriteTimeout ограничивает одну запись в сокет
const DefaultWriteTimeout = 5 * time.Second

var ErrWriterClosed = errors.New("ws: writer closed")

// FrameWriter - получатель готовых кадров (SafeWriter или имитация сети поверх него)
type FrameWriter interface {
	WriteFrame(frameType int, data []byte) error
	Close() error
}

// SafeWriter обеспечивает потокобезопасную запись в WebSocket соединение
type SafeWriter struct {
	conn         *websocket.Conn
	mutex        sync.Mutex
	writeTimeout time.Duration
	closed       bool
}

// NewSafeWriter создает новый экземпляр SafeWriter
func NewSafeWriter(conn *websocket.Conn) *SafeWriter {
	return &SafeWriter{
		conn:         conn,
		writeTimeout: DefaultWriteTimeout,
	}
}

// SetWriteTimeout задает дедлайн одной записи, 0 - без дедлайна
func (w *SafeWriter) SetWriteTimeout(d time.Duration) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.writeTimeout = d
}

// WriteJSON потокобезопасно записывает JSON данные в WebSocket соединение
func (w *SafeWriter) WriteJSON(v interface{}) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	w.setDeadline()
	return w.conn.WriteJSON(v)
}

// WriteMessage потокобезопасно записывает сообщение в WebSocket соединение
func (w *SafeWriter) WriteMessage(messageType int, data []byte) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	w.setDeadline()
	return w.conn.WriteMessage(messageType, data)
}

// WriteFrame реализует FrameWriter
func (w *SafeWriter) WriteFrame(frameType int, data []byte) error {
	return w.WriteMessage(frameType, data)
}

// WritePing отправляет control-кадр ping
func (w *SafeWriter) WritePing() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.timeout()))
}

// WriteClose отправляет close-кадр с кодом и причиной, соединение не закрывает
func (w *SafeWriter) WriteClose(code int, reason string) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	return w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(w.timeout()))
}

// Close закрывает WebSocket соединение. Повторный вызов ничего не делает.
func (w *SafeWriter) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.conn.Close()
}

// GetUnderlyingConn возвращает базовое WebSocket соединение
func (w *SafeWriter) GetUnderlyingConn() *websocket.Conn {
	return w.conn
}

func (w *SafeWriter) setDeadline() {
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
}

func (w *SafeWriter) timeout() time.Duration {
	if w.writeTimeout > 0 {
		return w.writeTimeout
	}
	return DefaultWriteTimeout
}
