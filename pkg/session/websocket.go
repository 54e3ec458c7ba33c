package session

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const DefaultWriteTimeout = 10 * time.Second

// WebsocketConn adapts a gorilla websocket to Conn. Writes are serialized;
// reads must come from a single goroutine.
type WebsocketConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewWebsocketConn(ws *websocket.Conn) *WebsocketConn {
	return &WebsocketConn{ws: ws, writeTimeout: DefaultWriteTimeout}
}

func (w *WebsocketConn) ReadMessage() ([]byte, error) {
	_, b, err := w.ws.ReadMessage()
	if err != nil {
		if isClosed(err) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return b, nil
}

func (w *WebsocketConn) WriteJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ws.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return w.mapErr(err)
	}
	return w.mapErr(w.ws.WriteJSON(v))
}

func (w *WebsocketConn) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		_ = w.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.mu.Unlock()
		w.closeErr = w.ws.Close()
	})
	return w.closeErr
}

func (w *WebsocketConn) mapErr(err error) error {
	if err != nil && isClosed(err) {
		return ErrClosed
	}
	return err
}

func isClosed(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
