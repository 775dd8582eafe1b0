package realtime

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/fasthttp/websocket"
)

const writeDeadline = time.Second

// WsConn is a Conn over a WebSocket. Frames are JSON text messages; control
// frames are handled internally and never surface to the client.
type WsConn struct {
	logger          logger
	dialer          *websocket.Dialer
	endpoint        Endpoint
	header          http.Header
	conn            *websocket.Conn
	closeChan       CloseChan
	closeOnce       sync.Once
	closeReason     error
	closeReasonOnce sync.Once
	recv            chan<- []byte // frames received over the wire
	send            chan []byte   // frames to be sent over the wire
}

func NewWsConn(
	logger logger,
	dialer *websocket.Dialer,
	endpoint Endpoint,
	header http.Header,
	recv chan<- []byte,
) *WsConn {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WsConn{
		logger:    logger.WithField("net", "ws_connection"),
		dialer:    dialer,
		endpoint:  endpoint,
		header:    header,
		recv:      recv,
		send:      make(chan []byte),
		closeChan: make(CloseChan),
	}
}

// NewWsConnFactory returns a ConnFactory producing WsConn instances for the
// given endpoint.
func NewWsConnFactory(
	logger logger,
	dialer *websocket.Dialer,
	endpoint Endpoint,
	header http.Header,
) ConnFactory {
	return func(recv chan<- []byte) Conn {
		return NewWsConn(logger, dialer, endpoint, header, recv)
	}
}

// Open dials the endpoint and starts the read and write pumps.
func (w *WsConn) Open(ctx context.Context) error {
	u := w.endpoint.URL()

	conn, resp, err := w.dialer.DialContext(ctx, u.String(), w.header)
	if err = w.handleDialError(resp, err); err != nil {
		w.logger.Errorf("connection err to %s: %s", u.String(), err)
		return err
	}

	w.logger.Debugf("success opening connection to %s", u.String())

	w.conn = conn

	// Keep control over ping frames so idle servers do not tear us down.
	conn.SetPingHandler(func(appData string) error {
		w.logger.Debugln("<= [PING]")
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(appData),
			time.Now().Add(writeDeadline),
		)
	})

	conn.SetPongHandler(func(string) error {
		w.logger.Debugln("<= [PONG]")
		return nil
	})

	go w.read(ctx)
	go w.write(ctx)

	return nil
}

// Write sends one frame over the connection. It fails with
// ErrConnectionClosed once the connection has shut down.
func (w *WsConn) Write(frame []byte) error {
	select {
	case w.send <- frame:
		return nil
	case <-w.closeChan:
		return ErrConnectionClosed
	}
}

// Close terminates the connection. It ensures that all resources related to
// the connection are cleaned up.
func (w *WsConn) Close() {
	w.setCloseReason(ErrTerminated)
	w.safeClose()
}

// CloseChan returns a channel that will be closed when the connection is closed.
func (w *WsConn) CloseChan() CloseChan {
	return w.closeChan
}

// CloseErr returns an error that explains why the connection was closed.
func (w *WsConn) CloseErr() error {
	if w.closeReason != nil && errors.Is(w.closeReason, ErrTerminated) {
		return nil
	}
	return w.closeReason
}

func (w *WsConn) read(ctx context.Context) {
	defer w.safeClose()

	for {
		select {
		case <-w.closeChan:
			w.setCloseReason(ErrTerminated)
			return
		case <-ctx.Done():
			w.setCloseReason(ErrTerminated)
			return
		default:
			_, frame, err := w.conn.ReadMessage()
			if err != nil {
				w.logger.Debugf("websocket read ended: %s", err)
				w.setCloseReason(errors.Wrap(ErrConnectionClosed, err.Error()))
				return
			}

			w.logger.Debugf("<= [DATA] %s", frame)

			select {
			case w.recv <- frame:
			case <-w.closeChan:
				w.setCloseReason(ErrTerminated)
				return
			}
		}
	}
}

func (w *WsConn) write(ctx context.Context) {
	defer w.safeClose()

	for {
		select {
		case <-w.closeChan:
			w.setCloseReason(ErrTerminated)
			// Tell the peer we are leaving; best effort.
			_ = w.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeDeadline),
			)
			return
		case <-ctx.Done():
			w.setCloseReason(ErrTerminated)
			return
		case frame := <-w.send:
			w.logger.Debugf("=> [DATA] %s", frame)

			_ = w.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
				) {
					w.setCloseReason(ErrConnectionClosed)
				} else {
					w.setCloseReason(errors.Wrap(ErrConnectionClosed, err.Error()))
				}
				return
			}
		}
	}
}

func (w *WsConn) safeClose() {
	w.closeOnce.Do(w.close)
}

func (w *WsConn) close() {
	close(w.closeChan)
	if w.conn != nil {
		_ = w.conn.Close()
	}
}

func (w *WsConn) setCloseReason(err error) {
	w.closeReasonOnce.Do(func() {
		w.closeReason = err
	})
}

func (w *WsConn) handleDialError(resp *http.Response, err error) error {
	if err == nil {
		return nil
	}

	// Check HTTP errors first: the upgrade may have been rejected on purpose.
	if resp != nil {
		var msg string
		if resp.Body != nil {
			if bts, readErr := io.ReadAll(resp.Body); readErr == nil {
				msg = string(bts)
			}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return errors.Wrap(ErrRateLimit, msg)
		}
	}

	return errors.Wrap(ErrCannotConnect, err.Error())
}
