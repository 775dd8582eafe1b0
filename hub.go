package realtime

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const hubSendBuffer = 16

// ProgressSource answers get_progress queries. It abstracts the backend
// service that owns audio job state; callers only see progress snapshots.
type ProgressSource interface {
	Progress(ctx context.Context, userID string, audioID int64) (ProgressUpdate, error)
}

// ProgressSourceFunc adapts a function to the ProgressSource interface.
type ProgressSourceFunc func(ctx context.Context, userID string, audioID int64) (ProgressUpdate, error)

func (f ProgressSourceFunc) Progress(
	ctx context.Context,
	userID string,
	audioID int64,
) (ProgressUpdate, error) {
	return f(ctx, userID, audioID)
}

// Hub is the server end of the realtime channel. It keeps one connection
// registry per user, answers the channel's built-in message types (ping,
// get_progress) and lets the job pipeline push updates to users.
//
// It serves HTTP at /ws/<userID> and upgrades each request to a WebSocket.
type Hub struct {
	logger   logger
	upgrader websocket.Upgrader
	source   ProgressSource

	mu    sync.RWMutex
	conns map[string]map[uuid.UUID]*hubConn
}

// NewHub builds a Hub answering progress queries through source. A nil source
// makes get_progress messages no-ops.
func NewHub(logger logger, source ProgressSource) *Hub {
	return &Hub{
		logger: logger.WithField("type", "realtime_hub"),
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[string]map[uuid.UUID]*hubConn),
	}
}

// hubConn is one registered connection with its dedicated writer goroutine,
// so a slow reader cannot block the hub.
type hubConn struct {
	id        uuid.UUID
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func newHubConn(conn *websocket.Conn) *hubConn {
	hc := &hubConn{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, hubSendBuffer),
		done: make(chan struct{}),
	}
	go hc.writeLoop()
	return hc
}

func (hc *hubConn) writeLoop() {
	for {
		select {
		case frame, ok := <-hc.send:
			if !ok {
				return
			}
			_ = hc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := hc.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-hc.done:
			return
		}
	}
}

// push queues one frame, dropping it when the connection's buffer is full.
func (hc *hubConn) push(frame []byte) bool {
	select {
	case hc.send <- frame:
		return true
	default:
		return false
	}
}

func (hc *hubConn) stop() {
	hc.closeOnce.Do(func() {
		close(hc.done)
		_ = hc.conn.Close()
	})
}

// ServeHTTP upgrades the request and serves the connection until the peer
// goes away. The user identifier is the last path segment: /ws/<userID>.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if userID == "" || strings.Contains(userID, "/") {
		http.NotFound(w, r)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("cannot upgrade connection for user %s: %s", userID, err)
		return
	}

	hc := newHubConn(conn)
	h.register(userID, hc)
	defer func() {
		h.unregister(userID, hc)
		hc.stop()
	}()

	log := h.logger.WithField("user_id", userID)
	log.Debugf("connection %s registered", hc.id)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			log.Debugf("connection %s closed: %s", hc.id, err)
			return
		}
		h.handleFrame(r.Context(), log, userID, hc, frame)
	}
}

func (h *Hub) handleFrame(
	ctx context.Context,
	log logger,
	userID string,
	hc *hubConn,
	frame []byte,
) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		log.Errorf("dropping malformed frame: %s", err)
		return
	}

	switch env.Type {
	case MessageTypePing:
		h.reply(log, hc, NewEnvelope(MessageTypePong, nil))
	case MessageTypeGetProgress:
		h.answerProgress(ctx, log, userID, hc, env)
	default:
		log.Debugf("ignoring %q message", env.Type)
	}
}

func (h *Hub) answerProgress(
	ctx context.Context,
	log logger,
	userID string,
	hc *hubConn,
	env Envelope,
) {
	if h.source == nil {
		return
	}

	audioID, ok := env.Fields["audio_id"].(float64)
	if !ok {
		log.Errorf("get_progress without a numeric audio_id")
		return
	}

	update, err := h.source.Progress(ctx, userID, int64(audioID))
	if err != nil {
		log.Errorf("cannot look up progress of audio %d: %s", int64(audioID), err)
		return
	}

	h.reply(log, hc, update.Envelope())
}

func (h *Hub) reply(log logger, hc *hubConn, env Envelope) {
	frame, err := env.Encode()
	if err != nil {
		log.Errorf("cannot encode %q reply: %s", env.Type, err)
		return
	}
	if !hc.push(frame) {
		log.Warnf("connection %s is backed up, dropping %q reply", hc.id, env.Type)
	}
}

func (h *Hub) register(userID string, hc *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userConns, found := h.conns[userID]
	if !found {
		userConns = make(map[uuid.UUID]*hubConn)
		h.conns[userID] = userConns
	}
	userConns[hc.id] = hc
}

func (h *Hub) unregister(userID string, hc *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userConns, found := h.conns[userID]
	if !found {
		return
	}
	delete(userConns, hc.id)
	if len(userConns) == 0 {
		delete(h.conns, userID)
	}
}

// SendToUser delivers one message to every connection of the given user.
// Users without connections are a no-op.
func (h *Hub) SendToUser(userID string, env Envelope) {
	frame, err := env.Encode()
	if err != nil {
		h.logger.Errorf("cannot encode %q message: %s", env.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, hc := range h.conns[userID] {
		if !hc.push(frame) {
			h.logger.Warnf("connection %s is backed up, dropping %q", hc.id, env.Type)
		}
	}
}

// Broadcast delivers one message to every connected user.
func (h *Hub) Broadcast(env Envelope) {
	frame, err := env.Encode()
	if err != nil {
		h.logger.Errorf("cannot encode %q message: %s", env.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, userConns := range h.conns {
		for _, hc := range userConns {
			if !hc.push(frame) {
				h.logger.Warnf("connection %s is backed up, dropping %q", hc.id, env.Type)
			}
		}
	}
}

// NotifyProgress pushes a progress update to the user owning the audio file.
// The job pipeline calls this as generation advances.
func (h *Hub) NotifyProgress(userID string, update ProgressUpdate) {
	h.SendToUser(userID, update.Envelope())
}

// ConnectionCount reports how many connections the given user has.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}
