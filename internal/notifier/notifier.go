// Package notifier fans events out to dashboard clients over
// WebSocket. Each connection declares a filter in its first frame, gets
// an Event Store subscription with that filter, and receives every
// matching event as one JSON frame. Backpressure is the store's problem
// (bounded subscription buffers); the notifier only pumps.
package notifier

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nestwatch/sentryd/infrastructure/logging"
	"github.com/nestwatch/sentryd/internal/eventstore"
	"github.com/nestwatch/sentryd/internal/model"
)

const (
	// pingPeriod is the server heartbeat interval; a connection that
	// misses missedPongLimit consecutive pongs is closed.
	pingPeriod      = 30 * time.Second
	missedPongLimit = 3

	writeWait      = 10 * time.Second
	filterReadWait = 30 * time.Second
	maxFrameBytes  = 4096
)

// clientFilter is the first frame a client sends after connecting.
type clientFilter struct {
	SeverityFloor string   `json:"severity_floor"`
	Categories    []string `json:"categories"`
}

// Notifier upgrades dashboard connections and pumps store subscriptions
// into them. It owns nothing but the live connection set; subscriptions
// belong to the Event Store.
type Notifier struct {
	store  *eventstore.Store
	logger *logging.Logger

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[uuid.UUID]*websocket.Conn
	done  bool
}

// New builds a Notifier over store.
func New(store *eventstore.Store, logger *logging.Logger) *Notifier {
	return &Notifier{
		store:  store,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard shell is served from the same origin; other
			// origins are the operator's problem (reverse proxy).
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[uuid.UUID]*websocket.Conn),
	}
}

// ServeHTTP handles GET /ws/events: upgrade, read the filter frame,
// subscribe, pump until disconnect or shutdown.
func (n *Notifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	filter, err := readFilter(conn)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "first frame must be a JSON filter"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	subID, events := n.store.Subscribe(model.SubscriptionFilter{
		SeverityFloor: model.Severity(filter.SeverityFloor),
		Categories:    filter.Categories,
	})

	n.mu.Lock()
	if n.done {
		n.mu.Unlock()
		n.store.Unsubscribe(subID)
		_ = conn.Close()
		return
	}
	n.conns[subID] = conn
	n.mu.Unlock()

	if n.logger != nil {
		n.logger.WithFields(map[string]interface{}{
			"subscription": subID.String(),
			"remote_addr":  r.RemoteAddr,
		}).Info("websocket subscriber connected")
	}

	go n.readPump(subID, conn)
	n.writePump(subID, conn, events)
}

func readFilter(conn *websocket.Conn) (clientFilter, error) {
	_ = conn.SetReadDeadline(time.Now().Add(filterReadWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return clientFilter{}, err
	}
	var f clientFilter
	if err := json.Unmarshal(raw, &f); err != nil {
		return clientFilter{}, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	return f, nil
}

// readPump drains client frames so control messages (pong, close) are
// processed; clients have nothing else to say after the filter frame.
func (n *Notifier) readPump(subID uuid.UUID, conn *websocket.Conn) {
	defer n.drop(subID, conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards subscription events and drives the heartbeat. The
// store closes the events channel on Unsubscribe, which ends the pump.
func (n *Notifier) writePump(subID uuid.UUID, conn *websocket.Conn, events <-chan model.Event) {
	defer n.drop(subID, conn)

	var pongMu sync.Mutex
	lastPong := time.Now()
	conn.SetPongHandler(func(string) error {
		pongMu.Lock()
		lastPong = time.Now()
		pongMu.Unlock()
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, open := <-events:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			pongMu.Lock()
			silent := time.Since(lastPong)
			pongMu.Unlock()
			if silent > missedPongLimit*pingPeriod {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drop unsubscribes and closes one connection; safe to call from both
// pumps, whichever loses the race.
func (n *Notifier) drop(subID uuid.UUID, conn *websocket.Conn) {
	n.mu.Lock()
	_, live := n.conns[subID]
	delete(n.conns, subID)
	n.mu.Unlock()
	if !live {
		return
	}

	n.store.Unsubscribe(subID)
	_ = conn.Close()
	if n.logger != nil {
		n.logger.WithFields(map[string]interface{}{"subscription": subID.String()}).Info("websocket subscriber disconnected")
	}
}

// Close disconnects every subscriber; used by the shutdown sequence after
// schedulers are cancelled and before drivers are closed. New connections
// are refused afterwards.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.done = true
	conns := make(map[uuid.UUID]*websocket.Conn, len(n.conns))
	for id, c := range n.conns {
		conns[id] = c
	}
	n.conns = make(map[uuid.UUID]*websocket.Conn)
	n.mu.Unlock()

	for id, c := range conns {
		n.store.Unsubscribe(id)
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = c.Close()
	}
}
