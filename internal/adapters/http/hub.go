package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/revolutedigital/igreja-betania/internal/adapters/connectivity"
	"github.com/revolutedigital/igreja-betania/internal/application/orchestrators"
	"github.com/revolutedigital/igreja-betania/internal/application/projections"
)

// Status stream event types.
const (
	EventHello        = "hello"
	EventConnectivity = "connectivity"
	EventSyncCycle    = "sync_cycle"
)

// writeTimeout bounds each push to one client.
const writeTimeout = 5 * time.Second

// Event is one message on the status stream.
type Event struct {
	Type         string                           `json:"type"`
	At           time.Time                        `json:"at"`
	Connectivity string                           `json:"connectivity,omitempty"`
	Cycle        *orchestrators.CycleResult       `json:"cycle,omitempty"`
	Error        string                           `json:"error,omitempty"`
	Status       *projections.GetSyncStatusResult `json:"status,omitempty"`
}

// Hub fans status events out to websocket clients.
type Hub struct {
	originPatterns []string

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Event

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewHub starts a hub. originPatterns lists the hosts allowed to connect
// besides the API's own; see websocket.AcceptOptions.
func NewHub(originPatterns []string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		originPatterns: originPatterns,
		clients:        make(map[*websocket.Conn]bool),
		broadcast:      make(chan Event, 64),
		ctx:            ctx,
		cancel:         cancel,
	}
	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

// Broadcast queues e for every client. It never blocks; when the queue is
// full the event is dropped.
func (h *Hub) Broadcast(e Event) bool {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case h.broadcast <- e:
		return true
	default:
		slog.Warn("status_event_dropped", "type", e.Type)
		return false
	}
}

// Follow pushes connectivity transitions and completed sync cycles.
// PRE: monitor and rec are non-nil
// POST: Returns a func that stops following
func (h *Hub) Follow(monitor *connectivity.Monitor, rec *orchestrators.Reconciler) (stop func()) {
	unsubConn := monitor.Subscribe(func(tr connectivity.Transition) {
		h.Broadcast(Event{Type: EventConnectivity, At: tr.At, Connectivity: tr.To.String()})
	})
	unsubCycle := rec.OnCycle(func(res orchestrators.CycleResult, err error) {
		e := Event{Type: EventSyncCycle, At: res.FinishedAt, Cycle: &res}
		if err != nil {
			e.Error = err.Error()
		}
		h.Broadcast(e)
	})
	return func() {
		unsubConn()
		unsubCycle()
	}
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case e := <-h.broadcast:
			data, err := json.Marshal(e)
			if err != nil {
				slog.Error("status_event_marshal_failed", "type", e.Type, "error", err)
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := h.write(conn, data); err != nil {
					slog.Debug("status_client_write_failed", "error", err)
					h.removeClient(conn)
				}
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// Accept upgrades the request, sends hello and registers the client.
// PRE: the hub is not closed
// POST: the client receives every later broadcast until it disconnects
func (h *Hub) Accept(w http.ResponseWriter, r *http.Request, hello Event) error {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		return err
	}

	hello.Type = EventHello
	if hello.At.IsZero() {
		hello.At = time.Now()
	}
	data, err := json.Marshal(hello)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return err
	}
	if err := h.write(conn, data); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return err
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()
	slog.Info("status_client_connected", "clients", count)

	go h.readLoop(conn)
	return nil
}

// readLoop discards client messages and notices disconnects.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)
	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	_, exists := h.clients[conn]
	delete(h.clients, conn)
	count := len(h.clients)
	h.clientsMu.Unlock()
	if exists {
		conn.Close(websocket.StatusNormalClosure, "")
		slog.Info("status_client_disconnected", "clients", count)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.cancel()
		h.wg.Wait()
		h.clientsMu.Lock()
		for conn := range h.clients {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			delete(h.clients, conn)
		}
		h.clientsMu.Unlock()
	})
}
