package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adamstosho/GroChain-sub000/internal/auth"
	"github.com/adamstosho/GroChain-sub000/internal/metrics"
	"github.com/adamstosho/GroChain-sub000/internal/model"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// feedClient is one subscriber. An empty partnerID receives every event and
// is only granted to admins.
type feedClient struct {
	conn      *websocket.Conn
	partnerID string
}

type feedMessage struct {
	partnerID string
	data      []byte
}

// LedgerFeed streams committed ledger events to WebSocket subscribers.
// It implements the Publisher interfaces of the settlement and commission
// services.
type LedgerFeed struct {
	clients    map[*websocket.Conn]*feedClient
	broadcast  chan feedMessage
	register   chan *feedClient
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewLedgerFeed creates a feed. Run must be started before clients connect.
func NewLedgerFeed(logger *slog.Logger) *LedgerFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerFeed{
		clients:    make(map[*websocket.Conn]*feedClient),
		broadcast:  make(chan feedMessage, 256),
		register:   make(chan *feedClient),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run is the feed's event loop. It returns when ctx is done, closing every
// connection.
func (f *LedgerFeed) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(f.done)
			f.mu.Lock()
			for conn := range f.clients {
				conn.Close()
				delete(f.clients, conn)
			}
			f.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case c := <-f.register:
			f.mu.Lock()
			f.clients[c.conn] = c
			n := len(f.clients)
			f.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			f.logger.Info("ledger feed client connected", "partner_id", c.partnerID, "total", n)

		case conn := <-f.unregister:
			f.drop(conn)

		case msg := <-f.broadcast:
			f.mu.RLock()
			var dead []*websocket.Conn
			for conn, c := range f.clients {
				if c.partnerID != "" && c.partnerID != msg.partnerID {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					dead = append(dead, conn)
				}
			}
			f.mu.RUnlock()
			for _, conn := range dead {
				f.drop(conn)
			}
		}
	}
}

func (f *LedgerFeed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	if _, ok := f.clients[conn]; ok {
		delete(f.clients, conn)
		conn.Close()
	}
	n := len(f.clients)
	f.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

// Publish queues ev for delivery. Events are dropped when the buffer is full
// so that settlement never blocks on slow subscribers.
func (f *LedgerFeed) Publish(ev model.LedgerEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case f.broadcast <- feedMessage{partnerID: ev.PartnerID, data: data}:
	default:
		f.logger.Warn("ledger feed buffer full, event dropped", "type", ev.Type, "reference", ev.Reference)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS upgrades GET /ws for an authenticated caller. Partners receive
// only their own events. Admins receive everything, or one partner's events
// with ?partner_id=.
func (f *LedgerFeed) HandleWS(w http.ResponseWriter, r *http.Request) {
	c := claimsOf(r)
	partnerID := c.PartnerID
	switch {
	case c.Role == auth.RoleAdmin:
		partnerID = r.URL.Query().Get("partner_id")
	case partnerID == "":
		writeJSON(w, http.StatusForbidden, errorBody{Status: "error", Code: "FORBIDDEN", Message: "no partner account linked to this user"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case f.register <- &feedClient{conn: conn, partnerID: partnerID}:
	case <-f.done:
		conn.Close()
		return
	}

	// Read pump: keep the connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case f.unregister <- conn:
			case <-f.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			f.mu.RLock()
			_, ok := f.clients[conn]
			f.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()
}
