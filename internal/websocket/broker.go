package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/util"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	writeWait           = 10 * time.Second
	pongWait            = 60 * time.Second
	pingPeriod          = (pongWait * 9) / 10
	maxMessageSize      = 512 * 1024 // 512 KB
	defaultSendBuf      = 256
	defaultPublishBuf   = 4096
	maxConsecutiveDrops = 50
)

// MarketTrade is the public payload for a settled trade. Order ids are not exposed.
type MarketTrade struct {
	Instrument string          `json:"instrument"`
	TradeID    model.TradeId   `json:"tradeId"`
	Price      decimal.Decimal `json:"price"`
	Qty        decimal.Decimal `json:"qty"`
	Side       string          `json:"side"` // taker side, "buy" / "sell"
	Ts         int64           `json:"ts"`   // unix ms
	Seq        uint64          `json:"seq,omitempty"`
}

func newMarketTrade(t model.Trade) MarketTrade {
	return MarketTrade{
		Instrument: t.InstrumentID,
		TradeID:    t.ID,
		Price:      t.Price,
		Qty:        t.Quantity,
		Side:       strings.ToLower(t.TakerSide.String()),
		Ts:         t.Timestamp.UnixMilli(),
	}
}

type publishMsg struct {
	Topic string
	Data  []byte
}

type subscription struct {
	client *Client
	topic  string
}

// Hub fans public trades out to clients subscribed per instrument.
type Hub struct {
	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan publishMsg
	done        chan struct{}

	clients map[*Client]struct{}
	topics  map[string]map[*Client]struct{}

	sendBuf int
	seq     sequencer

	clientCount  atomic.Int64
	publishDrops atomic.Uint64

	logger *zap.Logger
}

type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subscribed map[string]struct{}

	// consecutive drops; the client is evicted past maxConsecutiveDrops
	drops atomic.Int32
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan publishMsg, defaultPublishBuf),
		done:        make(chan struct{}),
		clients:     make(map[*Client]struct{}),
		topics:      make(map[string]map[*Client]struct{}),
		sendBuf:     defaultSendBuf,
		logger:      util.OrNop(logger),
	}
}

// Run runs the hub event loop until ctx is cancelled. Call as: go hub.Run(ctx).
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.logger.Info("ws_hub_started")
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.clientCount.Store(int64(len(h.clients)))
			for t := range c.subscribed {
				h.addTopic(c, t)
			}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case sub := <-h.subscribe:
			if _, ok := h.clients[sub.client]; ok {
				h.addTopic(sub.client, sub.topic)
				sub.client.subscribed[sub.topic] = struct{}{}
			}

		case sub := <-h.unsubscribe:
			h.removeTopic(sub.client, sub.topic)
			delete(sub.client.subscribed, sub.topic)

		case p := <-h.publish:
			targets := h.clients
			if p.Topic != "" {
				targets = h.topics[p.Topic]
			}
			for c := range targets {
				h.deliver(c, p.Data)
			}

		case <-ctx.Done():
			h.logger.Info("ws_hub_shutting_down", zap.Int("clients", len(h.clients)))
			for c := range h.clients {
				h.drop(c)
				_ = c.conn.Close()
			}
			return
		}
	}
}

func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.publishDrops.Add(1)
		if n := c.drops.Add(1); n > maxConsecutiveDrops {
			h.logger.Warn("evicting_slow_client",
				zap.String("client_id", c.id),
				zap.Int32("drops", n),
			)
			h.drop(c)
			_ = c.conn.Close()
		}
	}
}

func (h *Hub) addTopic(c *Client, topic string) {
	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[*Client]struct{})
		h.topics[topic] = subs
	}
	subs[c] = struct{}{}
}

func (h *Hub) removeTopic(c *Client, topic string) {
	if subs := h.topics[topic]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// drop forgets the client and closes its send channel; only called from Run.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	for t := range c.subscribed {
		h.removeTopic(c, t)
	}
	close(c.send)
	h.clientCount.Store(int64(len(h.clients)))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin policy is enforced by the CORS layer
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and registers a market data client.
// Initial instruments can be passed as ?instruments=BTC-USD,ETH-USD
func ServeWS(h *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("ws_upgrade_failed", zap.Error(err))
		return
	}

	client := &Client{
		id:         uuid.NewString(),
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, h.sendBuf),
		subscribed: make(map[string]struct{}),
	}
	for _, inst := range splitList(r.URL.Query().Get("instruments")) {
		client.subscribed[inst] = struct{}{}
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}
	h.logger.Debug("ws_client_connected",
		zap.String("client_id", client.id),
		zap.Int("instruments", len(client.subscribed)),
	)

	go client.writePump()
	go client.readPump()
}

// enqueueClient hands a client to the hub loop unless it has stopped.
func (h *Hub) enqueueClient(ch chan *Client, c *Client) {
	select {
	case ch <- c:
	case <-h.done:
	}
}

func (h *Hub) enqueueSub(ch chan subscription, sub subscription) {
	select {
	case ch <- sub:
	case <-h.done:
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// readPump turns client commands into subscribe/unsubscribe requests.
func (c *Client) readPump() {
	defer func() {
		c.hub.enqueueClient(c.hub.unregister, c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			) {
				c.hub.logger.Debug("ws_read_error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}

		c.drops.Store(0)

		var cmd struct {
			Type       string `json:"type"`       // "subscribe" | "unsubscribe"
			Instrument string `json:"instrument"` // e.g. "BTC-USD"
		}
		if err := json.Unmarshal(message, &cmd); err != nil || cmd.Instrument == "" {
			continue
		}

		sub := subscription{client: c, topic: cmd.Instrument}
		switch cmd.Type {
		case "subscribe":
			c.hub.enqueueSub(c.hub.subscribe, sub)
		case "unsubscribe":
			c.hub.enqueueSub(c.hub.unsubscribe, sub)
		}
	}
}

// writePump serializes all writes to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// PublishTrade publishes a settled trade to subscribers of its instrument.
// Non-blocking: if the hub publish buffer is full, the trade is dropped.
func (h *Hub) PublishTrade(t model.Trade) {
	mt := newMarketTrade(t)
	mt.Seq = h.seq.next(mt.Instrument)
	payload := struct {
		Type  string      `json:"type"`
		Trade MarketTrade `json:"trade"`
	}{"trade", mt}
	b, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal_trade", zap.Error(err))
		return
	}

	select {
	case h.publish <- publishMsg{Topic: mt.Instrument, Data: b}:
	default:
		h.publishDrops.Add(1)
		h.logger.Warn("publish_channel_full", zap.Uint64("trade_id", uint64(t.ID)))
	}
}

// Stats returns the connected client count and publish drops.
func (h *Hub) Stats() (clients int, drops uint64) {
	return int(h.clientCount.Load()), h.publishDrops.Load()
}
