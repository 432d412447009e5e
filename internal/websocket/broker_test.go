package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tradeMessage struct {
	Type  string      `json:"type"`
	Trade MarketTrade `json:"trade"`
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func marketTrade(instrument string, id model.TradeId) model.Trade {
	tr := model.NewTrade(instrument, 1, 2, model.BUY, decimal.NewFromInt(100), decimal.RequireFromString("1.5"))
	tr.ID = id
	return tr
}

func TestHubPublishesToInstrumentSubscribers(t *testing.T) {
	hub, url := startHub(t)

	btc, _, err := websocket.DefaultDialer.Dial(url+"?instruments=BTC-USD", nil)
	require.NoError(t, err)
	defer btc.Close()
	eth, _, err := websocket.DefaultDialer.Dial(url+"?instruments=ETH-USD", nil)
	require.NoError(t, err)
	defer eth.Close()

	require.Eventually(t, func() bool {
		clients, _ := hub.Stats()
		return clients == 2
	}, 2*time.Second, 5*time.Millisecond)

	hub.PublishTrade(marketTrade("BTC-USD", 1))
	hub.PublishTrade(marketTrade("BTC-USD", 2))

	for want := uint64(1); want <= 2; want++ {
		_ = btc.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := btc.ReadMessage()
		require.NoError(t, err)
		var msg tradeMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "trade", msg.Type)
		assert.Equal(t, "BTC-USD", msg.Trade.Instrument)
		assert.Equal(t, "buy", msg.Trade.Side)
		assert.Equal(t, want, msg.Trade.Seq)
		assert.True(t, msg.Trade.Qty.Equal(decimal.RequireFromString("1.5")))
	}

	_ = eth.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err = eth.ReadMessage()
	assert.Error(t, err, "other instruments receive nothing")
}

func TestHubSubscribeCommand(t *testing.T) {
	hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "instrument": "ETH-USD"}))

	// the command is processed asynchronously; publish until one arrives
	received := make(chan tradeMessage, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg tradeMessage
		if json.Unmarshal(data, &msg) == nil {
			received <- msg
		}
	}()

	deadline := time.After(2 * time.Second)
	for id := model.TradeId(1); ; id++ {
		hub.PublishTrade(marketTrade("ETH-USD", id))
		select {
		case msg := <-received:
			assert.Equal(t, "ETH-USD", msg.Trade.Instrument)
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no trade after subscribe")
		}
	}
}

func TestSequencerPerInstrument(t *testing.T) {
	var s sequencer
	assert.Equal(t, uint64(1), s.next("A"))
	assert.Equal(t, uint64(2), s.next("A"))
	assert.Equal(t, uint64(1), s.next("B"))
}
