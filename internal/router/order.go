package router

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Yusufzhafir/go-matching-engine/backend/internal/router/middleware"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/usecase/order"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/websocket"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/util"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

var (
	errInvalidNumber = errors.New("Invalid number for price or quantity")
	errInvalidLevels = errors.New("levels must be between 1 and 500")
)

type OrderRouter interface {
	Add(w http.ResponseWriter, r *http.Request)
	Updates(w http.ResponseWriter, r *http.Request)
}

type orderRouterImpl struct {
	usecase order.OrderUseCase
	logger  *zap.Logger
}

func NewOrderRouter(usecase order.OrderUseCase, logger *zap.Logger) OrderRouter {
	return &orderRouterImpl{
		usecase: usecase,
		logger:  util.OrNop(logger),
	}
}

func (or *orderRouterImpl) Add(w http.ResponseWriter, r *http.Request) {
	type AddOrderRequest struct {
		Instrument string `json:"instrument"`
		Side       string `json:"side"` // BUY/SELL, BID/ASK accepted
		Price      string `json:"price"`
		Quantity   string `json:"quantity"`
	}
	type AddOrderResponse struct {
		OrderID model.OrderId `json:"orderId,omitempty"`
		Status  string        `json:"status"` // "accepted", "halted", "rejected"
		Message string        `json:"message,omitempty"`
	}

	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, nil)
		return
	}
	req, err := decodeJSON[AddOrderRequest](w, r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	side, err := model.ParseSide(req.Side)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	price, errPrice := util.ParsePositiveDecimal(req.Price)
	quantity, errQty := util.ParsePositiveDecimal(req.Quantity)
	if errPrice != nil || errQty != nil {
		writeJSONError(w, http.StatusBadRequest, errInvalidNumber)
		return
	}

	orderID, err := or.usecase.PlaceOrder(r.Context(), claims.UserId, req.Instrument, side, price, quantity)
	switch {
	case errors.Is(err, order.ErrSettlementHalted):
		writeJSON(w, http.StatusServiceUnavailable, AddOrderResponse{
			OrderID: orderID,
			Status:  "halted",
			Message: err.Error(),
		})
		return
	case err != nil:
		writeJSON(w, statusFor(err), AddOrderResponse{
			OrderID: orderID,
			Status:  "rejected",
			Message: err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, AddOrderResponse{
		OrderID: orderID,
		Status:  "accepted",
	})
}

// Updates upgrades to a websocket that streams the order's fills. Subscription failures
// are reported on the stream itself since the upgrade has already happened.
func (or *orderRouterImpl) Updates(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	orderID := model.OrderId(id)

	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	stream, err := websocket.UpgradeOrderStream(w, r, orderID, or.logger)
	if err != nil {
		or.logger.Debug("order_stream_upgrade_failed", zap.Error(err))
		return
	}
	if !or.usecase.SubscribeOrderUpdates(r.Context(), orderID, since, stream) {
		stream.Fail(fmt.Errorf("couldn't subscribe to updates for order: %d", orderID))
	}
}

// parseSince accepts RFC3339 or unix milliseconds; empty means the full history.
func parseSince(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("invalid since %q: expected RFC3339 or unix milliseconds", v)
	}
	return &t, nil
}
