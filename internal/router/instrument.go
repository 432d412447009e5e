package router

import (
	"net/http"
	"strconv"

	"github.com/Yusufzhafir/go-matching-engine/backend/internal/usecase/order"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/gorilla/mux"
)

const maxDepthLevels = 500

type InstrumentRouter interface {
	List(w http.ResponseWriter, r *http.Request)
	Depth(w http.ResponseWriter, r *http.Request)
}

type instrumentRouterImpl struct {
	usecase order.OrderUseCase
}

func NewInstrumentRouter(usecase order.OrderUseCase) InstrumentRouter {
	return &instrumentRouterImpl{usecase: usecase}
}

func (ir *instrumentRouterImpl) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ir.usecase.ListInstruments(r.Context()))
}

// GET /api/v1/instrument/{id}/depth?levels=N
func (ir *instrumentRouterImpl) Depth(w http.ResponseWriter, r *http.Request) {
	type DepthResponse struct {
		*model.MarketDepth
		Top *model.TopOfBook `json:"top"`
	}
	instrumentID := mux.Vars(r)["id"]

	levels := 10
	if v := r.URL.Query().Get("levels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxDepthLevels {
			writeJSONError(w, http.StatusBadRequest, errInvalidLevels)
			return
		}
		levels = n
	}

	depth, err := ir.usecase.GetMarketDepth(r.Context(), instrumentID, levels)
	if err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}
	top, err := ir.usecase.GetTopOfBook(r.Context(), instrumentID)
	if err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, DepthResponse{MarketDepth: depth, Top: top})
}
