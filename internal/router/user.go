package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Yusufzhafir/go-matching-engine/backend/internal/router/middleware"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/usecase/order"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/usecase/user"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/shopspring/decimal"
)

type UserRouter interface {
	GetUser(w http.ResponseWriter, r *http.Request)
	GetUserOrderList(w http.ResponseWriter, r *http.Request)
	RegisterUser(w http.ResponseWriter, r *http.Request)
	LoginUser(w http.ResponseWriter, r *http.Request)
}

type userRouterImpl struct {
	usecase      user.UserUseCase
	orderUsecase order.OrderUseCase
	tokenMaker   *middleware.JWTMaker
	tokenTTL     time.Duration
}

func NewUserRouter(usecase user.UserUseCase, orderUsecase order.OrderUseCase, tokenMaker *middleware.JWTMaker, tokenTTL time.Duration) UserRouter {
	return &userRouterImpl{
		usecase:      usecase,
		orderUsecase: orderUsecase,
		tokenMaker:   tokenMaker,
		tokenTTL:     tokenTTL,
	}
}

type orderView struct {
	ID           model.OrderId   `json:"id"`
	InstrumentID string          `json:"instrument"`
	Side         model.Side      `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Filled       decimal.Decimal `json:"filled"`
	Complete     bool            `json:"complete"`
}

func (ur *userRouterImpl) GetUser(w http.ResponseWriter, r *http.Request) {
	type UserResponse struct {
		Id        string    `json:"id"`
		CreatedAt time.Time `json:"created_at"`
		Username  string    `json:"username"`
	}
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, nil)
		return
	}

	profile, err := ur.usecase.GetProfile(r.Context(), claims.UserId)
	if err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{
		Id:        fmt.Sprintf("%d", profile.ID),
		CreatedAt: profile.CreatedAt,
		Username:  profile.Username,
	})
}

func (ur *userRouterImpl) GetUserOrderList(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, nil)
		return
	}
	orders, err := ur.orderUsecase.ListOrdersByUser(r.Context(), claims.UserId)
	if err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderView{
			ID:           o.GetId(),
			InstrumentID: o.GetInstrumentId(),
			Side:         o.GetSide(),
			Price:        o.GetPrice(),
			Quantity:     o.GetTotalQuantity(),
			Filled:       o.GetFilledQuantity(),
			Complete:     o.IsFilled(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (ur *userRouterImpl) RegisterUser(w http.ResponseWriter, r *http.Request) {
	type RegisterRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	type UserResponse struct {
		Id       string `json:"id"`
		Username string `json:"username"`
	}
	req, err := decodeJSON[RegisterRequest](w, r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	userId, err := ur.usecase.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, UserResponse{
		Id:       fmt.Sprintf("%d", userId),
		Username: req.Username,
	})
}

func (ur *userRouterImpl) LoginUser(w http.ResponseWriter, r *http.Request) {
	type LoginReq struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	type LoginRes struct {
		Token     string    `json:"token"`
		Id        string    `json:"id"`
		Username  string    `json:"username"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	req, err := decodeJSON[LoginReq](w, r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	u, err := ur.usecase.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}

	newToken, newClaim, err := ur.tokenMaker.CreateToken(u.ID, u.Username, ur.tokenTTL)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginRes{
		Token:     newToken,
		Id:        newClaim.ID,
		Username:  u.Username,
		ExpiresAt: newClaim.ExpiresAt.Time,
	})
}
