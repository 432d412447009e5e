package router

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/Yusufzhafir/go-matching-engine/backend/internal/router/middleware"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/usecase/order"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/usecase/user"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/websocket"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/util"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const defaultTokenTTL = 24 * time.Hour

type statusWriter struct {
	http.ResponseWriter
	status int
	n      int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.n += n
	return n, err
}

// Hijack lets websocket upgrades pass through the logging middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func logging(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(sw, r)
			logger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Int("bytes", sw.n),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// Cors allows any origin to call the API with bearer tokens; no cookies are used.
func Cors(next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowOriginFunc:  func(string) bool { return true },
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           86400,
	}).Handler(next)
}

func bindInstrument(api *mux.Router, orderUsecase order.OrderUseCase) {
	instrumentRouter := NewInstrumentRouter(orderUsecase)
	api.HandleFunc("/instrument", instrumentRouter.List).Methods(http.MethodGet)
	api.HandleFunc("/instrument/{id}/depth", instrumentRouter.Depth).Methods(http.MethodGet)
}

func bindOrder(api *mux.Router, usecase order.OrderUseCase, auth mux.MiddlewareFunc, logger *zap.Logger) {
	orderRouter := NewOrderRouter(usecase, logger)
	api.Handle("/order", auth(http.HandlerFunc(orderRouter.Add))).Methods(http.MethodPost)
	api.Handle("/order/{id:[0-9]+}/updates", auth(http.HandlerFunc(orderRouter.Updates))).Methods(http.MethodGet)
}

func bindUser(api *mux.Router, usecase user.UserUseCase, orderUsecase order.OrderUseCase, tokenMaker *middleware.JWTMaker, auth mux.MiddlewareFunc, ttl time.Duration) {
	userRouter := NewUserRouter(usecase, orderUsecase, tokenMaker, ttl)
	api.Handle("/user/", auth(http.HandlerFunc(userRouter.GetUser))).Methods(http.MethodGet)
	api.Handle("/user/order-list", auth(http.HandlerFunc(userRouter.GetUserOrderList))).Methods(http.MethodGet)
	api.HandleFunc("/user/register", userRouter.RegisterUser).Methods(http.MethodPost)
	api.HandleFunc("/user/login", userRouter.LoginUser).Methods(http.MethodPost)
}

type BindRouterOpts struct {
	Router       *mux.Router
	OrderUseCase order.OrderUseCase
	UserUseCase  user.UserUseCase
	TokenMaker   *middleware.JWTMaker
	TokenTTL     time.Duration
	Hub          *websocket.Hub
	Logger       *zap.Logger
}

func BindRouter(opts BindRouterOpts) {
	logger := util.OrNop(opts.Logger)
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	r := opts.Router
	r.Use(logging(logger))

	auth := mux.MiddlewareFunc(middleware.AuthMiddleware(opts.TokenMaker))
	api := r.PathPrefix("/api/v1").Subrouter()
	bindOrder(api, opts.OrderUseCase, auth, logger)
	bindUser(api, opts.UserUseCase, opts.OrderUseCase, opts.TokenMaker, auth, opts.TokenTTL)
	bindInstrument(api, opts.OrderUseCase)

	if opts.Hub != nil {
		r.HandleFunc("/ws/market", func(w http.ResponseWriter, req *http.Request) {
			websocket.ServeWS(opts.Hub, w, req)
		}).Methods(http.MethodGet)
	}

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": 200,
			"health": "healthy",
		})
	}).Methods(http.MethodGet)
}

// NewHandler builds the full HTTP handler: routes, access logging and CORS.
func NewHandler(opts BindRouterOpts) http.Handler {
	if opts.Router == nil {
		opts.Router = mux.NewRouter()
	}
	BindRouter(opts)
	return Cors(opts.Router)
}
