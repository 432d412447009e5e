package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Yusufzhafir/go-matching-engine/backend/internal/config"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/engine"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/feed"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/instrument"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/propagation"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/repository"
	instrumentRepository "github.com/Yusufzhafir/go-matching-engine/backend/internal/repository/instrument"
	orderRepository "github.com/Yusufzhafir/go-matching-engine/backend/internal/repository/order"
	userRepository "github.com/Yusufzhafir/go-matching-engine/backend/internal/repository/user"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/router"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/router/middleware"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/storage"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/usecase/order"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/usecase/user"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/websocket"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
)

type stores struct {
	orders      repository.OrderStore
	trades      repository.TradeStore
	instruments repository.InstrumentStore
	users       userRepository.UserRepository
	close       func() error
}

// openStores wires the configured order/trade store. Users live in Postgres only; with the
// embedded driver they are available when DB_NAME is set.
func openStores(cfg config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.StoreDriver == config.StorePebble {
		pebbleStore, err := storage.NewPebbleStore(cfg.PebblePath)
		if err != nil {
			return nil, err
		}
		logger.Info("store_opened", zap.String("driver", cfg.StoreDriver), zap.String("path", cfg.PebblePath))
		s := &stores{
			orders:      pebbleStore,
			trades:      pebbleStore,
			instruments: pebbleStore,
			close:       pebbleStore.Close,
		}
		if cfg.DBName != "" {
			db, err := sqlx.Connect("postgres", cfg.PostgresDSN())
			if err != nil {
				_ = pebbleStore.Close()
				return nil, err
			}
			s.users = userRepository.NewUserRepository(db)
			s.close = func() error {
				return errors.Join(pebbleStore.Close(), db.Close())
			}
		}
		return s, nil
	}

	db, err := sqlx.Connect("postgres", cfg.PostgresDSN())
	if err != nil {
		return nil, err
	}
	logger.Info("store_opened", zap.String("driver", cfg.StoreDriver), zap.String("host", cfg.DBHost))
	orderRepo := orderRepository.NewOrderRepository(db)
	return &stores{
		orders:      orderRepo,
		trades:      orderRepo,
		instruments: instrumentRepository.NewInstrumentRepository(db),
		users:       userRepository.NewUserRepository(db),
		close:       db.Close,
	}, nil
}

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv("")
	if err != nil {
		panic(err)
	}
	logger, err := util.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	st, err := openStores(cfg, logger)
	if err != nil {
		logger.Fatal("open_store", zap.Error(err))
	}
	defer st.close()

	instruments := instrument.NewProvider(st.instruments, cfg.InstrumentRefreshInterval, logger)
	if err := instruments.Refresh(rootCtx); err != nil {
		logger.Fatal("load_instruments", zap.Error(err))
	}
	go instruments.Run(rootCtx)

	books, err := engine.NewRegistry(engine.RegistryOpts{
		Capacity:    cfg.BookCapacity,
		LockShards:  cfg.BookLockShards,
		Loader:      st.orders.OpenOrders,
		Instruments: instruments,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("create_registry", zap.Error(err))
	}

	propagator := propagation.New(propagation.Opts{
		Orders:            st.orders,
		Trades:            st.trades,
		KeepAliveInterval: cfg.KeepAliveInterval,
		ReplayWorkers:     int64(cfg.ReplayWorkers),
		PendingLimit:      cfg.SubscriberPendingLimit,
		StoreTimeout:      cfg.StoreTimeout,
		Logger:            logger,
	})
	go propagator.Run(rootCtx)

	hub := websocket.NewHub(logger)
	go hub.Run(rootCtx)

	orderUseCase := order.NewOrderUseCase(order.OrderUseCaseOpts{
		Books:        books,
		Orders:       st.orders,
		Trades:       st.trades,
		Instruments:  instruments,
		Propagator:   propagator,
		MatchWorkers: int64(cfg.MatchWorkers),
		StoreTimeout: cfg.StoreTimeout,
		Logger:       logger,
	})
	orderUseCase.RegisterTradeHandler(hub.PublishTrade)

	feedDone := make(chan struct{})
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := feed.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.Fatal("kafka_producer", zap.Error(err))
		}
		tradeFeed := feed.NewKafkaFeed(producer, cfg.KafkaTradeTopic, logger)
		defer tradeFeed.Close()
		go func() {
			tradeFeed.Run(rootCtx)
			close(feedDone)
		}()
		orderUseCase.RegisterTradeHandler(tradeFeed.Publish)
	} else {
		close(feedDone)
	}

	var userUseCase user.UserUseCase
	if st.users != nil {
		userUseCase = user.NewUserUseCase(user.UserUseCaseOpts{UserRepo: st.users})
	} else {
		logger.Warn("user_store_unconfigured")
		userUseCase = user.NewUserUseCase(user.UserUseCaseOpts{UserRepo: unavailableUsers{}})
	}

	handler := router.NewHandler(router.BindRouterOpts{
		OrderUseCase: orderUseCase,
		UserUseCase:  userUseCase,
		TokenMaker:   middleware.NewJWTMaker(cfg.JWTSecret),
		TokenTTL:     cfg.JWTTTL,
		Hub:          hub,
		Logger:       logger,
	})
	logger.Info("finished_binding_router")

	server := http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}

	go func() {
		logger.Info("http_server_listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen_error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutdown_signal_received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful_shutdown_failed", zap.Error(err))
		_ = server.Close()
	}
	select {
	case <-feedDone:
	case <-shutdownCtx.Done():
	}

	logger.Info("server_stopped")
}
