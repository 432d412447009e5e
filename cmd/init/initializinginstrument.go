package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Yusufzhafir/go-matching-engine/backend/internal/config"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/repository"
	instrumentRepository "github.com/Yusufzhafir/go-matching-engine/backend/internal/repository/instrument"
	"github.com/Yusufzhafir/go-matching-engine/backend/internal/storage"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/util"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
)

var seedInstruments = []model.Instrument{
	{ID: "BTC-USD", Name: "Bitcoin / US Dollar", MinOrderQuantity: decimal.RequireFromString("0.0001"), MinDustQuantity: decimal.RequireFromString("0.00000001")},
	{ID: "ETH-USD", Name: "Ether / US Dollar", MinOrderQuantity: decimal.RequireFromString("0.001"), MinDustQuantity: decimal.RequireFromString("0.0000001")},
	{ID: "SOL-USD", Name: "Solana / US Dollar", MinOrderQuantity: decimal.RequireFromString("0.01"), MinDustQuantity: decimal.RequireFromString("0.000001")},
}

// Provisions the schema (Postgres) and seeds the tradable instruments.
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

	var store repository.InstrumentStore
	switch cfg.StoreDriver {
	case config.StorePebble:
		pebbleStore, err := storage.NewPebbleStore(cfg.PebblePath)
		if err != nil {
			logger.Fatal("open_pebble", zap.Error(err))
		}
		defer pebbleStore.Close()
		store = pebbleStore
	default:
		db, err := sqlx.Connect("postgres", cfg.PostgresDSN())
		if err != nil {
			logger.Fatal("connect_postgres", zap.Error(err))
		}
		defer db.Close()
		if err := repository.EnsureSchema(rootCtx, db); err != nil {
			logger.Fatal("ensure_schema", zap.Error(err))
		}
		logger.Info("schema_ready")
		store = instrumentRepository.NewInstrumentRepository(db)
	}

	for _, inst := range seedInstruments {
		if err := store.UpsertInstrument(rootCtx, inst); err != nil {
			logger.Fatal("seed_instrument", zap.String("instrument_id", inst.ID), zap.Error(err))
		}
		logger.Info("seeded_instrument", zap.String("instrument_id", inst.ID))
	}
}
