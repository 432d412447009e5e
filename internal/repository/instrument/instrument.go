package instrument

import (
	"context"
	"fmt"

	"github.com/Yusufzhafir/go-matching-engine/backend/internal/repository"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/jmoiron/sqlx"
)

type instrumentRepositoryImpl struct {
	db *sqlx.DB
}

func NewInstrumentRepository(db *sqlx.DB) repository.InstrumentStore {
	return &instrumentRepositoryImpl{db: db}
}

func (r *instrumentRepositoryImpl) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	var out []model.Instrument
	err := r.db.SelectContext(ctx, &out,
		`SELECT instrument_id, name, min_order_quantity, min_dust_quantity FROM instruments ORDER BY instrument_id`)
	if err != nil {
		return nil, fmt.Errorf("select instruments: %w", err)
	}
	return out, nil
}

func (r *instrumentRepositoryImpl) UpsertInstrument(ctx context.Context, i model.Instrument) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO instruments (instrument_id, name, min_order_quantity, min_dust_quantity)
         VALUES (:instrument_id, :name, :min_order_quantity, :min_dust_quantity)
         ON CONFLICT (instrument_id) DO UPDATE
         SET name = EXCLUDED.name,
             min_order_quantity = EXCLUDED.min_order_quantity,
             min_dust_quantity = EXCLUDED.min_dust_quantity`,
		i)
	if err != nil {
		return fmt.Errorf("upsert instrument %s: %w", i.ID, err)
	}
	return nil
}
