package instrument

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/util"
	"go.uber.org/zap"
)

const DefaultRefreshInterval = 15 * time.Minute

type Source interface {
	ListInstruments(ctx context.Context) ([]model.Instrument, error)
}

// Provider serves instrument metadata from an in-memory snapshot that is reloaded
// from the Source on an interval.
type Provider struct {
	source   Source
	interval time.Duration
	snapshot atomic.Pointer[map[string]model.Instrument]
	logger   *zap.Logger
}

func NewProvider(source Source, interval time.Duration, logger *zap.Logger) *Provider {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	p := &Provider{
		source:   source,
		interval: interval,
		logger:   util.OrNop(logger),
	}
	empty := make(map[string]model.Instrument)
	p.snapshot.Store(&empty)
	return p
}

// Refresh replaces the snapshot. On error the previous snapshot is kept.
func (p *Provider) Refresh(ctx context.Context) error {
	list, err := p.source.ListInstruments(ctx)
	if err != nil {
		return fmt.Errorf("list instruments: %w", err)
	}
	next := make(map[string]model.Instrument, len(list))
	for _, i := range list {
		next[i.ID] = i
	}
	p.snapshot.Store(&next)
	p.logger.Info("instruments_refreshed", zap.Int("count", len(next)))
	return nil
}

// Run refreshes on every tick until ctx is cancelled.
func (p *Provider) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				p.logger.Warn("instrument_refresh_failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Provider) Lookup(instrumentId string) (model.Instrument, bool) {
	i, ok := (*p.snapshot.Load())[instrumentId]
	return i, ok
}

// List returns all instruments sorted by id.
func (p *Provider) List() []model.Instrument {
	snap := *p.snapshot.Load()
	out := make([]model.Instrument, 0, len(snap))
	for _, i := range snap {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}
