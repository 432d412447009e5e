package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/IBM/sarama"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/util"
	"go.uber.org/zap"
)

const defaultFeedBuf = 4096

// tradeEvent is the record published for each settled trade.
type tradeEvent struct {
	V     int         `json:"v"`
	Type  string      `json:"type"`
	Trade model.Trade `json:"trade"`
}

// NewProducer creates a SyncProducer that waits for every in-sync replica.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	// trades of one instrument land on one partition
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaFeed publishes settled trades to a topic keyed by instrument.
// Publish never blocks the matching path: trades go through a buffer drained by Run.
type KafkaFeed struct {
	producer sarama.SyncProducer
	topic    string
	buf      chan model.Trade
	drops    atomic.Uint64
	logger   *zap.Logger
}

func NewKafkaFeed(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaFeed {
	return &KafkaFeed{
		producer: producer,
		topic:    topic,
		buf:      make(chan model.Trade, defaultFeedBuf),
		logger:   util.OrNop(logger),
	}
}

// Publish queues the trade, dropping it when the buffer is full.
func (f *KafkaFeed) Publish(trade model.Trade) {
	select {
	case f.buf <- trade:
	default:
		f.drops.Add(1)
		f.logger.Warn("trade_feed_full", zap.Uint64("trade_id", uint64(trade.ID)))
	}
}

// Run sends queued trades until ctx is cancelled, then flushes what is left.
// Call as: go feed.Run(ctx).
func (f *KafkaFeed) Run(ctx context.Context) {
	f.logger.Info("trade_feed_started", zap.String("topic", f.topic))
	for {
		select {
		case t := <-f.buf:
			f.send(t)
		case <-ctx.Done():
			for {
				select {
				case t := <-f.buf:
					f.send(t)
				default:
					f.logger.Info("trade_feed_stopped", zap.Uint64("dropped", f.drops.Load()))
					return
				}
			}
		}
	}
}

func (f *KafkaFeed) send(t model.Trade) {
	data, err := json.Marshal(tradeEvent{V: 1, Type: "trade", Trade: t})
	if err != nil {
		f.logger.Error("trade_feed_encode", zap.Error(err))
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: f.topic,
		Key:   sarama.StringEncoder(t.InstrumentID),
		Value: sarama.ByteEncoder(data),
	}
	partition, offset, err := f.producer.SendMessage(msg)
	if err != nil {
		f.drops.Add(1)
		f.logger.Warn("trade_feed_send_failed",
			zap.Uint64("trade_id", uint64(t.ID)),
			zap.Error(err),
		)
		return
	}
	f.logger.Debug("trade_published",
		zap.Uint64("trade_id", uint64(t.ID)),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
}

// Dropped returns the number of trades that were not delivered.
func (f *KafkaFeed) Dropped() uint64 {
	return f.drops.Load()
}

func (f *KafkaFeed) Close() error {
	return f.producer.Close()
}
