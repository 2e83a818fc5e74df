// Package mq publishes settlement events for catalog and notification consumers.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"agrimart/models"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types emitted by the core.
const (
	OrderCreated             = "order.created"
	OrderStatusChanged       = "order.status_changed"
	OrderCancelled           = "order.cancelled"
	PaymentSucceeded         = "payment.succeeded"
	PaymentMismatch          = "payment.mismatch"
	EscrowCreated            = "escrow.created"
	EscrowReleased           = "escrow.released"
	EscrowFailed             = "escrow.failed"
	PayoutQueued             = "payout.queued"
	PayoutSent               = "payout.sent"
	PayoutFailed             = "payout.failed"
	ShipmentStatusChanged    = "shipment.status_changed"
	ShipmentLocationRecorded = "shipment.location_recorded"
)

// Emitter publishes events. Failures are reported but never roll back the
// state change that produced the event.
type Emitter interface {
	Emit(ctx context.Context, ev models.SettlementEvent) error
}

// New builds an event with the current time.
func New(typ, entityID, orderID string, data map[string]any) models.SettlementEvent {
	return models.SettlementEvent{
		Type:     typ,
		EntityID: entityID,
		OrderID:  orderID,
		Data:     data,
		At:       time.Now().UTC(),
	}
}

// Publish emits ev and logs a failure instead of returning it.
func Publish(ctx context.Context, e Emitter, logger *zap.Logger, ev models.SettlementEvent) {
	if e == nil {
		return
	}
	if err := e.Emit(ctx, ev); err != nil {
		logger.Warn("event publish failed",
			zap.String("event", ev.Type),
			zap.String("entity_id", ev.EntityID),
			zap.Error(err),
		)
	}
}

// --- Redis pub/sub ---

type RedisEmitter struct {
	conn    *redis.Client
	channel string
}

func NewRedisEmitter(conn *redis.Client, channel string) *RedisEmitter {
	return &RedisEmitter{conn: conn, channel: channel}
}

func (r *RedisEmitter) Emit(ctx context.Context, ev models.SettlementEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return r.conn.Publish(ctx, r.channel, data).Err()
}

// --- Kafka ---

type KafkaEmitter struct {
	writer *kafka.Writer
}

func NewKafkaEmitter(brokers []string, topic string) *KafkaEmitter {
	return &KafkaEmitter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Emit keys messages by order id so one order's events stay ordered.
func (k *KafkaEmitter) Emit(ctx context.Context, ev models.SettlementEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := ev.OrderID
	if key == "" {
		key = ev.EntityID
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	})
}

func (k *KafkaEmitter) Close() error {
	return k.writer.Close()
}

// --- Log only ---

type LogEmitter struct {
	logger *zap.Logger
}

func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(_ context.Context, ev models.SettlementEvent) error {
	l.logger.Info("event",
		zap.String("event", ev.Type),
		zap.String("entity_id", ev.EntityID),
		zap.String("order_id", ev.OrderID),
	)
	return nil
}

// Recorder keeps events in memory. Tests use it to assert on emissions.
type Recorder struct {
	mu     sync.Mutex
	events []models.SettlementEvent
}

func (r *Recorder) Emit(_ context.Context, ev models.SettlementEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []models.SettlementEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.SettlementEvent(nil), r.events...)
}

// Types returns the emitted event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
