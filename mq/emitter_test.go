package mq

import (
	"context"
	"errors"
	"testing"

	"agrimart/models"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type failing struct{}

func (failing) Emit(context.Context, models.SettlementEvent) error {
	return errors.New("broker down")
}

func TestPublishSwallowsFailures(t *testing.T) {
	logger := zaptest.NewLogger(t)
	assert.NotPanics(t, func() {
		Publish(context.Background(), failing{}, logger, New(PayoutSent, "p1", "o1", nil))
		Publish(context.Background(), nil, logger, New(PayoutSent, "p1", "o1", nil))
	})
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	Publish(context.Background(), rec, zaptest.NewLogger(t), New(OrderCreated, "o1", "o1", map[string]any{"total": 10}))
	Publish(context.Background(), rec, zaptest.NewLogger(t), New(PaymentSucceeded, "ref", "o1", nil))
	assert.Equal(t, []string{OrderCreated, PaymentSucceeded}, rec.Types())
	assert.Equal(t, "o1", rec.Events()[0].OrderID)
}
