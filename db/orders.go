package db

import (
	"context"
	"fmt"

	"agrimart/models"
	"agrimart/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (m *Mongo) CreateOrder(ctx context.Context, order models.Order, items []models.OrderItem) error {
	_, err := m.inTxn(ctx, func(sc mongo.SessionContext) (bool, error) {
		if _, err := m.orders.InsertOne(sc, order); err != nil {
			return false, err
		}
		if len(items) == 0 {
			return true, nil
		}
		docs := make([]interface{}, len(items))
		for i, it := range items {
			docs[i] = it
		}
		if _, err := m.items.InsertMany(sc, docs); err != nil {
			return false, err
		}
		return true, nil
	})
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return err
}

func (m *Mongo) GetOrder(ctx context.Context, id string) (models.Order, error) {
	var o models.Order
	err := findOne(ctx, m.orders, bson.M{"_id": id}, &o)
	return o, err
}

func (m *Mongo) ListOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	return findAll[models.OrderItem](ctx, m.items, bson.M{"orderId": orderID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}))
}

func (m *Mongo) SetOrderStatus(ctx context.Context, id string, from, to models.OrderStatus) (bool, error) {
	res, err := m.orders.UpdateOne(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to, "updatedAt": m.now()}},
	)
	if err != nil {
		return false, err
	}
	return m.matchedOrder(ctx, id, res)
}

func (m *Mongo) SetOrderPaymentStatus(ctx context.Context, id string, from []models.PaymentStatus, to models.PaymentStatus) (bool, error) {
	res, err := m.orders.UpdateOne(ctx,
		bson.M{"_id": id, "paymentStatus": bson.M{"$in": from}},
		bson.M{"$set": bson.M{"paymentStatus": to, "updatedAt": m.now()}},
	)
	if err != nil {
		return false, err
	}
	return m.matchedOrder(ctx, id, res)
}

func (m *Mongo) matchedOrder(ctx context.Context, id string, res *mongo.UpdateResult) (bool, error) {
	if res.MatchedCount == 1 {
		return true, nil
	}
	found, err := exists(ctx, m.orders, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	if !found {
		return false, store.ErrNotFound
	}
	return false, nil
}

// --- Payments ---

func (m *Mongo) CreatePayment(ctx context.Context, p models.Payment) error {
	_, err := m.payments.InsertOne(ctx, p)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return err
}

func (m *Mongo) GetPaymentByReference(ctx context.Context, reference string) (models.Payment, error) {
	var p models.Payment
	err := findOne(ctx, m.payments, bson.M{"reference": reference}, &p)
	return p, err
}

func (m *Mongo) ListPaymentsForOrder(ctx context.Context, orderID string) ([]models.Payment, error) {
	return findAll[models.Payment](ctx, m.payments, bson.M{"orderId": orderID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
}

// paymentTransition builds the update for a payment status change.
func paymentTransition(to models.PaymentState, upd store.PaymentUpdate, now interface{}) bson.M {
	set := bson.M{"status": to, "failureReason": upd.FailureReason, "updatedAt": now}
	if upd.PaidAt != nil {
		set["paidAt"] = *upd.PaidAt
	}
	update := bson.M{"$set": set}
	if upd.Audit != nil {
		update["$push"] = bson.M{"gatewayResponses": *upd.Audit}
	}
	return update
}

func (m *Mongo) TransitionPayment(ctx context.Context, reference string, from, to models.PaymentState, upd store.PaymentUpdate) (bool, error) {
	res, err := m.payments.UpdateOne(ctx,
		bson.M{"reference": reference, "status": from},
		paymentTransition(to, upd, m.now()),
	)
	if err != nil {
		return false, fmt.Errorf("transition payment: %w", err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	ok, err := exists(ctx, m.payments, bson.M{"reference": reference})
	if err != nil {
		return false, err
	}
	if !ok {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (m *Mongo) AppendPaymentAudit(ctx context.Context, reference string, audit models.GatewayAudit) error {
	res, err := m.payments.UpdateOne(ctx,
		bson.M{"reference": reference},
		bson.M{"$push": bson.M{"gatewayResponses": audit}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
